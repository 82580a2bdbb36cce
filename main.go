// Command estate-notifier crawls real estate sites, keeps a deduplicated store of listings
// and sends subscribers a daily digest of new matches.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	gcs "cloud.google.com/go/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"estate-notifier/crawl"
	"estate-notifier/digest"
	"estate-notifier/email"
	"estate-notifier/metrics"
	"estate-notifier/notify"
	"estate-notifier/reconcile"
	"estate-notifier/schedule"
	"estate-notifier/scraper"
	"estate-notifier/server"
	"estate-notifier/source"
	"estate-notifier/storage"
	"estate-notifier/telegram"
	"estate-notifier/whatsapp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "estate-notifier",
		Short:         "Crawl real estate listings and notify subscribers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the HTTP server",
			RunE:  run(serve),
		},
		&cobra.Command{
			Use:   "crawl",
			Short: "Crawl every source once",
			RunE:  run(func(ctx context.Context, a *app) error { return a.crawl.TryRun(ctx) }),
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Re-check stale listings once",
			RunE:  run(func(ctx context.Context, a *app) error { return a.sweep.TryRun(ctx) }),
		},
		&cobra.Command{
			Use:   "digest",
			Short: "Send subscriber digests once",
			RunE:  run(func(ctx context.Context, a *app) error { return a.digest.TryRun(ctx) }),
		},
	)
	return root
}

// run wraps a command body with config loading, logging, signal handling and wiring.
func run(body func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize", "error", err)
			return err
		}
		defer a.close()

		if err := body(ctx, a); err != nil {
			logger.Error("Command failed", "command", cmd.Name(), "error", err)
			return err
		}
		return nil
	}
}

// listingStore is satisfied by both storage backends.
type listingStore interface {
	crawl.Store
	digest.Store
	server.Store
}

type app struct {
	cfg      *config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    listingStore
	bot      *tgbotapi.BotAPI
	crawl    *schedule.Job
	sweep    *schedule.Job
	digest   *schedule.Job
	closers  []func()
}

func newApp(ctx context.Context, cfg *config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	fetcher := scraper.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout}, cfg.FetchRPS, logger)
	orchestrator := crawl.New(crawl.Config{
		Collector: scraper.NewCollector(fetcher,
			scraper.RetryPolicy{Attempts: cfg.PageAttempts, Delay: cfg.RetryDelay}, cfg.MaxPages, logger),
		Extractor: scraper.NewExtractor(fetcher,
			scraper.RetryPolicy{Attempts: cfg.ListingAttempts, Delay: cfg.RetryDelay}, logger),
		Reconciler: reconcile.New(a.store, logger),
		Store:      a.store,
		Metrics:    m,
		Logger:     logger,
		Sources: []crawl.Source{
			source.NewEstitor(cfg.EstitorURL),
			source.NewRealitica(cfg.RealiticaURL, fetcher, logger),
		},
		Workers: cfg.Workers,
	})

	channels, err := a.channels(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	subs, err := loadSubscriptions(cfg.SubscriptionsFile, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	digests := digest.NewService(digest.Config{
		Store:         a.store,
		Dispatcher:    notify.New(logger, m, channels...),
		Logger:        logger,
		Subscriptions: subs,
		Window:        cfg.DigestWindow,
	})

	a.crawl = schedule.NewJob("crawl", func(ctx context.Context) error {
		orchestrator.Crawl(ctx)
		return ctx.Err()
	}, logger, m)
	a.sweep = schedule.NewJob("sweep", func(ctx context.Context) error {
		report, err := orchestrator.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("Sweep summary", "deleted", report.Deleted(), "kept", report.Kept, "refreshed", report.Refreshed, "not_refreshed", report.NotRefreshed)
		return nil
	}, logger, m)
	a.digest = schedule.NewJob("digest", func(ctx context.Context) error {
		report, err := digests.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("Digest summary", "digests", report.Digests, "sent", report.Delivered.Sent, "failed", report.Delivered.Failed)
		return nil
	}, logger, m)

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch {
	case a.cfg.DatabaseURL != "":
		pool, err := storage.Connect(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		pg := storage.NewPostgres(pool, a.logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.store = pg
		a.logger.Info("Using PostgreSQL storage")

	case a.cfg.Bucket != "":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("initialize storage client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("Failed to close storage client", "error", err)
			}
		})
		a.store = storage.New(client, a.cfg.Bucket, "", a.logger)
		a.logger.Info("Using Cloud Storage", "bucket", a.cfg.Bucket)

	default:
		if err := os.MkdirAll(a.cfg.LocalStorage, 0o755); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		a.store = storage.New(nil, "", a.cfg.LocalStorage, a.logger)
		a.logger.Info("Running with local storage", "storage_path", a.cfg.LocalStorage)
	}
	return nil
}

// channels builds every notification channel that has credentials.
func (a *app) channels(ctx context.Context) ([]notify.Channel, error) {
	var out []notify.Channel

	if a.cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(a.cfg.TelegramToken, a.cfg.TelegramAPI)
		if err != nil {
			return nil, err
		}
		a.bot = bot
		out = append(out, telegram.New(bot, a.logger))
	}

	var provider email.Provider
	switch a.cfg.EmailProvider {
	case "gmail":
		svc, err := initGmailService(ctx, a.cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("initialize Gmail service: %w", err)
		}
		provider = email.NewGmailProvider(svc, a.logger)
	case "brevo":
		provider = email.NewBrevoProvider(a.cfg.BrevoAPIKey, a.cfg.MailFrom, a.cfg.MailFromName, a.logger)
	case "mock":
		a.logger.Info("Mock email mode enabled")
		provider = email.NewMockProvider(a.logger)
	}
	if provider != nil {
		out = append(out, email.New(provider, a.logger))
	}

	if a.cfg.WhatsAppToken != "" && a.cfg.WhatsAppPhoneID != "" {
		out = append(out, whatsapp.New(a.cfg.WhatsAppToken, a.cfg.WhatsAppPhoneID, a.logger))
	}

	names := make([]string, 0, len(out))
	for _, c := range out {
		names = append(names, c.Name())
	}
	a.logger.Info("Notification channels configured", "channels", names)
	return out, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, a *app) error {
	loc, err := time.LoadLocation(a.cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("load time zone %q: %w", a.cfg.TimeZone, err)
	}
	sched := schedule.New(loc, a.logger)
	for _, e := range []struct {
		expr string
		job  *schedule.Job
	}{
		{a.cfg.CrawlSchedule, a.crawl},
		{a.cfg.SweepSchedule, a.sweep},
		{a.cfg.DigestSchedule, a.digest},
	} {
		if err := sched.Add(e.expr, e.job); err != nil {
			return err
		}
	}

	srv := server.New(&server.Config{
		Store:    a.store,
		Crawl:    a.crawl,
		Sweep:    a.sweep,
		Digest:   a.digest,
		Gatherer: a.registry,
		Logger:   a.logger,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx, a.cfg.Port)
	})
	if a.bot != nil && a.cfg.TelegramResponder {
		g.Go(func() error {
			telegram.NewResponder(a.bot, a.logger).Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// Application Default Credentials; the service account needs the gmail.send scope.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
