package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"estate-notifier/pkg/estate"
)

// config is read once at startup and never mutated.
type config struct {
	LogLevel slog.Level
	Port     string

	// Storage: DatabaseURL wins, then Bucket, then LocalStorage.
	DatabaseURL  string
	Bucket       string
	LocalStorage string

	EstitorURL   string
	RealiticaURL string

	Workers         int
	MaxPages        int
	FetchTimeout    time.Duration
	FetchRPS        float64
	PageAttempts    uint // Tries per search page
	ListingAttempts uint // Tries per listing page
	RetryDelay      time.Duration

	TimeZone       string
	CrawlSchedule  string
	SweepSchedule  string
	DigestSchedule string
	DigestWindow   time.Duration

	SubscriptionsFile string

	TelegramToken     string
	TelegramAPI       string
	TelegramResponder bool

	EmailProvider         string // "gmail", "brevo", "mock" or empty for none
	GoogleCredentialsJSON string
	BrevoAPIKey           string
	MailFrom              string
	MailFromName          string

	WhatsAppToken   string
	WhatsAppPhoneID string
}

// env reads typed environment variables and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) String(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) Int(key string, def int) int {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) Float(key string, def float64) float64 {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) Duration(key string, def time.Duration) time.Duration {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) Bool(key string, def bool) bool {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *env) Level(key string, def slog.Level) slog.Level {
	v := e.String(key, "")
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return l
}

// loadConfig reads .env (when present) and the process environment.
func loadConfig() (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parseConfig(os.LookupEnv)
}

func parseConfig(lookup func(string) (string, bool)) (*config, error) {
	e := &env{lookup: lookup}
	cfg := &config{
		LogLevel: e.Level("LOG_LEVEL", slog.LevelInfo),
		Port:     e.String("PORT", "8080"),

		DatabaseURL:  e.String("DATABASE_URL", ""),
		Bucket:       e.String("STORAGE_BUCKET", ""),
		LocalStorage: e.String("LOCAL_STORAGE", "./data"),

		EstitorURL:   strings.TrimSuffix(e.String("ESTITOR_URL", "https://estitor.com"), "/"),
		RealiticaURL: strings.TrimSuffix(e.String("REALITICA_URL", "https://www.realitica.com"), "/"),

		Workers:         e.Int("CRAWL_WORKERS", 4),
		MaxPages:        e.Int("CRAWL_MAX_PAGES", 1000),
		FetchTimeout:    e.Duration("FETCH_TIMEOUT", 30*time.Second),
		FetchRPS:        e.Float("FETCH_RPS", 2),
		PageAttempts:    uint(max(e.Int("FETCH_PAGE_ATTEMPTS", 10), 1)),
		ListingAttempts: uint(max(e.Int("FETCH_LISTING_ATTEMPTS", 2), 1)),
		RetryDelay:      e.Duration("FETCH_RETRY_DELAY", time.Second),

		TimeZone:       e.String("TZ_SCHEDULE", "Europe/Podgorica"),
		CrawlSchedule:  e.String("CRAWL_SCHEDULE", "0 21 * * *"),
		SweepSchedule:  e.String("SWEEP_SCHEDULE", "0 18 * * 0"),
		DigestSchedule: e.String("DIGEST_SCHEDULE", "0 6 * * *"),
		DigestWindow:   e.Duration("DIGEST_WINDOW", 24*time.Hour),

		SubscriptionsFile: e.String("SUBSCRIPTIONS_FILE", "subscriptions.yaml"),

		TelegramToken:     e.String("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPI:       e.String("TELEGRAM_API_ENDPOINT", ""),
		TelegramResponder: e.Bool("TELEGRAM_RESPONDER", true),

		EmailProvider:         strings.ToLower(e.String("EMAIL_PROVIDER", "")),
		GoogleCredentialsJSON: e.String("GOOGLE_CREDENTIALS_JSON", ""),
		BrevoAPIKey:           e.String("BREVO_API_KEY", ""),
		MailFrom:              e.String("MAIL_FROM", ""),
		MailFromName:          e.String("MAIL_FROM_NAME", "Estate Notifier"),

		WhatsAppToken:   e.String("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneID: e.String("WHATSAPP_PHONE_ID", ""),
	}

	switch cfg.EmailProvider {
	case "", "gmail", "mock":
	case "brevo":
		if cfg.BrevoAPIKey == "" || cfg.MailFrom == "" {
			e.errs = append(e.errs, errors.New("EMAIL_PROVIDER=brevo requires BREVO_API_KEY and MAIL_FROM"))
		}
	default:
		e.errs = append(e.errs, fmt.Errorf("EMAIL_PROVIDER: unknown provider %q", cfg.EmailProvider))
	}
	if cfg.Workers < 1 {
		e.errs = append(e.errs, fmt.Errorf("CRAWL_WORKERS must be positive, got %d", cfg.Workers))
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type subscriptionsFile struct {
	Subscriptions []estate.Subscription `yaml:"subscriptions"`
}

// loadSubscriptions reads the subscriber rules. A missing file means no subscribers.
func loadSubscriptions(path string, logger *slog.Logger) ([]estate.Subscription, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Subscriptions file not found, digests disabled", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	return parseSubscriptions(data)
}

func parseSubscriptions(data []byte) ([]estate.Subscription, error) {
	var f subscriptionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	for i, sub := range f.Subscriptions {
		for _, t := range sub.Types {
			if !t.Valid() {
				return nil, fmt.Errorf("subscription %d (%s): unknown type %q", i, sub.Name, t)
			}
		}
		if sub.Name == "" {
			f.Subscriptions[i].Name = fmt.Sprintf("subscription-%d", i+1)
		}
	}
	return f.Subscriptions, nil
}
