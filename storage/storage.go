// Package storage handles persistence of listings.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"estate-notifier/pkg/estate"
)

const objectPrefix = "listing-"

// Store keeps one JSON object per listing, in a Cloud Storage bucket or a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	now       func() time.Time
	localPath string
	bucket    string
}

// New creates a new storage handler. A non-empty localPath takes precedence over the bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		now:       time.Now,
		localPath: localPath,
		bucket:    bucket,
	}
}

// ObjectKey generates a stable object name for a listing key.
// Returns "" when either part contains characters unsafe for a file name.
func ObjectKey(key estate.Key) string {
	if !safeName(key.SourceCode) || !safeName(key.SourceID) {
		return ""
	}
	return fmt.Sprintf("%s%s-%s.json", objectPrefix, key.SourceCode, key.SourceID)
}

func safeName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, c := range s {
		isSafe := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		if !isSafe {
			return false
		}
	}
	return true
}

func (s *Store) retryOptions(ctx context.Context, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", retryErr)
		}),
	}
}

// FindByKey loads a listing. It returns nil and no error when the listing does not exist.
func (s *Store) FindByKey(ctx context.Context, key estate.Key) (*estate.Listing, error) {
	name := ObjectKey(key)
	if name == "" {
		return nil, fmt.Errorf("invalid listing key %q", key)
	}
	l, err := s.load(ctx, name)
	if errors.Is(err, errNotExist) {
		return nil, nil
	}
	return l, err
}

// Save writes a listing, setting CreatedAt on first save and UpdatedAt on every save.
func (s *Store) Save(ctx context.Context, l *estate.Listing) (*estate.Listing, error) {
	name := ObjectKey(l.Key())
	if name == "" {
		return nil, fmt.Errorf("invalid listing key %q", l.Key())
	}

	saved := *l
	now := s.now().UTC()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now

	data, err := json.MarshalIndent(&saved, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal listing: %w", err)
	}

	if s.localPath != "" {
		if err := writeFileAtomic(filepath.Join(s.localPath, name), data); err != nil {
			return nil, fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Listing saved to local storage", "key", name)
		return &saved, nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		s.retryOptions(ctx, "save", name)...,
	)
	if err != nil {
		return nil, fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("Listing saved", "key", name)
	return &saved, nil
}

// writeFileAtomic writes through a temp file so readers never see a partial listing.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var errNotExist = errors.New("storage: object doesn't exist")

func (s *Store) load(ctx context.Context, name string) (*estate.Listing, error) {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(errNotExist)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			s.retryOptions(ctx, "load", name)...,
		)
		if errors.Is(err, errNotExist) {
			return nil, errNotExist
		}
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
	}

	var l estate.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("unmarshal listing %s: %w", name, err)
	}
	return &l, nil
}

// FindAll loads every stored listing. Unreadable objects are logged and skipped.
func (s *Store) FindAll(ctx context.Context) ([]*estate.Listing, error) {
	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]*estate.Listing, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := s.load(ctx, name)
		if errors.Is(err, errNotExist) {
			continue // deleted while listing
		}
		if err != nil {
			s.logger.Warn("Failed to load listing", "key", name, "error", err)
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (s *Store) names(ctx context.Context) ([]string, error) {
	var names []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), objectPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			names = append(names, entry.Name())
		}
		return names, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: objectPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// FindUpdatedSince returns listings saved at or after since.
func (s *Store) FindUpdatedSince(ctx context.Context, since time.Time) ([]*estate.Listing, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*estate.Listing
	for _, l := range all {
		if !l.UpdatedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

// FindByTypes returns listings of any of the given types.
func (s *Store) FindByTypes(ctx context.Context, types []estate.Type) ([]*estate.Listing, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[estate.Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*estate.Listing
	for _, l := range all {
		if want[l.Type] {
			out = append(out, l)
		}
	}
	return out, nil
}

// DeleteAll removes the listings with the given keys. Missing listings are ignored.
func (s *Store) DeleteAll(ctx context.Context, keys []estate.Key) error {
	var errs []error
	for _, key := range keys {
		name := ObjectKey(key)
		if name == "" {
			errs = append(errs, fmt.Errorf("invalid listing key %q", key))
			continue
		}
		if err := s.delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("Listings deleted", "count", len(keys))
	return nil
}

func (s *Store) delete(ctx context.Context, name string) error {
	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(name).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		s.retryOptions(ctx, "delete", name)...,
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}
