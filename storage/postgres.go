package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate-notifier/pkg/estate"
)

// DB is the part of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schema = `CREATE TABLE IF NOT EXISTS listings (
	source_code   TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	source_link   TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL DEFAULT '',
	price         TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	bedrooms      TEXT NOT NULL DEFAULT '',
	size          TEXT NOT NULL DEFAULT '',
	details       TEXT NOT NULL DEFAULT '',
	last_modified TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_code, source_id)
);
CREATE INDEX IF NOT EXISTS listings_updated_at_idx ON listings (updated_at);
CREATE INDEX IF NOT EXISTS listings_type_idx ON listings (type)`

const selectListings = `SELECT source_code, source_id, source_link, type, price, city, location,
	address, bedrooms, size, details, last_modified, created_at, updated_at FROM listings`

const upsertListing = `INSERT INTO listings (source_code, source_id, source_link, type, price, city, location,
	address, bedrooms, size, details, last_modified, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
ON CONFLICT (source_code, source_id) DO UPDATE SET
	source_link = EXCLUDED.source_link,
	type = EXCLUDED.type,
	price = EXCLUDED.price,
	city = EXCLUDED.city,
	location = EXCLUDED.location,
	address = EXCLUDED.address,
	bedrooms = EXCLUDED.bedrooms,
	size = EXCLUDED.size,
	details = EXCLUDED.details,
	last_modified = EXCLUDED.last_modified,
	updated_at = EXCLUDED.updated_at
RETURNING created_at, updated_at`

// PostgresStore keeps listings in a single table keyed by (source_code, source_id).
// A zero last_modified means the source reported no date.
type PostgresStore struct {
	db     DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgres creates a store over db.
func NewPostgres(db DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

// EnsureSchema creates the listings table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// FindByKey returns nil and no error when the listing does not exist.
func (s *PostgresStore) FindByKey(ctx context.Context, key estate.Key) (*estate.Listing, error) {
	row := s.db.QueryRow(ctx, selectListings+` WHERE source_code = $1 AND source_id = $2`, key.SourceCode, key.SourceID)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", key, err)
	}
	return l, nil
}

// Save upserts by key. CreatedAt survives updates.
func (s *PostgresStore) Save(ctx context.Context, l *estate.Listing) (*estate.Listing, error) {
	saved := *l
	err := s.db.QueryRow(ctx, upsertListing,
		l.SourceCode, l.SourceID, l.SourceLink, string(l.Type), l.Price, l.City, l.Location,
		l.Address, l.Bedrooms, l.Size, l.Details, l.LastModified.UTC(), s.now().UTC(),
	).Scan(&saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save listing %s: %w", l.Key(), err)
	}
	return &saved, nil
}

// FindAll returns every listing.
func (s *PostgresStore) FindAll(ctx context.Context) ([]*estate.Listing, error) {
	return s.query(ctx, selectListings)
}

// FindUpdatedSince returns listings saved at or after since.
func (s *PostgresStore) FindUpdatedSince(ctx context.Context, since time.Time) ([]*estate.Listing, error) {
	return s.query(ctx, selectListings+` WHERE updated_at >= $1`, since.UTC())
}

// FindByTypes returns listings of any of the given types.
func (s *PostgresStore) FindByTypes(ctx context.Context, types []estate.Type) ([]*estate.Listing, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return s.query(ctx, selectListings+` WHERE type = ANY($1)`, names)
}

// DeleteAll removes the listings with the given keys in one statement.
func (s *PostgresStore) DeleteAll(ctx context.Context, keys []estate.Key) error {
	if len(keys) == 0 {
		return nil
	}
	codes := make([]string, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		codes[i], ids[i] = k.SourceCode, k.SourceID
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM listings WHERE (source_code, source_id) IN (SELECT * FROM unnest($1::text[], $2::text[]))`,
		codes, ids)
	if err != nil {
		return fmt.Errorf("delete listings: %w", err)
	}
	s.logger.Info("Listings deleted", "requested", len(keys), "deleted", tag.RowsAffected())
	return nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]*estate.Listing, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []*estate.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

func scanListing(row pgx.Row) (*estate.Listing, error) {
	var l estate.Listing
	var typ string
	err := row.Scan(&l.SourceCode, &l.SourceID, &l.SourceLink, &typ, &l.Price, &l.City, &l.Location,
		&l.Address, &l.Bedrooms, &l.Size, &l.Details, &l.LastModified, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Type = estate.Type(typ)
	return &l, nil
}
