// Package postgres is the shared-deployment storage backend.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"buybox/internal/buybox"
	"buybox/internal/storage"
)

// Repo implements storage.Repository for Postgres.
//
// Upsert semantics match the SQLite and SQL Server backends: full replace on
// success, outcome-only touch on blocked/error.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS products (
	asin         TEXT PRIMARY KEY,
	url          TEXT NOT NULL DEFAULT '',
	marketplace  TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	price        DOUBLE PRECISION,
	currency     TEXT NOT NULL DEFAULT '',
	seller       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'unknown',
	outcome      TEXT NOT NULL DEFAULT '',
	last_error   TEXT NOT NULL DEFAULT '',
	rating       DOUBLE PRECISION,
	review_count INTEGER,
	availability TEXT NOT NULL DEFAULT '',
	image_url    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id         BIGSERIAL PRIMARY KEY,
	asin       TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	currency   TEXT NOT NULL DEFAULT '',
	seller     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'unknown',
	checked_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_asin ON price_history (asin, checked_at DESC);

CREATE TABLE IF NOT EXISTS scheduler_settings (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	interval_minutes INTEGER NOT NULL,
	enabled          BOOLEAN NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
`

func (r *Repo) Init(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repo) UpsertProduct(ctx context.Context, res *buybox.Result) error {
	now := normTime(res.FetchedAt)

	if res.Outcome != buybox.OutcomeSuccess {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO products (asin, url, marketplace, outcome, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (asin) DO UPDATE SET
				outcome    = EXCLUDED.outcome,
				last_error = EXCLUDED.last_error,
				updated_at = EXCLUDED.updated_at`,
			res.ASIN, res.URL, res.Marketplace, string(res.Outcome), res.Err, now)
		return err
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (asin, url, marketplace, title, price, currency, seller,
			status, outcome, last_error, rating, review_count, availability, image_url,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $11, $12, $13, $14, $14)
		ON CONFLICT (asin) DO UPDATE SET
			url          = EXCLUDED.url,
			marketplace  = EXCLUDED.marketplace,
			title        = EXCLUDED.title,
			price        = EXCLUDED.price,
			currency     = EXCLUDED.currency,
			seller       = EXCLUDED.seller,
			status       = EXCLUDED.status,
			outcome      = EXCLUDED.outcome,
			last_error   = '',
			rating       = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			availability = EXCLUDED.availability,
			image_url    = EXCLUDED.image_url,
			updated_at   = EXCLUDED.updated_at`,
		res.ASIN, res.URL, res.Marketplace, res.Title, res.Price, res.Currency,
		res.SellerText(), string(res.Status), string(res.Outcome), res.Rating,
		res.ReviewCount, res.Availability, res.ImageURL, now)
	return err
}

const productColumns = `asin, url, marketplace, title, price, currency, seller,
	status, outcome, last_error, rating, review_count, availability, image_url,
	created_at, updated_at`

func (r *Repo) Product(ctx context.Context, asin string) (*storage.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE asin = $1`, asin)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]*storage.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY created_at, asin`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*storage.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteProduct(ctx context.Context, asin string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM price_history WHERE asin = $1`, asin); err != nil {
		return false, err
	}
	cmd, err := tx.Exec(ctx, `DELETE FROM products WHERE asin = $1`, asin)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, tx.Commit(ctx)
}

func (r *Repo) AppendHistory(ctx context.Context, res *buybox.Result) error {
	if res.Price == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO price_history (asin, price, currency, seller, status, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ASIN, *res.Price, res.Currency, res.SellerText(), string(res.Status),
		normTime(res.FetchedAt))
	return err
}

func (r *Repo) History(ctx context.Context, asin string, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT asin, price, currency, seller, status, checked_at
		FROM price_history WHERE asin = $1
		ORDER BY checked_at DESC, id DESC
		LIMIT $2`, asin, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.HistoryEntry{}
	for rows.Next() {
		var e storage.HistoryEntry
		if err := rows.Scan(&e.ASIN, &e.Price, &e.Currency, &e.Seller, &e.Status, &e.CheckedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) LoadSettings(ctx context.Context) (*storage.Settings, error) {
	var s storage.Settings
	err := r.pool.QueryRow(ctx,
		`SELECT interval_minutes, enabled, updated_at FROM scheduler_settings WHERE id = 1`).
		Scan(&s.IntervalMinutes, &s.Enabled, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) SaveSettings(ctx context.Context, s storage.Settings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduler_settings (id, interval_minutes, enabled, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			interval_minutes = EXCLUDED.interval_minutes,
			enabled          = EXCLUDED.enabled,
			updated_at       = EXCLUDED.updated_at`,
		s.IntervalMinutes, s.Enabled, normTime(s.UpdatedAt))
	return err
}

func scanProduct(row pgx.Row) (*storage.Product, error) {
	var p storage.Product
	err := row.Scan(&p.ASIN, &p.URL, &p.Marketplace, &p.Title, &p.Price, &p.Currency,
		&p.Seller, &p.Status, &p.Outcome, &p.LastError, &p.Rating, &p.ReviewCount,
		&p.Availability, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func normTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
