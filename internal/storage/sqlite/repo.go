// Package sqlite is the embedded storage backend. It is the default for
// single-node deployments and for tests, since modernc.org/sqlite needs no
// cgo and ":memory:" DSNs need no filesystem.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"buybox/internal/buybox"
	"buybox/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Timestamps are stored as RFC3339Nano strings. SQLite has no dedicated
// timestamp type and TEXT affinity round-trips reliably through the driver.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent API and scheduler
	// writes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS products (
	asin         TEXT PRIMARY KEY,
	url          TEXT NOT NULL DEFAULT '',
	marketplace  TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	price        REAL,
	currency     TEXT NOT NULL DEFAULT '',
	seller       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'unknown',
	outcome      TEXT NOT NULL DEFAULT '',
	last_error   TEXT NOT NULL DEFAULT '',
	rating       REAL,
	review_count INTEGER,
	availability TEXT NOT NULL DEFAULT '',
	image_url    TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	asin       TEXT NOT NULL,
	price      REAL NOT NULL,
	currency   TEXT NOT NULL DEFAULT '',
	seller     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'unknown',
	checked_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_asin ON price_history (asin, checked_at DESC);

CREATE TABLE IF NOT EXISTS scheduler_settings (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	interval_minutes INTEGER NOT NULL,
	enabled          INTEGER NOT NULL,
	updated_at       TEXT NOT NULL
);
`

func (r *Repo) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// UpsertProduct implements the shared upsert invariant: full replace on
// success, outcome-only touch otherwise.
func (r *Repo) UpsertProduct(ctx context.Context, res *buybox.Result) error {
	now := timeString(res.FetchedAt)

	if res.Outcome != buybox.OutcomeSuccess {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO products (asin, url, marketplace, outcome, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (asin) DO UPDATE SET
				outcome    = excluded.outcome,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at`,
			res.ASIN, res.URL, res.Marketplace, string(res.Outcome), res.Err, now, now)
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (asin, url, marketplace, title, price, currency, seller,
			status, outcome, last_error, rating, review_count, availability, image_url,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?)
		ON CONFLICT (asin) DO UPDATE SET
			url          = excluded.url,
			marketplace  = excluded.marketplace,
			title        = excluded.title,
			price        = excluded.price,
			currency     = excluded.currency,
			seller       = excluded.seller,
			status       = excluded.status,
			outcome      = excluded.outcome,
			last_error   = '',
			rating       = excluded.rating,
			review_count = excluded.review_count,
			availability = excluded.availability,
			image_url    = excluded.image_url,
			updated_at   = excluded.updated_at`,
		res.ASIN, res.URL, res.Marketplace, res.Title, res.Price, res.Currency,
		res.SellerText(), string(res.Status), string(res.Outcome), res.Rating,
		res.ReviewCount, res.Availability, res.ImageURL, now, now)
	return err
}

const productColumns = `asin, url, marketplace, title, price, currency, seller,
	status, outcome, last_error, rating, review_count, availability, image_url,
	created_at, updated_at`

func (r *Repo) Product(ctx context.Context, asin string) (*storage.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE asin = ?`, asin)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]*storage.Product, error) {
	rows, err := r.db.QueryContext(ctx,
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
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE asin = ?`, asin); err != nil {
		return false, err
	}
	cmd, err := tx.ExecContext(ctx, `DELETE FROM products WHERE asin = ?`, asin)
	if err != nil {
		return false, err
	}
	n, err := cmd.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

func (r *Repo) AppendHistory(ctx context.Context, res *buybox.Result) error {
	if res.Price == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_history (asin, price, currency, seller, status, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.ASIN, *res.Price, res.Currency, res.SellerText(), string(res.Status),
		timeString(res.FetchedAt))
	return err
}

func (r *Repo) History(ctx context.Context, asin string, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT asin, price, currency, seller, status, checked_at
		FROM price_history WHERE asin = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`, asin, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.HistoryEntry{}
	for rows.Next() {
		var e storage.HistoryEntry
		var checked string
		if err := rows.Scan(&e.ASIN, &e.Price, &e.Currency, &e.Seller, &e.Status, &checked); err != nil {
			return nil, err
		}
		e.CheckedAt = parseTime(checked)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) LoadSettings(ctx context.Context) (*storage.Settings, error) {
	var s storage.Settings
	var enabled int
	var updated string
	err := r.db.QueryRowContext(ctx,
		`SELECT interval_minutes, enabled, updated_at FROM scheduler_settings WHERE id = 1`).
		Scan(&s.IntervalMinutes, &enabled, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Enabled = enabled != 0
	s.UpdatedAt = parseTime(updated)
	return &s, nil
}

func (r *Repo) SaveSettings(ctx context.Context, s storage.Settings) error {
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduler_settings (id, interval_minutes, enabled, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			interval_minutes = excluded.interval_minutes,
			enabled          = excluded.enabled,
			updated_at       = excluded.updated_at`,
		s.IntervalMinutes, enabled, timeString(s.UpdatedAt))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*storage.Product, error) {
	var p storage.Product
	var price, rating sql.NullFloat64
	var reviews sql.NullInt64
	var created, updated string

	err := row.Scan(&p.ASIN, &p.URL, &p.Marketplace, &p.Title, &price, &p.Currency,
		&p.Seller, &p.Status, &p.Outcome, &p.LastError, &rating, &reviews,
		&p.Availability, &p.ImageURL, &created, &updated)
	if err != nil {
		return nil, err
	}

	if price.Valid {
		p.Price = &price.Float64
	}
	if rating.Valid {
		p.Rating = &rating.Float64
	}
	if reviews.Valid {
		n := int(reviews.Int64)
		p.ReviewCount = &n
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func timeString(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
