// Package mssql is the SQL Server storage backend, for deployments where the
// tracker writes into an existing corporate database.
package mssql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"buybox/internal/buybox"
	"buybox/internal/storage"
)

// Repo implements storage.Repository for SQL Server.
//
// SQL Server has no ON CONFLICT clause, so upserts run as
// update-then-insert inside a transaction. Under SERIALIZABLE the pattern is
// race-free; the tracker's single writer makes contention rare anyway.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var schemaStatements = []string{
	`IF OBJECT_ID(N'products', N'U') IS NULL
	CREATE TABLE products (
		asin         NVARCHAR(20) PRIMARY KEY,
		url          NVARCHAR(512) NOT NULL DEFAULT '',
		marketplace  NVARCHAR(64) NOT NULL DEFAULT '',
		title        NVARCHAR(512) NOT NULL DEFAULT '',
		price        FLOAT NULL,
		currency     NVARCHAR(8) NOT NULL DEFAULT '',
		seller       NVARCHAR(256) NOT NULL DEFAULT '',
		status       NVARCHAR(16) NOT NULL DEFAULT 'unknown',
		outcome      NVARCHAR(16) NOT NULL DEFAULT '',
		last_error   NVARCHAR(1024) NOT NULL DEFAULT '',
		rating       FLOAT NULL,
		review_count INT NULL,
		availability NVARCHAR(256) NOT NULL DEFAULT '',
		image_url    NVARCHAR(1024) NOT NULL DEFAULT '',
		created_at   DATETIMEOFFSET NOT NULL,
		updated_at   DATETIMEOFFSET NOT NULL
	)`,
	`IF OBJECT_ID(N'price_history', N'U') IS NULL
	CREATE TABLE price_history (
		id         BIGINT IDENTITY(1,1) PRIMARY KEY,
		asin       NVARCHAR(20) NOT NULL,
		price      FLOAT NOT NULL,
		currency   NVARCHAR(8) NOT NULL DEFAULT '',
		seller     NVARCHAR(256) NOT NULL DEFAULT '',
		status     NVARCHAR(16) NOT NULL DEFAULT 'unknown',
		checked_at DATETIMEOFFSET NOT NULL
	)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_price_history_asin')
	CREATE INDEX idx_price_history_asin ON price_history (asin, checked_at DESC)`,
	`IF OBJECT_ID(N'scheduler_settings', N'U') IS NULL
	CREATE TABLE scheduler_settings (
		id               INT PRIMARY KEY CHECK (id = 1),
		interval_minutes INT NOT NULL,
		enabled          BIT NOT NULL,
		updated_at       DATETIMEOFFSET NOT NULL
	)`,
}

func (r *Repo) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) UpsertProduct(ctx context.Context, res *buybox.Result) error {
	now := normTime(res.FetchedAt)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if res.Outcome != buybox.OutcomeSuccess {
		cmd, err := tx.ExecContext(ctx, `
			UPDATE products SET outcome = @p2, last_error = @p3, updated_at = @p4
			WHERE asin = @p1`,
			res.ASIN, string(res.Outcome), res.Err, now)
		if err != nil {
			return err
		}
		if n, err := cmd.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO products (asin, url, marketplace, outcome, last_error, created_at, updated_at)
				VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p6)`,
				res.ASIN, res.URL, res.Marketplace, string(res.Outcome), res.Err, now)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	cmd, err := tx.ExecContext(ctx, `
		UPDATE products SET
			url = @p2, marketplace = @p3, title = @p4, price = @p5, currency = @p6,
			seller = @p7, status = @p8, outcome = @p9, last_error = '', rating = @p10,
			review_count = @p11, availability = @p12, image_url = @p13, updated_at = @p14
		WHERE asin = @p1`,
		res.ASIN, res.URL, res.Marketplace, res.Title, res.Price, res.Currency,
		res.SellerText(), string(res.Status), string(res.Outcome), res.Rating,
		res.ReviewCount, res.Availability, res.ImageURL, now)
	if err != nil {
		return err
	}
	if n, err := cmd.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO products (asin, url, marketplace, title, price, currency, seller,
				status, outcome, last_error, rating, review_count, availability, image_url,
				created_at, updated_at)
			VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, '', @p10, @p11, @p12, @p13, @p14, @p14)`,
			res.ASIN, res.URL, res.Marketplace, res.Title, res.Price, res.Currency,
			res.SellerText(), string(res.Status), string(res.Outcome), res.Rating,
			res.ReviewCount, res.Availability, res.ImageURL, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const productColumns = `asin, url, marketplace, title, price, currency, seller,
	status, outcome, last_error, rating, review_count, availability, image_url,
	created_at, updated_at`

func (r *Repo) Product(ctx context.Context, asin string) (*storage.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE asin = @p1`, asin)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE asin = @p1`, asin); err != nil {
		return false, err
	}
	cmd, err := tx.ExecContext(ctx, `DELETE FROM products WHERE asin = @p1`, asin)
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
		VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`,
		res.ASIN, *res.Price, res.Currency, res.SellerText(), string(res.Status),
		normTime(res.FetchedAt))
	return err
}

func (r *Repo) History(ctx context.Context, asin string, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT TOP (@p2) asin, price, currency, seller, status, checked_at
		FROM price_history WHERE asin = @p1
		ORDER BY checked_at DESC, id DESC`, asin, limit)
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
	err := r.db.QueryRowContext(ctx,
		`SELECT interval_minutes, enabled, updated_at FROM scheduler_settings WHERE id = 1`).
		Scan(&s.IntervalMinutes, &s.Enabled, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) SaveSettings(ctx context.Context, s storage.Settings) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cmd, err := tx.ExecContext(ctx, `
		UPDATE scheduler_settings SET interval_minutes = @p1, enabled = @p2, updated_at = @p3
		WHERE id = 1`,
		s.IntervalMinutes, s.Enabled, normTime(s.UpdatedAt))
	if err != nil {
		return err
	}
	if n, err := cmd.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scheduler_settings (id, interval_minutes, enabled, updated_at)
			VALUES (1, @p1, @p2, @p3)`,
			s.IntervalMinutes, s.Enabled, normTime(s.UpdatedAt))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*storage.Product, error) {
	var p storage.Product
	var price, rating sql.NullFloat64
	var reviews sql.NullInt64

	err := row.Scan(&p.ASIN, &p.URL, &p.Marketplace, &p.Title, &price, &p.Currency,
		&p.Seller, &p.Status, &p.Outcome, &p.LastError, &rating, &reviews,
		&p.Availability, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
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
	return &p, nil
}

func normTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
