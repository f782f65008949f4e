// Package storage defines the backend-agnostic persistence contract for
// tracked products, price history, and scheduler settings.
//
// Concrete backends (SQLite, Postgres, SQL Server) live in subpackages and
// register themselves under a kind string via init(). Callers construct a
// repository with New and a Config naming the kind, which keeps the rest of
// the codebase free of driver imports.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"buybox/internal/buybox"
)

// ErrNotFound is returned when an identifier has no row.
var ErrNotFound = errors.New("storage: not found")

// Config selects and configures a backend.
//
// Kind must match a registered backend kind ("sqlite", "postgres", "mssql").
// DSN is passed through to the backend factory; validation is
// backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Product is the persisted state of one tracked identifier: the latest
// successful extraction plus the outcome of the most recent attempt.
type Product struct {
	ASIN         string    `json:"asin"`
	URL          string    `json:"url"`
	Marketplace  string    `json:"marketplace"`
	Title        string    `json:"title"`
	Price        *float64  `json:"buybox_price"`
	Currency     string    `json:"currency"`
	Seller       string    `json:"buybox_seller"`
	Status       string    `json:"status"`
	Outcome      string    `json:"outcome"`
	LastError    string    `json:"last_error,omitempty"`
	Rating       *float64  `json:"rating"`
	ReviewCount  *int      `json:"review_count"`
	Availability string    `json:"availability"`
	ImageURL     string    `json:"image_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HistoryEntry is one successful price observation.
type HistoryEntry struct {
	ASIN      string    `json:"asin"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Seller    string    `json:"seller"`
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// Settings is the persisted scheduler configuration. It survives restarts so
// an interval chosen through the API is not lost.
type Settings struct {
	IntervalMinutes int       `json:"interval_minutes"`
	Enabled         bool      `json:"enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultHistoryLimit caps history queries when the caller passes limit <= 0.
const DefaultHistoryLimit = 100

// Repository is the persistence contract backends implement.
//
// Upsert semantics are the core invariant and must match across backends:
//   - A success result replaces every product field and refreshes
//     updated_at, preserving created_at.
//   - A non-success result (blocked/error) touches only outcome, last_error,
//     and updated_at; the last good price, seller, and status stay intact.
//     For an identifier never seen before it inserts a stub row.
type Repository interface {
	// Close releases backend resources. Treat as call-once at shutdown.
	Close()

	// Init creates tables as needed. Idempotent; called at startup.
	Init(ctx context.Context) error

	UpsertProduct(ctx context.Context, res *buybox.Result) error
	Product(ctx context.Context, asin string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)

	// DeleteProduct removes the product and its history. The bool reports
	// whether a row existed.
	DeleteProduct(ctx context.Context, asin string) (bool, error)

	// AppendHistory records a price observation. Results without a price are
	// skipped silently: a row with no price has no analytical value.
	AppendHistory(ctx context.Context, res *buybox.Result) error

	// History returns entries for one identifier, newest first, capped at
	// limit (DefaultHistoryLimit when limit <= 0).
	History(ctx context.Context, asin string, limit int) ([]HistoryEntry, error)

	// LoadSettings returns nil (no error) when settings were never saved.
	LoadSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from an init() function in
// a backend package.
//
// Panics on empty kind, nil factory, or duplicate registration; backend
// selection must never be ambiguous.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, errors.New("storage: config.Kind is empty")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, for error messages and config
// validation.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
