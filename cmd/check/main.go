// Command check runs one-shot buybox checks from the terminal and emits one
// JSON line per identifier. With -dsn it also persists results through the
// configured storage backend, so cron-driven checks and the server share the
// same database.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"buybox/internal/buybox"
	"buybox/internal/fetch"
	"buybox/internal/metrics"
	"buybox/internal/metrics/datadog"
	"buybox/internal/storage"
	_ "buybox/internal/storage/mssql"
	_ "buybox/internal/storage/postgres"
	_ "buybox/internal/storage/sqlite"
	"buybox/internal/tracker"
)

// backendCloser is the minimal interface this command needs to manage a
// metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability: tests inject a fake fetcher,
// capture output, and stub the metrics backend.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Fetcher        tracker.Fetcher
	BackendFactory func(ctx context.Context, service string, tags []string) (backendCloser, error)
	RepoFactory    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

type runConfig struct {
	ASINsCSV    string
	ASINFile    string
	Marketplace string
	OwnSeller   string
	MaxAttempts int
	Timeout     time.Duration
	NoDelay     bool

	StorageKind string
	StorageDSN  string

	Datadog   bool
	DDTagsCSV string
}

// main wires real dependencies and exits with a code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, service string, tags []string) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{Service: service, Tags: tags})
		},
		RepoFactory: storage.New,
	})
	os.Exit(code)
}

// run executes the command and returns an exit code.
//
// Exit codes:
//   - 0: every check succeeded.
//   - 1: at least one check came back blocked or errored.
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	asins, err := collectASINs(cfg)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	if len(asins) == 0 {
		fmt.Fprintln(d.Stderr, "no identifiers given: use -asins or -file")
		return 2
	}

	if cfg.Datadog {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(datadog.ParseTagsCSV(cfg.DDTagsCSV), "tool:check")
		backend, err := d.BackendFactory(ctx, "buybox-tracker", tags)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
		}()
	}

	var repo storage.Repository
	if cfg.StorageDSN != "" {
		repo, err = d.RepoFactory(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.StorageDSN})
		if err != nil {
			fmt.Fprintf(d.Stderr, "storage init failed: %v\n", err)
			return 2
		}
		defer repo.Close()
		if err := repo.Init(ctx); err != nil {
			fmt.Fprintf(d.Stderr, "storage init failed: %v\n", err)
			return 2
		}
	}

	fetcher := d.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(cfg.Timeout)
	}
	tr := tracker.New(fetcher, tracker.Config{
		Marketplace: cfg.Marketplace,
		OwnSeller:   cfg.OwnSeller,
		MaxAttempts: cfg.MaxAttempts,
	})

	var handle tracker.Handler
	if repo != nil {
		handle = func(ctx context.Context, res *buybox.Result) error {
			if err := repo.UpsertProduct(ctx, res); err != nil {
				return err
			}
			if res.Outcome == buybox.OutcomeSuccess {
				return repo.AppendHistory(ctx, res)
			}
			return nil
		}
	}

	var delays tracker.DelayPolicy
	if cfg.NoDelay {
		delays = tracker.NoDelays
	}

	results, failed := tr.RunBulk(ctx, asins, "", handle, delays)

	enc := json.NewEncoder(d.Stdout)
	ok := true
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(d.Stderr, "encode failed: %v\n", err)
			return 2
		}
		if res.Outcome != buybox.OutcomeSuccess {
			ok = false
		}
	}
	for _, f := range failed {
		fmt.Fprintf(d.Stderr, "%s: %s\n", f.ASIN, f.Error)
		ok = false
	}

	if !ok {
		return 1
	}
	return 0
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg runConfig
	fs.StringVar(&cfg.ASINsCSV, "asins", "", "comma-separated identifiers to check")
	fs.StringVar(&cfg.ASINFile, "file", "", "file with one identifier per line")
	fs.StringVar(&cfg.Marketplace, "marketplace", "amazon.co.za", "marketplace domain")
	fs.StringVar(&cfg.OwnSeller, "own-seller", "", "own seller name for winning/losing classification")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", 3, "attempts per identifier")
	fs.DurationVar(&cfg.Timeout, "timeout", 15*time.Second, "HTTP timeout per request")
	fs.BoolVar(&cfg.NoDelay, "no-delay", false, "skip pacing between identifiers")
	fs.StringVar(&cfg.StorageKind, "store", "sqlite", "storage backend kind")
	fs.StringVar(&cfg.StorageDSN, "dsn", "", "storage DSN; empty disables persistence")
	fs.BoolVar(&cfg.Datadog, "dd", false, "submit metrics to Datadog")
	fs.StringVar(&cfg.DDTagsCSV, "dd-tags", "", "extra Datadog tags, comma-separated")

	if err := fs.Parse(args); err != nil {
		return runConfig{}, fmt.Errorf("usage: check -asins B0C1234567,B0D7654321 [-own-seller NAME] [-dsn buybox.db]: %w", err)
	}
	if cfg.MaxAttempts < 1 {
		return runConfig{}, fmt.Errorf("-max-attempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.Marketplace == "" {
		return runConfig{}, fmt.Errorf("-marketplace must not be empty")
	}
	return cfg, nil
}

// collectASINs merges -asins and -file, validating and deduplicating while
// preserving order.
func collectASINs(cfg runConfig) ([]string, error) {
	var raw []string
	for _, tok := range strings.Split(cfg.ASINsCSV, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			raw = append(raw, tok)
		}
	}

	if cfg.ASINFile != "" {
		f, err := os.Open(cfg.ASINFile)
		if err != nil {
			return nil, fmt.Errorf("read -file: %w", err)
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
				raw = append(raw, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read -file: %w", err)
		}
	}

	seen := map[string]bool{}
	out := []string{}
	for _, asin := range raw {
		asin = strings.ToUpper(asin)
		if len(asin) != 10 {
			return nil, fmt.Errorf("invalid identifier %q: must be 10 characters", asin)
		}
		if !seen[asin] {
			seen[asin] = true
			out = append(out, asin)
		}
	}
	return out, nil
}
