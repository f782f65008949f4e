package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"buybox/internal/fetch"
	"buybox/internal/storage"
)

const successPage = `
	<span id="productTitle">Widget</span>
	<div id="buybox"><span class="a-offscreen">R1 299,00</span></div>
	<a id="sellerProfileTriggerId">Bonolo Online</a>`

// stubFetcher returns the same response for every URL.
type stubFetcher struct {
	status int
	body   string
	calls  int
}

func (f *stubFetcher) Get(context.Context, string) (fetch.Response, error) {
	f.calls++
	return fetch.Response{StatusCode: f.status, Body: f.body}, nil
}

// keepOpen lets the test inspect the repository after run() closes it.
type keepOpen struct {
	storage.Repository
}

func (keepOpen) Close() {}

func baseArgs(extra ...string) []string {
	args := []string{"-no-delay"}
	return append(args, extra...)
}

// TestRun_SuccessEmitsJSONL verifies exit 0 and one parseable line per
// identifier with classification applied.
func TestRun_SuccessEmitsJSONL(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	code := run(context.Background(),
		baseArgs("-asins", "B0C1234567,B0D7654321", "-own-seller", "Bonolo Online"),
		deps{Stdout: &out, Stderr: &errOut, Fetcher: &stubFetcher{status: 200, body: successPage}})

	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errOut.String())
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want 2", len(lines))
	}
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad JSONL %q: %v", line, err)
		}
		if rec["status"] != "winning" || rec["buybox_price"] != 1299.00 {
			t.Fatalf("record=%v", rec)
		}
	}
}

// TestRun_BlockedExitsOne verifies a blocked outcome yields exit code 1 but
// still emits the record.
func TestRun_BlockedExitsOne(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run(context.Background(),
		baseArgs("-asins", "B0C1234567", "-max-attempts", "1"),
		deps{Stdout: &out, Fetcher: &stubFetcher{status: 503}})

	if code != 1 {
		t.Fatalf("exit=%d, want 1", code)
	}
	var rec map[string]any
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("bad output %q: %v", out.String(), err)
	}
	if rec["outcome"] != "blocked" {
		t.Fatalf("outcome=%v", rec["outcome"])
	}
}

// TestRun_ConfigErrors covers the exit-2 paths.
func TestRun_ConfigErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
	}{
		{"no identifiers", baseArgs()},
		{"bad identifier", baseArgs("-asins", "tooshort")},
		{"bad flag", []string{"-definitely-not-a-flag"}},
		{"zero attempts", baseArgs("-asins", "B0C1234567", "-max-attempts", "0")},
		{"empty marketplace", baseArgs("-asins", "B0C1234567", "-marketplace", "")},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var errOut bytes.Buffer
			code := run(context.Background(), tc.args,
				deps{Stderr: &errOut, Fetcher: &stubFetcher{status: 200, body: successPage}})
			if code != 2 {
				t.Fatalf("exit=%d, want 2 (stderr=%s)", code, errOut.String())
			}
			if errOut.Len() == 0 {
				t.Fatal("expected an error message on stderr")
			}
		})
	}
}

// TestRun_FileInputDedupes verifies -file parsing: comments skipped, case
// normalized, duplicates collapsed with -asins.
func TestRun_FileInputDedupes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "asins.txt")
	content := "# tracked products\nb0c1234567\nB0D7654321\n\nB0C1234567\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	f := &stubFetcher{status: 200, body: successPage}
	code := run(context.Background(),
		baseArgs("-asins", "B0C1234567", "-file", path),
		deps{Stdout: &out, Fetcher: f})

	if code != 0 {
		t.Fatalf("exit=%d", code)
	}
	if f.calls != 2 {
		t.Fatalf("fetches=%d, want 2 after dedupe", f.calls)
	}
}

// TestRun_PersistsWithDSN verifies -dsn writes results through storage.
func TestRun_PersistsWithDSN(t *testing.T) {
	t.Parallel()

	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	var out bytes.Buffer
	code := run(context.Background(),
		baseArgs("-asins", "B0C1234567", "-dsn", "ignored-by-fake"),
		deps{
			Stdout:  &out,
			Fetcher: &stubFetcher{status: 200, body: successPage},
			RepoFactory: func(context.Context, storage.Config) (storage.Repository, error) {
				return keepOpen{repo}, nil
			},
		})
	if code != 0 {
		t.Fatalf("exit=%d", code)
	}

	p, err := repo.Product(context.Background(), "B0C1234567")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if p.Price == nil || *p.Price != 1299.00 {
		t.Fatalf("persisted price=%#v", p.Price)
	}
	entries, err := repo.History(context.Background(), "B0C1234567", 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("history=%d err=%v", len(entries), err)
	}
}
