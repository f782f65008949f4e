// Command extract runs the buybox extractor against saved HTML, which is how
// selector regressions get diagnosed without hitting the live site.
//
// Usage (stdin):
//
//	cat page.html | extract -marketplace amazon.co.za
//
// Usage (directory of saved pages, one JSON line per file):
//
//	extract -dir ./pages -marketplace amazon.de
//
// Offer-listing pages:
//
//	cat offers.html | extract -offers
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"buybox/internal/extracthtml"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
	))
}

// run is split out from main so we can unit test the command without
// spawning an OS process.
//
// Exit codes:
//   - 0 for success
//   - 1 for operational/runtime errors
//   - 2 for usage/config errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)

	marketplace := fs.String("marketplace", "amazon.co.za", "Marketplace domain, decides currency and reference seller")
	dirFlag := fs.String("dir", "", "Optional: directory of HTML files to extract (one JSON line per file)")
	offers := fs.Bool("offers", false, "Treat input as an offer-listing page and extract the pinned offer")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	if *dirFlag != "" {
		entries, err := os.ReadDir(*dirFlag)
		if err != nil {
			fmt.Fprintf(stderr, "read dir: %v\n", err)
			return 1
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".html") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			if ctx.Err() != nil {
				return 1
			}
			html, err := os.ReadFile(filepath.Join(*dirFlag, name))
			if err != nil {
				fmt.Fprintf(stderr, "%s: %v\n", name, err)
				return 1
			}
			if err := extractOne(enc, string(html), name, *marketplace, *offers); err != nil {
				fmt.Fprintf(stderr, "%s: %v\n", name, err)
				return 1
			}
		}
		return 0
	}

	html, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 1
	}
	if len(html) == 0 {
		fmt.Fprintln(stderr, "no HTML on stdin (or use -dir)")
		return 2
	}
	if err := extractOne(enc, string(html), "", *marketplace, *offers); err != nil {
		fmt.Fprintf(stderr, "extract: %v\n", err)
		return 1
	}
	return 0
}

func extractOne(enc *json.Encoder, html, file, marketplace string, offers bool) error {
	if offers {
		offer, err := extracthtml.ExtractOffer(html, marketplace)
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{"file": file, "offer": offer})
	}

	res, err := extracthtml.Extract(html, marketplace)
	if err != nil {
		return err
	}
	if file != "" {
		// Saved pages are usually named <asin>.html; carry that through.
		res.ASIN = strings.TrimSuffix(file, ".html")
	}
	return enc.Encode(res)
}
