// Package fetch is the transport layer: it issues product-page requests with
// rotating browser header sets and returns raw status+body pairs.
//
// It deliberately knows nothing about extraction or outcomes; callers decide
// what a 503 means.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Response is the raw transport result handed to the extraction pipeline.
type Response struct {
	StatusCode int
	Body       string
}

// Client fetches marketplace pages with a bounded timeout and a header set
// chosen per request.
type Client struct {
	http *http.Client

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultTimeout matches the upstream's tolerance before a request is
// considered hung.
const DefaultTimeout = 15 * time.Second

// NewClient constructs a Client. A non-positive timeout falls back to
// DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
	}
	return &Client{
		http: &http.Client{Timeout: timeout, Transport: transport},
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ProductURL builds the primary product page URL for an identifier.
func ProductURL(marketplace, asin string) string {
	return fmt.Sprintf("https://www.%s/dp/%s", marketplace, asin)
}

// OfferListingURL builds the secondary "all offers" page URL.
func OfferListingURL(marketplace, asin string) string {
	return fmt.Sprintf("https://www.%s/gp/offer-listing/%s", marketplace, asin)
}

// Get fetches url with one of the rotating header sets applied.
//
// Errors are transport-level only (dial, timeout, body read); any HTTP status
// is returned as data, not as an error.
func (c *Client) Get(ctx context.Context, url string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.pickHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

func (c *Client) pickHeaders() map[string]string {
	c.mu.Lock()
	i := c.rng.Intn(len(headerSets))
	c.mu.Unlock()
	return headerSets[i]
}
