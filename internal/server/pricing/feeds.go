package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Public price APIs throttle aggressively; outbound calls are paced to
// feedRate per second with a small burst.
const (
	feedRate  = 5
	feedBurst = 5
)

// HTTPFeeds reads the Arweave node price endpoint and a CoinGecko-style
// simple price endpoint.
type HTTPFeeds struct {
	client   *http.Client
	throttle *rate.Limiter
	priceURL string
	rateURL  string
}

func NewHTTPFeeds(priceURL, rateURL string, timeout time.Duration) *HTTPFeeds {
	return &HTTPFeeds{
		client:   &http.Client{Timeout: timeout},
		throttle: rate.NewLimiter(rate.Limit(feedRate), feedBurst),
		priceURL: strings.TrimRight(priceURL, "/"),
		rateURL:  rateURL,
	}
}

func (f *HTTPFeeds) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<16))
}

// Winston returns GET {priceURL}/{size} parsed as a decimal integer.
func (f *HTTPFeeds) Winston(ctx context.Context, sizeBytes uint64) (*big.Int, error) {
	body, err := f.get(ctx, f.priceURL+"/"+strconv.FormatUint(sizeBytes, 10))
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(string(body)), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid winston price %q", body)
	}
	return v, nil
}

// ARUSD expects {"arweave":{"usd":<number>}}.
func (f *HTTPFeeds) ARUSD(ctx context.Context) (float64, error) {
	body, err := f.get(ctx, f.rateURL)
	if err != nil {
		return 0, err
	}
	var payload struct {
		Arweave struct {
			USD float64 `json:"usd"`
		} `json:"arweave"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode ar/usd: %w", err)
	}
	if payload.Arweave.USD <= 0 {
		return 0, fmt.Errorf("invalid ar/usd price")
	}
	return payload.Arweave.USD, nil
}
