package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"golang.org/x/sync/singleflight"
)

// RateCache memoises a RateSource for ttl. Concurrent misses share one
// upstream call. When the upstream fails and a positive fallback is set,
// the fallback is cached and returned instead.
type RateCache struct {
	src      RateSource
	ttl      time.Duration
	fallback float64
	log      logging.Logger
	now      func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	value   float64
	fetched time.Time
}

func NewRateCache(src RateSource, ttl time.Duration, fallback float64, log logging.Logger) *RateCache {
	return &RateCache{
		src:      src,
		ttl:      ttl,
		fallback: fallback,
		log:      log.With("module", "pricing"),
		now:      time.Now,
	}
}

func (c *RateCache) cached() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value > 0 && c.now().Sub(c.fetched) < c.ttl {
		return c.value, true
	}
	return 0, false
}

func (c *RateCache) store(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.fetched = c.now()
}

func (c *RateCache) ARUSD(ctx context.Context) (float64, error) {
	if v, ok := c.cached(); ok {
		return v, nil
	}

	v, err, _ := c.group.Do("ar_usd", func() (any, error) {
		if v, ok := c.cached(); ok {
			return v, nil
		}
		usd, err := c.src.ARUSD(ctx)
		if err == nil && usd <= 0 {
			err = errors.New("non-positive rate")
		}
		if err != nil {
			if c.fallback <= 0 {
				return 0.0, err
			}
			c.log.Warn(ctx, "ar/usd fetch failed, using fallback", "error", err, "fallback", c.fallback)
			usd = c.fallback
		}
		c.store(usd)
		return usd, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
