// Package ratecache keeps the last known reading per upstream source and
// decides when a fresh fetch is warranted. A source that fails to refresh
// keeps serving its previous reading marked stale; "no data" only happens
// when a source has never succeeded in the process lifetime.
package ratecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"criptoguia-rates/internal/fetcher"
)

// Source identifies one upstream adapter.
type Source string

const (
	SourceP2PMarket   Source = "p2p_market"
	SourceOfficialUSD Source = "official_usd"
	SourceOfficialEUR Source = "official_eur"
)

// ErrNoData marks a cold-start failure: the fetch failed and no prior
// successful reading exists.
var ErrNoData = errors.New("no data available")

// NoDataError carries the source and the fetch failure behind ErrNoData.
type NoDataError struct {
	Source Source
	Cause  error
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%s: no data available: %v", e.Source, e.Cause)
}

func (e *NoDataError) Unwrap() error { return e.Cause }

func (e *NoDataError) Is(target error) bool { return target == ErrNoData }

// Reading is the normalised value served to consumers. Rate is always set;
// P2P carries the full order-book sample for the market source and Currency
// is set for the official sources.
type Reading struct {
	Source     Source
	Rate       decimal.Decimal
	ObservedAt time.Time
	P2P        *fetcher.P2PSnapshot
	Currency   string

	FromCache bool
	Stale     bool
	Age       time.Duration
}

// FetchFunc produces a fresh reading for one source.
type FetchFunc func(ctx context.Context) (Reading, error)

type slot struct {
	window  time.Duration
	fetch   FetchFunc
	reading Reading
	primed  bool

	capturedAt time.Time
}

// Cache owns one slot per registered source. It is constructed once at the
// composition root and shared by every consumer; there is deliberately no
// package-level instance.
type Cache struct {
	mu     sync.Mutex
	slots  map[Source]*slot
	clock  func() time.Time
	logger zerolog.Logger
}

// New constructs an empty cache. A nil clock defaults to time.Now.
func New(logger zerolog.Logger, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		slots:  make(map[Source]*slot),
		clock:  clock,
		logger: logger.With().Str("component", "rate_cache").Logger(),
	}
}

// Register wires a source to its fetch func and freshness window.
func (c *Cache) Register(source Source, window time.Duration, fetch FetchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[source] = &slot{window: window, fetch: fetch}
}

// Get returns the best available reading for the source. A fresh cache hit
// never touches the network; on fetch failure the previous reading is served
// stale with its age. Concurrent refreshes of the same source may race; the
// last completed fetch wins and replaces the entry wholesale.
func (c *Cache) Get(ctx context.Context, source Source) (Reading, error) {
	c.mu.Lock()
	s, ok := c.slots[source]
	if !ok {
		c.mu.Unlock()
		return Reading{}, fmt.Errorf("source %s not registered", source)
	}

	now := c.clock()
	if s.primed && now.Sub(s.capturedAt) < s.window {
		reading := s.reading
		reading.FromCache = true
		reading.Age = now.Sub(s.capturedAt)
		c.mu.Unlock()
		return reading, nil
	}
	fetch := s.fetch
	c.mu.Unlock()

	fresh, err := fetch(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s.primed {
			reading := s.reading
			reading.FromCache = true
			reading.Stale = true
			reading.Age = c.clock().Sub(s.capturedAt)
			c.logger.Warn().Err(err).
				Str("source", string(source)).
				Dur("age", reading.Age).
				Msg("refresh failed, serving stale reading")
			return reading, nil
		}
		return Reading{}, &NoDataError{Source: source, Cause: err}
	}

	fresh.Source = source
	fresh.FromCache = false
	fresh.Stale = false
	fresh.Age = 0

	c.mu.Lock()
	s.reading = fresh
	s.capturedAt = c.clock()
	s.primed = true
	c.mu.Unlock()

	return fresh, nil
}

// Snapshot returns the best-known reading per source without fetching,
// marking entries past their window as stale. Sources that never succeeded
// are absent. It never fails; the chat context builder depends on that.
func (c *Cache) Snapshot() map[Source]Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	out := make(map[Source]Reading, len(c.slots))
	for source, s := range c.slots {
		if !s.primed {
			continue
		}
		reading := s.reading
		reading.FromCache = true
		reading.Age = now.Sub(s.capturedAt)
		reading.Stale = reading.Age >= s.window
		out[source] = reading
	}
	return out
}
