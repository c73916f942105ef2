// Package history keeps a bounded, day-bucketed log of observed rates in a
// small key-value slot. It backs the trend analyzer and mirrors the shape the
// web client persists: one JSON document, newest entry first, at most one
// entry per calendar day.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Entry is one day's observation.
type Entry struct {
	Rate      decimal.Decimal
	Timestamp time.Time
}

// Store abstracts the durable slot behind the ledger. Implementations hold
// opaque string values under string keys; the ledger owns the JSON inside.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Options tune the ledger.
type Options struct {
	Key        string
	MaxEntries int
	Clock      func() time.Time
}

// Ledger records at most one rate per calendar day, newest first, capped to
// MaxEntries. Reads never fail; corrupt or missing data is an empty ledger.
type Ledger struct {
	store  Store
	key    string
	max    int
	clock  func() time.Time
	logger zerolog.Logger
}

// NewLedger wires a ledger onto a store.
func NewLedger(store Store, opts Options, logger zerolog.Logger) *Ledger {
	key := opts.Key
	if key == "" {
		key = "criptoguia_rate_history"
	}
	max := opts.MaxEntries
	if max <= 0 {
		max = 30
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		store:  store,
		key:    key,
		max:    max,
		clock:  clock,
		logger: logger.With().Str("component", "rate_history").Logger(),
	}
}

// Record upserts today's entry and persists synchronously. A write failure
// costs one history point and is logged, never surfaced: trend analysis
// degrades gracefully without it.
func (l *Ledger) Record(ctx context.Context, rate decimal.Decimal) {
	entries := l.Entries(ctx)

	now := l.clock()
	today := now.Format(dateLayout)
	entry := Entry{Rate: rate, Timestamp: now}

	replaced := false
	for i := range entries {
		if entries[i].Timestamp.Format(dateLayout) == today {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append([]Entry{entry}, entries...)
	}

	if len(entries) > l.max {
		entries = entries[:l.max]
	}

	payload, err := json.Marshal(encodeDocument(entries))
	if err != nil {
		l.logger.Warn().Err(err).Msg("encode rate history failed")
		return
	}
	if err := l.store.Set(ctx, l.key, string(payload)); err != nil {
		l.logger.Warn().Err(err).Msg("persist rate history failed; one point lost")
	}
}

// Entries returns the ledger newest first. It never fails: missing or
// unparseable stored data reads as empty.
func (l *Ledger) Entries(ctx context.Context) []Entry {
	raw, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		l.logger.Warn().Err(err).Msg("read rate history failed; treating as empty")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		l.logger.Warn().Err(err).Msg("rate history corrupt; treating as empty")
		return nil
	}

	entries := make([]Entry, 0, len(doc.Entries))
	for _, de := range doc.Entries {
		ts, err := time.Parse(time.RFC3339, de.Timestamp)
		if err != nil {
			l.logger.Warn().Str("timestamp", de.Timestamp).Msg("dropping history entry with bad timestamp")
			continue
		}
		entries = append(entries, Entry{Rate: decimal.NewFromFloat(de.Rate), Timestamp: ts})
	}
	return entries
}

// document is the persisted wire shape, kept compatible with the web client:
// {"entries":[{"rate": 36.5, "timestamp": "..."}]}, newest first.
type document struct {
	Entries []documentEntry `json:"entries"`
}

type documentEntry struct {
	Rate      float64 `json:"rate"`
	Timestamp string  `json:"timestamp"`
}

func encodeDocument(entries []Entry) document {
	doc := document{Entries: make([]documentEntry, 0, len(entries))}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, documentEntry{
			Rate:      e.Rate.InexactFloat64(),
			Timestamp: e.Timestamp.Format(time.RFC3339),
		})
	}
	return doc
}
