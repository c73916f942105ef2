package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"criptoguia-rates/internal/alerting"
	"criptoguia-rates/internal/config"
	"criptoguia-rates/internal/fetcher"
	"criptoguia-rates/internal/history"
	"criptoguia-rates/internal/ratecache"
	"criptoguia-rates/internal/storage"
	"criptoguia-rates/internal/trend"
)

type memObservationStore struct {
	observations []storage.RateObservation
}

func (m *memObservationStore) UpsertObservation(ctx context.Context, obs storage.RateObservation) error {
	for i, existing := range m.observations {
		if existing.Bucket.Equal(obs.Bucket) && existing.Source == obs.Source {
			m.observations[i] = obs
			return nil
		}
	}
	m.observations = append(m.observations, obs)
	return nil
}

func (m *memObservationStore) ListObservationsBetween(ctx context.Context, source string, from, to time.Time) ([]storage.RateObservation, error) {
	return nil, nil
}

func (m *memObservationStore) ListRecentObservations(ctx context.Context, source string, limit int) ([]storage.RateObservation, error) {
	return nil, nil
}

func (m *memObservationStore) CountObservations(ctx context.Context) (int64, error) {
	return int64(len(m.observations)), nil
}

func (m *memObservationStore) find(source string) *storage.RateObservation {
	for i := range m.observations {
		if m.observations[i].Source == source {
			return &m.observations[i]
		}
	}
	return nil
}

type memAlertStore struct {
	alerts []storage.TrendAlertRecord
}

func (m *memAlertStore) InsertTrendAlert(ctx context.Context, alert storage.TrendAlertRecord) (storage.TrendAlertRecord, error) {
	alert.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memAlertStore) ListRecentTrendAlerts(ctx context.Context, limit int) ([]storage.TrendAlertRecord, error) {
	return m.alerts, nil
}

func (m *memAlertStore) DeleteTrendAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

type memNotifier struct {
	notes []alerting.Notification
	fail  bool
}

func (m *memNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if m.fail {
		return errors.New("notifier down")
	}
	m.notes = append(m.notes, note)
	return nil
}

type memKV struct {
	values map[string]string
}

func (m *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, key, value string) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

type harness struct {
	service  *Service
	store    *memObservationStore
	alerts   *memAlertStore
	notifier *memNotifier
	clock    *time.Time
}

// newHarness wires a service over fakes. rates maps each source to either a
// decimal string or "" meaning the fetch fails.
func newHarness(t *testing.T, seedRates []string, rates map[ratecache.Source]string) *harness {
	t.Helper()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cur := now
	clock := &cur

	cache := ratecache.New(zerolog.Nop(), func() time.Time { return *clock })
	for _, source := range sampledSources {
		src := source
		cache.Register(src, time.Second, func(ctx context.Context) (ratecache.Reading, error) {
			value, ok := rates[src]
			if !ok || value == "" {
				return ratecache.Reading{}, errors.New("upstream down")
			}
			rate := decimal.RequireFromString(value)
			reading := ratecache.Reading{Source: src, Rate: rate, ObservedAt: *clock}
			if src == ratecache.SourceP2PMarket {
				reading.P2P = &fetcher.P2PSnapshot{
					AveragePrice: rate,
					FirstPrice:   rate,
					Prices:       []decimal.Decimal{rate},
					AdsCount:     1,
					ObservedAt:   *clock,
				}
			} else {
				reading.Currency = "USD"
			}
			return reading, nil
		})
	}

	kv := &memKV{}
	ledger := history.NewLedger(kv, history.Options{MaxEntries: 30, Clock: func() time.Time { return *clock }}, zerolog.Nop())

	// Seed prior days, oldest first, one per day ending yesterday.
	seedStart := now.AddDate(0, 0, -len(seedRates))
	for i, rate := range seedRates {
		day := seedStart.AddDate(0, 0, i)
		*clock = day
		ledger.Record(context.Background(), decimal.RequireFromString(rate))
	}
	*clock = now

	analyzer := trend.NewAnalyzer(ledger, trend.DefaultThresholds(), zerolog.Nop())

	store := &memObservationStore{}
	alertStore := &memAlertStore{}
	notifier := &memNotifier{}

	cfg := &config.Config{
		Alerting: config.AlertingConfig{
			Enabled:      true,
			ThresholdPct: 2.0,
			Channels:     []string{"telegram"},
		},
	}

	svc := New(cfg, nil, cache, analyzer, store, alertStore, notifier, zerolog.Nop())
	return &harness{service: svc, store: store, alerts: alertStore, notifier: notifier, clock: clock}
}

func TestProcessBucketArchivesAllSources(t *testing.T) {
	h := newHarness(t, nil, map[ratecache.Source]string{
		ratecache.SourceP2PMarket:   "103.50",
		ratecache.SourceOfficialUSD: "36.50",
		ratecache.SourceOfficialEUR: "39.80",
	})

	bucket := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := h.service.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket() error = %v", err)
	}

	if len(h.store.observations) != 3 {
		t.Fatalf("observations = %d, want 3", len(h.store.observations))
	}
	p2p := h.store.find("p2p_market")
	if p2p == nil || p2p.Status != "complete" || !p2p.Rate.Equal(decimal.RequireFromString("103.50")) {
		t.Errorf("p2p observation = %+v", p2p)
	}
	if p2p.Details == nil {
		t.Error("p2p observation should carry the order book details")
	}
	if usd := h.store.find("official_usd"); usd == nil || usd.Details != nil {
		t.Errorf("official observation should have no details payload: %+v", usd)
	}
}

func TestProcessBucketArchivesFetchFailure(t *testing.T) {
	h := newHarness(t, nil, map[ratecache.Source]string{
		ratecache.SourceP2PMarket:   "103.50",
		ratecache.SourceOfficialUSD: "36.50",
		// EUR fails.
	})

	bucket := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := h.service.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket() error = %v", err)
	}

	eur := h.store.find("official_eur")
	if eur == nil {
		t.Fatal("failed source should still be archived")
	}
	if eur.Status != "error" || eur.Error == nil {
		t.Errorf("eur observation = %+v, want status error with message", eur)
	}
}

func TestProcessBucketAlertsOnSignificantMove(t *testing.T) {
	// Yesterday 100, today 103.50: +3.5% clears the 2% threshold.
	h := newHarness(t, []string{"100"}, map[ratecache.Source]string{
		ratecache.SourceP2PMarket:   "103.50",
		ratecache.SourceOfficialUSD: "36.50",
		ratecache.SourceOfficialEUR: "39.80",
	})

	bucket := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := h.service.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket() error = %v", err)
	}

	if len(h.notifier.notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.notes))
	}
	note := h.notifier.notes[0]
	if note.Trend != "ALCISTA" {
		t.Errorf("trend = %q, want ALCISTA", note.Trend)
	}
	if !note.ChangePct.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("changePct = %s, want 3.5", note.ChangePct)
	}
	if !strings.Contains(note.Advice, "Atención") {
		t.Errorf("advice = %q, want urgent advice", note.Advice)
	}

	if len(h.alerts.alerts) != 1 {
		t.Fatalf("persisted alerts = %d, want 1", len(h.alerts.alerts))
	}
	if h.alerts.alerts[0].Trend != "ALCISTA" {
		t.Errorf("persisted trend = %q", h.alerts.alerts[0].Trend)
	}
}

func TestProcessBucketNoAlertBelowThreshold(t *testing.T) {
	// +1% same day: below both the 2% trend rule and the alert threshold.
	h := newHarness(t, []string{"100"}, map[ratecache.Source]string{
		ratecache.SourceP2PMarket:   "101",
		ratecache.SourceOfficialUSD: "36.50",
		ratecache.SourceOfficialEUR: "39.80",
	})

	bucket := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := h.service.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket() error = %v", err)
	}
	if len(h.notifier.notes) != 0 {
		t.Errorf("notifications = %d, want none", len(h.notifier.notes))
	}
}

func TestProcessBucketP2PFailureSkipsAnalysis(t *testing.T) {
	h := newHarness(t, []string{"100"}, map[ratecache.Source]string{
		ratecache.SourceOfficialUSD: "36.50",
		ratecache.SourceOfficialEUR: "39.80",
	})

	bucket := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := h.service.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket() error = %v", err)
	}
	if len(h.notifier.notes) != 0 {
		t.Errorf("notifications = %d, want none when p2p fetch fails", len(h.notifier.notes))
	}
	p2p := h.store.find("p2p_market")
	if p2p == nil || p2p.Status != "error" {
		t.Errorf("p2p observation = %+v, want error status", p2p)
	}
}

func TestNotifierFailureDoesNotAbortBucket(t *testing.T) {
	h := newHarness(t, []string{"100"}, map[ratecache.Source]string{
		ratecache.SourceP2PMarket:   "103.50",
		ratecache.SourceOfficialUSD: "36.50",
		ratecache.SourceOfficialEUR: "39.80",
	})
	h.notifier.fail = true

	bucket := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := h.service.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("ProcessBucket() error = %v, want nil despite notifier failure", err)
	}
	if len(h.store.observations) != 3 {
		t.Errorf("observations = %d, want 3", len(h.store.observations))
	}
}
