package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"criptoguia-rates/internal/alerting"
	"criptoguia-rates/internal/config"
	"criptoguia-rates/internal/ratecache"
	"criptoguia-rates/internal/scheduler"
	"criptoguia-rates/internal/storage"
	"criptoguia-rates/internal/trend"
)

var sampledSources = []ratecache.Source{
	ratecache.SourceP2PMarket,
	ratecache.SourceOfficialUSD,
	ratecache.SourceOfficialEUR,
}

// Service orchestrates periodic sampling, history recording, archival, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	cache      *ratecache.Cache
	analyzer   *trend.Analyzer
	store      storage.ObservationStore
	alertStore storage.TrendAlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the sampling service. store, alertStore, and notifier may be
// nil when the corresponding feature is disabled.
func New(cfg *config.Config, sched *scheduler.Scheduler, cache *ratecache.Cache, analyzer *trend.Analyzer, store storage.ObservationStore, alertStore storage.TrendAlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		cache:      cache,
		analyzer:   analyzer,
		store:      store,
		alertStore: alertStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		threshold:  threshold,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket runs one sampling pass for a single time bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	for _, source := range sampledSources {
		reading, err := s.cache.Get(ctx, source)
		s.archive(ctx, bucket, source, reading, err)

		if source != ratecache.SourceP2PMarket || err != nil {
			continue
		}
		if reading.Stale {
			s.logger.Warn().Time("bucket", bucket).Msg("p2p reading is stale, skipping trend analysis")
			continue
		}
		s.analyzeAndAlert(ctx, bucket, reading)
	}
	return nil
}

func (s *Service) archive(ctx context.Context, bucket time.Time, source ratecache.Source, reading ratecache.Reading, fetchErr error) {
	if s.store == nil {
		return
	}

	obs := storage.RateObservation{
		Bucket:    bucket,
		Source:    string(source),
		Status:    "complete",
		CreatedAt: time.Now().UTC(),
	}

	switch {
	case fetchErr != nil:
		msg := fetchErr.Error()
		obs.Status = "error"
		obs.Error = &msg
	default:
		obs.Rate = reading.Rate
		obs.Stale = reading.Stale
		if reading.Stale {
			obs.Status = "stale"
		}
		if reading.P2P != nil {
			obs.Details = encodeP2PDetails(reading)
		}
	}

	if err := s.store.UpsertObservation(ctx, obs); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Str("source", string(source)).Msg("failed to archive observation")
	}
}

func encodeP2PDetails(reading ratecache.Reading) json.RawMessage {
	prices := make([]float64, 0, len(reading.P2P.Prices))
	for _, p := range reading.P2P.Prices {
		prices = append(prices, p.InexactFloat64())
	}
	details := struct {
		FirstPrice    float64   `json:"firstPrice"`
		Prices        []float64 `json:"prices"`
		PercentChange float64   `json:"percentChange"`
		AdsCount      int       `json:"adsCount"`
	}{
		FirstPrice:    reading.P2P.FirstPrice.InexactFloat64(),
		Prices:        prices,
		PercentChange: reading.P2P.PercentChange.InexactFloat64(),
		AdsCount:      reading.P2P.AdsCount,
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return raw
}

func (s *Service) analyzeAndAlert(ctx context.Context, bucket time.Time, reading ratecache.Reading) {
	if s.analyzer == nil {
		return
	}

	analysis := s.analyzer.Analyze(ctx, reading.Rate)
	s.logger.Info().Time("bucket", bucket).
		Str("trend", string(analysis.Trend)).
		Int("consecutive_days", analysis.ConsecutiveDays).
		Str("today_change_pct", analysis.TodayChangePercent.String()).
		Msg("trend analysis recorded")

	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}
	if analysis.Trend == trend.Stable {
		return
	}
	if !analysis.TodayChangePercent.Abs().GreaterThan(s.threshold) {
		return
	}

	note := alerting.Notification{
		Bucket:          bucket,
		Rate:            reading.Rate,
		ChangePct:       analysis.TodayChangePercent,
		ThresholdPct:    s.threshold,
		Trend:           string(analysis.Trend),
		ConsecutiveDays: analysis.ConsecutiveDays,
		Advice:          analysis.Advice,
		Channels:        s.channels,
	}
	if analysis.PreviousDayRate != nil {
		note.PreviousRate = *analysis.PreviousDayRate
	}

	if s.alertStore != nil {
		record := storage.TrendAlertRecord{
			SampleTS:     bucket,
			Rate:         reading.Rate,
			ChangePct:    analysis.TodayChangePercent,
			ThresholdPct: s.threshold,
			Trend:        string(analysis.Trend),
			Channels:     s.channels,
		}
		if _, err := s.alertStore.InsertTrendAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist trend alert")
		}
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch trend alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
