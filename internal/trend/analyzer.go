// Package trend classifies the market direction of the parallel rate from
// the day-bucketed history ledger. The decision procedure and its thresholds
// encode field-tuned tie-breaking; every branch is deliberate.
package trend

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"criptoguia-rates/internal/history"
)

// Direction labels the market trend. The values are the Spanish labels the
// consumers render and persist.
type Direction string

const (
	Bullish Direction = "ALCISTA"
	Bearish Direction = "BAJISTA"
	Stable  Direction = "ESTABLE"
)

var decHundred = decimal.NewFromInt(100)

// Thresholds hold the classification constants, all in percent.
type Thresholds struct {
	// SignificantDayPct: a same-day move at or beyond this magnitude sets
	// the trend on its own.
	SignificantDayPct decimal.Decimal
	// PairwiseStepPct: a day-over-day step beyond this counts as up/down in
	// the multi-day rule.
	PairwiseStepPct decimal.Decimal
	// OverridePct: a multi-day trend contradicted by a same-day move beyond
	// this is forced stable.
	OverridePct decimal.Decimal
	// UrgentPct splits advice phrasing into urgent vs routine.
	UrgentPct decimal.Decimal
	// LookbackDays bounds the multi-day window, today included.
	LookbackDays int
}

// DefaultThresholds returns the field-tuned values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SignificantDayPct: decimal.NewFromInt(2),
		PairwiseStepPct:   decimal.NewFromFloat(0.5),
		OverridePct:       decimal.NewFromFloat(0.05),
		UrgentPct:         decimal.NewFromInt(3),
		LookbackDays:      5,
	}
}

// Analysis is the derived classification; it is recomputed from the ledger
// on every call and never stored.
type Analysis struct {
	Trend              Direction
	ConsecutiveDays    int
	TodayChange        decimal.Decimal
	TodayChangePercent decimal.Decimal
	PreviousDayRate    *decimal.Decimal
	Advice             string
}

// Analyzer evaluates the current rate against the ledger.
type Analyzer struct {
	ledger     *history.Ledger
	thresholds Thresholds
	logger     zerolog.Logger
}

// NewAnalyzer constructs an analyzer over a ledger.
func NewAnalyzer(ledger *history.Ledger, thresholds Thresholds, logger zerolog.Logger) *Analyzer {
	if thresholds.LookbackDays < 2 {
		thresholds.LookbackDays = DefaultThresholds().LookbackDays
	}
	return &Analyzer{
		ledger:     ledger,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "trend_analyzer").Logger(),
	}
}

// Analyze records the current rate into the ledger, then classifies the
// trend. Recording happens before any comparison data is read, so today's
// entry always sits at position 0 and yesterday at position 1.
func (a *Analyzer) Analyze(ctx context.Context, currentRate decimal.Decimal) Analysis {
	entries := a.ledger.Entries(ctx)

	if len(entries) == 0 {
		a.ledger.Record(ctx, currentRate)
		return Analysis{
			Trend:           Stable,
			ConsecutiveDays: 0,
			Advice:          adviceFirstMeasurement,
		}
	}

	a.ledger.Record(ctx, currentRate)
	entries = a.ledger.Entries(ctx)

	if len(entries) < 2 {
		return Analysis{
			Trend:           Stable,
			ConsecutiveDays: 1,
			Advice:          adviceAccumulating,
		}
	}

	yesterdayRate := entries[1].Rate
	todayChange := currentRate.Sub(yesterdayRate)
	todayChangePercent := todayChange.Div(yesterdayRate).Mul(decHundred)

	direction := Stable
	consecutiveDays := 0

	switch {
	case todayChangePercent.GreaterThanOrEqual(a.thresholds.SignificantDayPct):
		// a significant same-day move sets the trend by itself
		direction = Bullish
		consecutiveDays = 1
	case todayChangePercent.LessThanOrEqual(a.thresholds.SignificantDayPct.Neg()):
		direction = Bearish
		consecutiveDays = 1
	default:
		recent := entries
		if len(recent) > a.thresholds.LookbackDays {
			recent = recent[:a.thresholds.LookbackDays]
		}

		upDays := 0
		downDays := 0
		for i := 0; i < len(recent)-1; i++ {
			prev := recent[i+1].Rate
			curr := recent[i].Rate
			stepPercent := curr.Sub(prev).Div(prev).Mul(decHundred)
			if stepPercent.GreaterThan(a.thresholds.PairwiseStepPct) {
				upDays++
			} else if stepPercent.LessThan(a.thresholds.PairwiseStepPct.Neg()) {
				downDays++
			}
		}

		if upDays >= 2 && upDays > downDays {
			direction = Bullish
			consecutiveDays = upDays
		} else if downDays >= 2 && downDays > upDays {
			direction = Bearish
			consecutiveDays = downDays
		}

		// consistency override: never show a multi-day label that
		// contradicts the direction the number just moved
		if direction == Bearish && todayChangePercent.GreaterThan(a.thresholds.OverridePct) {
			direction = Stable
			consecutiveDays = 0
		}
		if direction == Bullish && todayChangePercent.LessThan(a.thresholds.OverridePct.Neg()) {
			direction = Stable
			consecutiveDays = 0
		}
	}

	analysis := Analysis{
		Trend:              direction,
		ConsecutiveDays:    consecutiveDays,
		TodayChange:        todayChange.Round(2),
		TodayChangePercent: todayChangePercent.Round(2),
		PreviousDayRate:    &yesterdayRate,
		Advice:             advice(direction, todayChangePercent, a.thresholds.UrgentPct),
	}

	a.logger.Debug().
		Str("trend", string(analysis.Trend)).
		Int("consecutive_days", analysis.ConsecutiveDays).
		Str("today_change_pct", analysis.TodayChangePercent.String()).
		Msg("trend classified")

	return analysis
}
