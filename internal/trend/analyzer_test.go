package trend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"criptoguia-rates/internal/history"
)

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

// seededAnalyzer builds a ledger holding one entry per day for the given
// rates (oldest first) and returns an analyzer whose clock sits on the day
// after the last seeded entry.
func seededAnalyzer(t *testing.T, rates ...string) (*Analyzer, *time.Time) {
	t.Helper()

	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	clock := &now

	ledger := history.NewLedger(&memStore{values: map[string]string{}}, history.Options{
		MaxEntries: 30,
		Clock:      func() time.Time { return *clock },
	}, zerolog.Nop())

	for _, rate := range rates {
		ledger.Record(context.Background(), decimal.RequireFromString(rate))
		now = now.AddDate(0, 0, 1)
	}

	return NewAnalyzer(ledger, DefaultThresholds(), zerolog.Nop()), clock
}

func TestAnalyzeEmptyLedger(t *testing.T) {
	a, _ := seededAnalyzer(t)

	got := a.Analyze(context.Background(), decimal.NewFromInt(100))

	if got.Trend != Stable {
		t.Fatalf("trend = %s, want ESTABLE", got.Trend)
	}
	if got.ConsecutiveDays != 0 {
		t.Fatalf("consecutiveDays = %d, want 0", got.ConsecutiveDays)
	}
	if got.PreviousDayRate != nil {
		t.Fatal("previous day rate must be absent")
	}
	if !strings.Contains(got.Advice, "Primera medición") {
		t.Fatalf("advice = %q", got.Advice)
	}

	// the observation itself must have been recorded
	followUp := a.Analyze(context.Background(), decimal.NewFromInt(100))
	if followUp.ConsecutiveDays != 1 {
		t.Fatalf("same-day follow-up consecutiveDays = %d, want 1", followUp.ConsecutiveDays)
	}
	if !strings.Contains(followUp.Advice, "Acumulando") {
		t.Fatalf("follow-up advice = %q", followUp.Advice)
	}
}

func TestAnalyzeSameDayDominance(t *testing.T) {
	a, _ := seededAnalyzer(t, "100")

	got := a.Analyze(context.Background(), decimal.NewFromInt(103))

	if got.Trend != Bullish {
		t.Fatalf("trend = %s, want ALCISTA", got.Trend)
	}
	if got.ConsecutiveDays != 1 {
		t.Fatalf("consecutiveDays = %d, want 1", got.ConsecutiveDays)
	}
	if !got.TodayChange.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("todayChange = %s, want 3", got.TodayChange)
	}
	if !got.TodayChangePercent.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("todayChangePercent = %s, want 3", got.TodayChangePercent)
	}
	if got.PreviousDayRate == nil || !got.PreviousDayRate.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("previousDayRate = %v, want 100", got.PreviousDayRate)
	}
}

func TestAnalyzeSameDayDominanceBearish(t *testing.T) {
	a, _ := seededAnalyzer(t, "100")

	got := a.Analyze(context.Background(), decimal.RequireFromString("97.9"))

	if got.Trend != Bearish {
		t.Fatalf("trend = %s, want BAJISTA", got.Trend)
	}
	if got.ConsecutiveDays != 1 {
		t.Fatalf("consecutiveDays = %d, want 1", got.ConsecutiveDays)
	}
}

func TestAnalyzePrimaryRulePreemptsMultiDay(t *testing.T) {
	// history (oldest first): 98, 100, 102; re-analyzing 102 on the last day
	// gives pairwise up/up, but the +2.0% same-day move fires first.
	a, clock := seededAnalyzer(t, "98", "100", "102")
	*clock = clock.AddDate(0, 0, -1) // back onto the last seeded day

	got := a.Analyze(context.Background(), decimal.NewFromInt(102))

	if got.Trend != Bullish {
		t.Fatalf("trend = %s, want ALCISTA", got.Trend)
	}
	if got.ConsecutiveDays != 1 {
		t.Fatalf("consecutiveDays = %d, want 1 (primary rule, not the 2-day run)", got.ConsecutiveDays)
	}
}

func TestAnalyzeMultiDayRun(t *testing.T) {
	// small same-day move on top of three clear up-steps
	a, _ := seededAnalyzer(t, "96", "97", "98", "100")

	got := a.Analyze(context.Background(), decimal.RequireFromString("100.1"))

	if got.Trend != Bullish {
		t.Fatalf("trend = %s, want ALCISTA", got.Trend)
	}
	if got.ConsecutiveDays != 3 {
		t.Fatalf("consecutiveDays = %d, want 3 up-days", got.ConsecutiveDays)
	}
}

func TestAnalyzeConsistencyOverride(t *testing.T) {
	// multi-day read is clearly bearish, but today the number went up 0.1%:
	// showing a falling label next to a green number confuses people.
	a, _ := seededAnalyzer(t, "100", "98", "96", "95")

	got := a.Analyze(context.Background(), decimal.RequireFromString("95.095"))

	if got.Trend != Stable {
		t.Fatalf("trend = %s, want ESTABLE (override)", got.Trend)
	}
	if got.ConsecutiveDays != 0 {
		t.Fatalf("consecutiveDays = %d, want 0", got.ConsecutiveDays)
	}
}

func TestAnalyzeConsistencyOverrideBullish(t *testing.T) {
	a, _ := seededAnalyzer(t, "95", "96", "98", "100")

	got := a.Analyze(context.Background(), decimal.RequireFromString("99.9"))

	if got.Trend != Stable {
		t.Fatalf("trend = %s, want ESTABLE (bullish run contradicted by a -0.1%% day)", got.Trend)
	}
}

func TestAnalyzeNeutralStepsStayStable(t *testing.T) {
	a, _ := seededAnalyzer(t, "590.20", "590.50", "589.80", "590.10")

	got := a.Analyze(context.Background(), decimal.RequireFromString("590.00"))

	if got.Trend != Stable {
		t.Fatalf("trend = %s, want ESTABLE", got.Trend)
	}
	if got.ConsecutiveDays != 0 {
		t.Fatalf("consecutiveDays = %d, want 0", got.ConsecutiveDays)
	}
	if !strings.Contains(got.Advice, "estable") {
		t.Fatalf("advice = %q", got.Advice)
	}
}

func TestAnalyzeUrgentAdviceTier(t *testing.T) {
	a, _ := seededAnalyzer(t, "100")

	got := a.Analyze(context.Background(), decimal.RequireFromString("103.5"))

	if got.Trend != Bullish {
		t.Fatalf("trend = %s, want ALCISTA", got.Trend)
	}
	if !strings.Contains(got.Advice, "3.5%") {
		t.Fatalf("urgent advice should cite the move, got %q", got.Advice)
	}
	if !strings.Contains(got.Advice, "Atención") {
		t.Fatalf("advice should use the urgent phrasing, got %q", got.Advice)
	}
}

func TestAnalyzeRoundsChangesToTwoDecimals(t *testing.T) {
	a, _ := seededAnalyzer(t, "97")

	got := a.Analyze(context.Background(), decimal.RequireFromString("98"))

	// (98-97)/97*100 = 1.0309...% -> 1.03
	if !got.TodayChangePercent.Equal(decimal.RequireFromString("1.03")) {
		t.Fatalf("todayChangePercent = %s, want 1.03", got.TodayChangePercent)
	}
	if !got.TodayChange.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("todayChange = %s, want 1", got.TodayChange)
	}
}
