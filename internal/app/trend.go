package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"criptoguia-rates/internal/ratecache"
)

// Trend fetches the current parallel rate, records it, and prints the
// resulting trend analysis.
func (a *App) Trend(ctx context.Context) error {
	ledger, closeLedger, err := a.newLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	cache := a.newCache()
	reading, err := cache.Get(ctx, ratecache.SourceP2PMarket)
	if err != nil {
		return fmt.Errorf("fetch parallel rate: %w", err)
	}

	analysis := a.newAnalyzer(ledger).Analyze(ctx, reading.Rate)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Tasa actual:\t%s Bs\n", reading.Rate.StringFixed(2))
	fmt.Fprintf(writer, "Observada:\t%s\n", reading.ObservedAt.UTC().Format(time.RFC3339))
	if reading.Stale {
		fmt.Fprintf(writer, "Advertencia:\tdato desactualizado (%.0fs)\n", reading.Age.Seconds())
	}
	fmt.Fprintf(writer, "Tendencia:\t%s\n", analysis.Trend)
	fmt.Fprintf(writer, "Días consecutivos:\t%d\n", analysis.ConsecutiveDays)
	if analysis.PreviousDayRate != nil {
		fmt.Fprintf(writer, "Tasa anterior:\t%s Bs\n", analysis.PreviousDayRate.StringFixed(2))
		fmt.Fprintf(writer, "Cambio hoy:\t%s Bs (%s%%)\n", analysis.TodayChange.StringFixed(2), analysis.TodayChangePercent.StringFixed(2))
	}
	writer.Flush()

	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, analysis.Advice)
	return nil
}
