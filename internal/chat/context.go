package chat

import (
	"fmt"
	"strings"

	"criptoguia-rates/internal/ratecache"
)

// BuildRateContext formats the best-known reading per source into the
// plain-text block injected into the assistant's system prompt. It works off
// a cache snapshot and therefore never fails; unknown sources are skipped and
// stale readings are flagged rather than dropped.
func BuildRateContext(readings map[ratecache.Source]ratecache.Reading) string {
	var b strings.Builder

	writeLine := func(label string, source ratecache.Source) {
		reading, ok := readings[source]
		if !ok {
			return
		}
		suffix := ""
		if reading.Stale {
			suffix = " (dato posiblemente desactualizado)"
		}
		fmt.Fprintf(&b, "%s: %s Bs%s\n", label, reading.Rate.StringFixed(2), suffix)
	}

	writeLine("Tasa Dólar Paralelo", ratecache.SourceP2PMarket)
	writeLine("Tasa BCV", ratecache.SourceOfficialUSD)
	writeLine("Tasa Euro", ratecache.SourceOfficialEUR)

	return strings.TrimRight(b.String(), "\n")
}
