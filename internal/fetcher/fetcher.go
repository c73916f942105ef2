package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// P2PSnapshot aggregates one page of P2P order-book ads into a single reading.
// Prices preserve the order-book ranking; PercentChange is the dispersion of
// the average against the top-ranked ad, not a time-series movement.
type P2PSnapshot struct {
	AveragePrice  decimal.Decimal
	FirstPrice    decimal.Decimal
	Prices        []decimal.Decimal
	PercentChange decimal.Decimal
	AdsCount      int
	ObservedAt    time.Time
}

// OfficialRate is a single scrape of a central-bank published rate.
type OfficialRate struct {
	Currency   string
	Value      decimal.Decimal
	ObservedAt time.Time
}

// P2PMarketFetcher retrieves the parallel-market rate from a P2P order book.
type P2PMarketFetcher interface {
	FetchP2P(ctx context.Context) (P2PSnapshot, error)
}

// OfficialRateFetcher scrapes an official rate from the central-bank site.
type OfficialRateFetcher interface {
	FetchOfficial(ctx context.Context) (OfficialRate, error)
}
