package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RateObservation is one archived reading of one source for a sampling bucket.
type RateObservation struct {
	Bucket    time.Time
	Source    string
	Rate      decimal.Decimal
	Details   json.RawMessage
	Stale     bool
	Status    string
	Error     *string
	CreatedAt time.Time
}

// TrendAlertRecord captures an emitted trend alert for de-duplication/auditing.
type TrendAlertRecord struct {
	ID           int64
	SampleTS     time.Time
	Rate         decimal.Decimal
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Trend        string
	Channels     []string
	CreatedAt    time.Time
}
