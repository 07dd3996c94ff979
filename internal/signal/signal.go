// Package signal standardizes payloads shared between tape ingestion, trend
// scoring, and the trading loop.
package signal

import "time"

// Side classifies the aggressor of an executed trade.
type Side int

const (
	// SideUnknown marks trades whose aggressor could not be inferred.
	SideUnknown Side = 0
	// SideBuy marks buyer-initiated trades.
	SideBuy Side = 1
	// SideSell marks seller-initiated trades.
	SideSell Side = -1
)

// Tick models one executed trade observed on the host trade tape.
type Tick struct {
	Price  float64
	Volume float64
	Side   Side
	Ts     time.Time
	// Key is the displayed time|price|volume triple used to deduplicate
	// re-reads of the same underlying row.
	Key string
}

// TapeRow is the raw, text-level view of a trade tape row as exposed by the
// host surface. Parsing and validation happen in the tape package.
type TapeRow struct {
	TimeText   string
	PriceText  string
	VolumeText string
	SideHint   string
}

// Label is the three-valued directional read of the market.
type Label string

const (
	LabelRising  Label = "rising"
	LabelFalling Label = "falling"
	LabelFlat    Label = "flat"
)

// Details carries the intermediate quantities behind a TrendState, for
// logging and diagnostics only.
type Details struct {
	LastPrice     float64
	VWAP          float64
	VWAPDiff      float64
	SlopeNorm     float64
	Imbalance     float64
	WindowSeconds float64
	SampleCount   int
}

// TrendState is the scorer output for one tick cycle. It is derived, never
// persisted, and fully determined by the tick window and thresholds.
type TrendState struct {
	Label      Label
	Score      float64
	Confidence float64
	Details    *Details // nil when the window had insufficient data
}

// Neutral returns the defined insufficient-data state.
func Neutral() TrendState {
	return TrendState{Label: LabelFlat}
}

// Record is one retained history entry used by the signal policy.
type Record struct {
	Ts    time.Time
	Label Label
	Price float64
}
