// Package trend converts the windowed tick book into a discrete directional
// signal.
package trend

import (
	"math"

	"github.com/wherexml/alpha-trade/internal/signal"
)

const (
	// DefaultThreshold is the score magnitude needed for a directional label.
	DefaultThreshold = 0.003
	// DefaultMinReturn is the minimum absolute window return needed for a
	// directional label.
	DefaultMinReturn = 0.0002
	// minSamples is the fewest ticks the scorer will read a direction from.
	minSamples = 6

	slopeWeight     = 0.6
	vwapWeight      = 0.25
	imbalanceWeight = 0.15
)

// Scorer holds the decision thresholds. ComputeState is a pure function of
// the tick window; the scorer carries no other state.
type Scorer struct {
	Threshold float64
	MinReturn float64
}

// NewScorer builds a scorer, substituting defaults for non-positive values.
func NewScorer(threshold, minReturn float64) Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minReturn <= 0 {
		minReturn = DefaultMinReturn
	}
	return Scorer{Threshold: threshold, MinReturn: minReturn}
}

// ComputeState scores the window. Fewer than six ticks yields the neutral
// state; that is a defined edge case, not an error.
func (s Scorer) ComputeState(ticks []signal.Tick) signal.TrendState {
	n := len(ticks)
	if n < minSamples {
		return signal.Neutral()
	}

	first := ticks[0]
	last := ticks[n-1]
	dt := last.Ts.Sub(first.Ts).Seconds()
	if dt == 0 {
		dt = 1
	}

	var sumW, sumPV, buyVol, sellVol float64
	for _, t := range ticks {
		sumW += t.Volume
		sumPV += t.Price * t.Volume
		switch {
		case t.Side > 0:
			buyVol += t.Volume
		case t.Side < 0:
			sellVol += t.Volume
		}
	}
	vwap := sumPV / nonZero(sumW)

	// OLS slope of price against seconds since the first tick.
	var sx, sy, sxx, sxy float64
	for _, t := range ticks {
		x := t.Ts.Sub(first.Ts).Seconds()
		y := t.Price
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	denom := nonZero(float64(n)*sxx - sx*sx)
	slope := (float64(n)*sxy - sx*sy) / denom
	slopeNorm := slope / nonZero(last.Price)

	vwapDiff := (last.Price - vwap) / nonZero(vwap)
	var imbalance float64
	if total := buyVol + sellVol; total > 0 {
		imbalance = clamp((buyVol-sellVol)/total, -1, 1)
	}

	score := slopeWeight*slopeNorm + vwapWeight*vwapDiff + imbalanceWeight*imbalance
	ret := (last.Price - first.Price) / nonZero(first.Price)

	label := signal.LabelFlat
	if score > s.Threshold && math.Abs(ret) >= s.MinReturn {
		label = signal.LabelRising
	} else if score < -s.Threshold && math.Abs(ret) >= s.MinReturn {
		label = signal.LabelFalling
	}

	confidence := clamp(math.Abs(score)/(2*s.Threshold), 0, 1)

	return signal.TrendState{
		Label:      label,
		Score:      score,
		Confidence: confidence,
		Details: &signal.Details{
			LastPrice:     last.Price,
			VWAP:          vwap,
			VWAPDiff:      vwapDiff,
			SlopeNorm:     slopeNorm,
			Imbalance:     imbalance,
			WindowSeconds: dt,
			SampleCount:   n,
		},
	}
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
