package trend

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/metrics"
	"github.com/wherexml/alpha-trade/internal/signal"
	"github.com/wherexml/alpha-trade/internal/tape"
)

// DefaultUpdateInterval is the tape polling cadence.
const DefaultUpdateInterval = 800 * time.Millisecond

// TapeSource is the slice of the host surface the detector reads.
type TapeSource interface {
	TapeRows(ctx context.Context) ([]signal.TapeRow, error)
}

// Detector drives the ingest-then-score cycle against the host tape and
// hands each fresh state to the registered callback.
type Detector struct {
	source   TapeSource
	ingestor *tape.Ingestor
	scorer   Scorer
	interval time.Duration
	onState  func(signal.TrendState)
	log      zerolog.Logger
}

// NewDetector wires a detector. onState may be nil when only metrics are
// wanted.
func NewDetector(source TapeSource, ingestor *tape.Ingestor, scorer Scorer, interval time.Duration, onState func(signal.TrendState), log zerolog.Logger) *Detector {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	return &Detector{
		source:   source,
		ingestor: ingestor,
		scorer:   scorer,
		interval: interval,
		onState:  onState,
		log:      log,
	}
}

// Run polls until ctx is canceled. Tape read failures are transient: logged
// at debug and skipped, matching the retry-on-next-cycle model.
func (d *Detector) Run(ctx context.Context) error {
	d.ingestor.Reset()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *Detector) cycle(ctx context.Context) {
	rows, err := d.source.TapeRows(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("tape read failed, skipping cycle")
		return
	}
	before := d.ingestor.Len()
	d.ingestor.Ingest(rows)
	if added := d.ingestor.Len() - before; added > 0 {
		metrics.TicksTotal.Add(float64(added))
	}

	state := d.scorer.ComputeState(d.ingestor.Snapshot())
	metrics.SignalsTotal.WithLabelValues(string(state.Label)).Inc()
	if state.Details != nil {
		d.log.Debug().
			Str("label", string(state.Label)).
			Float64("score", state.Score).
			Float64("confidence", state.Confidence).
			Float64("last_price", state.Details.LastPrice).
			Float64("vwap", state.Details.VWAP).
			Int("samples", state.Details.SampleCount).
			Msg("trend state")
	}
	if d.onState != nil {
		d.onState(state)
	}
}
