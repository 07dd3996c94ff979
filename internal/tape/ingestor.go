// Package tape turns raw trade-tape rows into a deduplicated, time-windowed
// book of ticks for the trend scorer.
package tape

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wherexml/alpha-trade/internal/signal"
)

const (
	// DefaultWindow is the sliding window length for retained ticks.
	DefaultWindow = 45 * time.Second
	// DefaultMaxTrades caps how many ticks the book retains.
	DefaultMaxTrades = 300
)

var (
	numberRe = regexp.MustCompile(`([0-9]*\.?[0-9]+)`)
	clockRe  = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})$`)
)

// Ingestor accumulates parsed ticks. The seen-set persists across Ingest
// calls so re-reads of the same rendered row collapse to one tick; it is
// cleared only by Reset.
type Ingestor struct {
	window    time.Duration
	maxTrades int
	now       func() time.Time

	ticks []signal.Tick
	seen  map[string]struct{}
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithWindow overrides the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(in *Ingestor) {
		if d > 0 {
			in.window = d
		}
	}
}

// WithMaxTrades overrides the retained tick cap.
func WithMaxTrades(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxTrades = n
		}
	}
}

// WithClock injects the time source (tests use a fixed clock).
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) {
		if now != nil {
			in.now = now
		}
	}
}

// NewIngestor builds an empty ingestor with production defaults.
func NewIngestor(opts ...Option) *Ingestor {
	in := &Ingestor{
		window:    DefaultWindow,
		maxTrades: DefaultMaxTrades,
		now:       time.Now,
		seen:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest parses and appends raw rows, then trims the book to the window and
// the retained-count cap. Rows that fail numeric parsing are dropped.
func (in *Ingestor) Ingest(rows []signal.TapeRow) {
	now := in.now()
	for _, row := range rows {
		key := row.TimeText + "|" + row.PriceText + "|" + row.VolumeText
		if _, dup := in.seen[key]; dup {
			continue
		}
		price, ok := ParsePrice(row.PriceText)
		if !ok {
			continue
		}
		volume := ParseVolume(row.VolumeText)
		if !isFinite(price) || !isFinite(volume) || volume <= 0 {
			continue
		}
		in.seen[key] = struct{}{}
		in.ticks = append(in.ticks, signal.Tick{
			Price:  price,
			Volume: volume,
			Side:   ParseSideHint(row.SideHint),
			Ts:     ParseClock(row.TimeText, now),
			Key:    key,
		})
	}
	in.trim(now)
}

func (in *Ingestor) trim(now time.Time) {
	cutoff := now.Add(-in.window)
	kept := in.ticks[:0]
	for _, t := range in.ticks {
		if !t.Ts.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	in.ticks = kept
	if len(in.ticks) > in.maxTrades {
		in.ticks = in.ticks[len(in.ticks)-in.maxTrades:]
	}
}

// Snapshot returns the retained ticks, oldest first.
func (in *Ingestor) Snapshot() []signal.Tick {
	out := make([]signal.Tick, len(in.ticks))
	copy(out, in.ticks)
	return out
}

// Len reports the retained tick count.
func (in *Ingestor) Len() int { return len(in.ticks) }

// Reset drops the book and the dedup set (detector restart).
func (in *Ingestor) Reset() {
	in.ticks = nil
	in.seen = make(map[string]struct{})
}

// ParsePrice extracts a price from display text such as "$0.1234".
func ParsePrice(s string) (float64, bool) {
	m := numberRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseVolume extracts a volume from display text, honoring K/M suffixes
// ("1.2K" -> 1200). Unparseable text yields 0, which Ingest drops.
func ParseVolume(s string) float64 {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(s))
	m := numberRe.FindStringSubmatch(cleaned)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	upper := strings.ToUpper(cleaned)
	switch {
	case strings.Contains(upper, "M"):
		v *= 1e6
	case strings.Contains(upper, "K"):
		v *= 1e3
	}
	return v
}

// ParseSideHint maps the surface's style/side hint onto a trade side.
func ParseSideHint(hint string) signal.Side {
	lower := strings.ToLower(hint)
	switch {
	case strings.Contains(lower, "buy"):
		return signal.SideBuy
	case strings.Contains(lower, "sell"):
		return signal.SideSell
	default:
		return signal.SideUnknown
	}
}

// ParseClock resolves "HH:MM:SS" against now's date; anything else falls
// back to now.
func ParseClock(s string, now time.Time) time.Time {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return now
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return time.Date(now.Year(), now.Month(), now.Day(), h, min, sec, 0, now.Location())
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
