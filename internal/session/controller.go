// Package session runs the trading loop: count-limited manual rounds or
// policy-triggered smart buys, both driving the order executor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/metrics"
	"github.com/wherexml/alpha-trade/internal/order"
	"github.com/wherexml/alpha-trade/internal/policy"
	"github.com/wherexml/alpha-trade/internal/signal"
	"github.com/wherexml/alpha-trade/internal/surface"
)

// MinAmount is the smallest notional a session will accept.
const MinAmount = 0.1

// DailyCounter persists the confirmed-trade counter across restarts.
type DailyCounter interface {
	DailyCount(now time.Time) (int, error)
	IncrementDailyCount(now time.Time) (int, error)
}

// BuyExecutor runs one buy attempt; satisfied by order.Executor.
type BuyExecutor interface {
	ExecuteBuy(ctx context.Context, req order.Request) error
}

// Config carries the loop pacing knobs. Zero values take the production
// constants.
type Config struct {
	// Delay between successful rounds in manual mode.
	Delay time.Duration
	// AttemptRetries bounds how often one round is retried whole.
	AttemptRetries    int
	AttemptRetryDelay time.Duration
	// MaxConsecutiveFailures aborts the session once reached.
	MaxConsecutiveFailures int
	// RuntimeCheckDelay is the backoff when the page is offline or away
	// from the trading view, and after a skipped round.
	RuntimeCheckDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Delay <= 0 {
		c.Delay = 500 * time.Millisecond
	}
	if c.AttemptRetries <= 0 {
		c.AttemptRetries = 3
	}
	if c.AttemptRetryDelay <= 0 {
		c.AttemptRetryDelay = 2 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.RuntimeCheckDelay <= 0 {
		c.RuntimeCheckDelay = 5 * time.Second
	}
}

// Controller owns the session lifecycle. All entry points are safe for
// concurrent use; at most one session runs at a time.
type Controller struct {
	surface surface.Surface
	exec    BuyExecutor
	history *policy.History
	counter DailyCounter
	clock   order.Clock
	log     zerolog.Logger
	cfg     Config

	running  atomic.Bool
	inFlight atomic.Bool

	mu     sync.Mutex
	sess   Session
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController wires the loop; counter may be nil and clock nil means the
// wall clock.
func NewController(s surface.Surface, exec BuyExecutor, hist *policy.History, counter DailyCounter, clock order.Clock, log zerolog.Logger, cfg Config) *Controller {
	if clock == nil {
		clock = order.RealClock()
	}
	cfg.applyDefaults()
	return &Controller{
		surface: s,
		exec:    exec,
		history: hist,
		counter: counter,
		clock:   clock,
		log:     log,
		cfg:     cfg,
		sess:    Session{Mode: ModeIdle, BuyAmountRatio: 1.0},
	}
}

// StartManual launches a count-limited buy loop. maxCount 0 means unlimited.
func (c *Controller) StartManual(ctx context.Context, amount float64, maxCount int) error {
	if amount < MinAmount {
		return fmt.Errorf("amount %.2f below minimum %.2f", amount, MinAmount)
	}
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.sess = Session{Mode: ModeManual, MaxTradeCount: maxCount, BaseAmount: amount, BuyAmountRatio: 1.0}
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info().Float64("amount", amount).Int("max_count", maxCount).Msg("manual session started")
	go c.runManual(ctx, done)
	return nil
}

// StartSmart arms the policy-driven mode; buys happen from OnTrendState.
// maxCount 0 means unlimited, same as manual mode.
func (c *Controller) StartSmart(ctx context.Context, amount float64, maxCount int) error {
	if amount < MinAmount {
		return fmt.Errorf("amount %.2f below minimum %.2f", amount, MinAmount)
	}
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}

	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.sess = Session{Mode: ModeSmart, MaxTradeCount: maxCount, BaseAmount: amount, BuyAmountRatio: 1.0}
	c.cancel = cancel
	c.done = nil
	c.mu.Unlock()

	c.log.Info().Float64("amount", amount).Int("max_count", maxCount).Msg("smart session started")
	return nil
}

// Stop ends the session after the in-flight round, if any, finishes.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.log.Info().Msg("session stop requested")
}

// ForceStop is Stop plus a reset of the session counters, for when the
// operator wants a clean slate immediately.
func (c *Controller) ForceStop() {
	c.Stop()
	c.mu.Lock()
	c.sess = Session{Mode: ModeIdle, BuyAmountRatio: 1.0}
	c.mu.Unlock()
	c.log.Warn().Msg("session force stopped")
}

// Wait blocks until the manual loop goroutine exits; a no-op for smart or
// idle sessions.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Snapshot returns the current session view for the status endpoint.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	snap := Snapshot{
		Mode:              sess.Mode,
		IsRunning:         c.running.Load(),
		CurrentTradeCount: sess.CurrentTradeCount,
		MaxTradeCount:     sess.MaxTradeCount,
		BaseAmount:        sess.BaseAmount,
		BuyAmountRatio:    sess.BuyAmountRatio,
		CanStartBuying:    true,
	}
	if c.history != nil {
		snap.CanStartBuying = c.history.CanStartBuying()
	}
	if c.counter != nil {
		if n, err := c.counter.DailyCount(c.clock.Now()); err == nil {
			snap.DailyCount = n
		}
	}
	return snap
}

// OnTrendState feeds one trend state into the smart session. Triggers that
// arrive while a buy is still in flight are dropped, not queued.
func (c *Controller) OnTrendState(ctx context.Context, st signal.TrendState) {
	if c.history != nil && st.Details != nil {
		c.history.Record(st.Label, st.Details.LastPrice, c.clock.Now())
		c.log.Debug().
			Str("label", string(st.Label)).
			Float64("pct_change", c.history.PctChange()).
			Msg("signal recorded")
	}
	if !c.running.Load() || c.mode() != ModeSmart || c.history == nil {
		return
	}

	decision := c.history.Evaluate()
	switch decision.Action {
	case policy.ActionStop:
		c.log.Info().Msg("falling signal in pattern, holding off")
		return
	case policy.ActionBuy:
	default:
		return
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debug().Msg("buy already in flight, trigger dropped")
		return
	}

	c.mu.Lock()
	c.sess.BuyAmountRatio = decision.SizeRatio
	amount := c.sess.BaseAmount * decision.SizeRatio
	c.mu.Unlock()

	// The attempt can outlast many detector cycles, so it must not run on
	// the detector goroutine; the in-flight guard drops triggers that fire
	// while it is still out.
	go c.runSmartBuy(ctx, amount, decision.SizeRatio)
}

func (c *Controller) runSmartBuy(ctx context.Context, amount, ratio float64) {
	defer c.inFlight.Store(false)

	if !c.runtimeReady(ctx) {
		return
	}

	c.log.Info().Float64("amount", amount).Float64("ratio", ratio).Msg("smart buy triggered")
	err := c.exec.ExecuteBuy(ctx, order.Request{Amount: amount})
	if !c.running.Load() || ctx.Err() != nil {
		return
	}
	switch {
	case err == nil:
		metrics.AttemptsTotal.WithLabelValues("ok").Inc()
		c.confirmed()
	case errors.Is(err, order.ErrIncomplete):
		metrics.AttemptsTotal.WithLabelValues("incomplete").Inc()
		c.log.Warn().Msg("smart buy not confirmed, skipping")
	case order.ClassOf(err) == order.ClassSessionFatal:
		metrics.AttemptsTotal.WithLabelValues("failed").Inc()
		c.log.Error().Err(err).Msg("smart buy hit session-fatal error, stopping")
		c.Stop()
	default:
		metrics.AttemptsTotal.WithLabelValues("failed").Inc()
		c.log.Warn().Err(err).Msg("smart buy failed")
	}
}

func (c *Controller) mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Mode
}

func (c *Controller) runManual(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.running.Store(false)

	consecutive := 0
	for c.running.Load() {
		if err := ctx.Err(); err != nil {
			return
		}
		if !c.runtimeReady(ctx) {
			if err := c.clock.Sleep(ctx, c.cfg.RuntimeCheckDelay); err != nil {
				return
			}
			continue
		}

		c.mu.Lock()
		amount := c.sess.BaseAmount
		c.mu.Unlock()

		err := c.attemptWithRetry(ctx, amount)
		if !c.running.Load() || ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			consecutive = 0
			if c.confirmed() {
				c.log.Info().Msg("trade count reached, session complete")
				return
			}
		case errors.Is(err, order.ErrIncomplete):
			// Unconfirmed rounds are skipped; they count toward nothing.
			c.log.Warn().Msg("round not confirmed, skipping")
			if err := c.clock.Sleep(ctx, c.cfg.RuntimeCheckDelay); err != nil {
				return
			}
			continue
		case order.ClassOf(err) == order.ClassSessionFatal:
			c.log.Error().Err(err).Msg("session-fatal error, stopping")
			return
		default:
			consecutive++
			c.log.Warn().Err(err).Int("consecutive", consecutive).Msg("round failed")
			if consecutive >= c.cfg.MaxConsecutiveFailures {
				c.log.Error().Int("failures", consecutive).Msg("too many consecutive failures, aborting session")
				return
			}
			if err := c.clock.Sleep(ctx, c.cfg.RuntimeCheckDelay); err != nil {
				return
			}
			continue
		}

		if err := c.clock.Sleep(ctx, c.cfg.Delay); err != nil {
			return
		}
	}
}

// runtimeReady verifies the host page is still usable before a round starts.
func (c *Controller) runtimeReady(ctx context.Context) bool {
	st, err := c.surface.PageState(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("page state unavailable, backing off")
		return false
	}
	if !st.Online || !st.OnTradingPage || !st.LoggedIn {
		c.log.Warn().
			Bool("online", st.Online).
			Bool("on_trading_page", st.OnTradingPage).
			Bool("logged_in", st.LoggedIn).
			Msg("page not ready, backing off")
		return false
	}
	return true
}

// attemptWithRetry runs one round, retrying attempt-fatal failures up to the
// budget. Session-fatal and unconfirmed outcomes return immediately.
func (c *Controller) attemptWithRetry(ctx context.Context, amount float64) error {
	var err error
	for i := 0; i < c.cfg.AttemptRetries; i++ {
		err = c.exec.ExecuteBuy(ctx, order.Request{Amount: amount})
		if err == nil {
			metrics.AttemptsTotal.WithLabelValues("ok").Inc()
			return nil
		}
		if errors.Is(err, order.ErrIncomplete) {
			metrics.AttemptsTotal.WithLabelValues("incomplete").Inc()
			return err
		}
		metrics.AttemptsTotal.WithLabelValues("failed").Inc()
		if order.ClassOf(err) == order.ClassSessionFatal || ctx.Err() != nil {
			return err
		}
		if i < c.cfg.AttemptRetries-1 {
			c.log.Warn().Err(err).Int("attempt", i+1).Msg("attempt failed, retrying")
			if serr := c.clock.Sleep(ctx, c.cfg.AttemptRetryDelay); serr != nil {
				return serr
			}
		}
	}
	return err
}

// confirmed records one completed round and reports whether the session hit
// its trade count limit.
func (c *Controller) confirmed() bool {
	metrics.TradesTotal.Inc()

	c.mu.Lock()
	c.sess.CurrentTradeCount++
	count := c.sess.CurrentTradeCount
	max := c.sess.MaxTradeCount
	c.mu.Unlock()

	if c.counter != nil {
		if n, err := c.counter.IncrementDailyCount(c.clock.Now()); err != nil {
			c.log.Warn().Err(err).Msg("daily counter update failed")
		} else {
			c.log.Info().Int("daily_count", n).Msg("daily counter updated")
		}
	}

	c.log.Info().Int("count", count).Int("max", max).Msg("trade confirmed")
	if max > 0 {
		remaining := max - count
		switch {
		case remaining <= 0:
			c.Stop()
			return true
		case remaining <= 2:
			c.log.Warn().Int("remaining", remaining).Msg("session almost done")
		case remaining <= 5:
			c.log.Info().Int("remaining", remaining).Msg("few trades remaining")
		}
	}
	return false
}
