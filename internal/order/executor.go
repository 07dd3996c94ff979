// Package order drives one full buy attempt through the confirmation-gated
// entry form: a linear pipeline of independently retried steps.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/metrics"
	"github.com/wherexml/alpha-trade/internal/surface"
	"github.com/wherexml/alpha-trade/internal/tape"
)

// Config carries the per-step retry budgets and settle delays. Zero values
// take the constants of the production pipeline.
type Config struct {
	SafetyBuffer     float64
	SellDiscountRate float64
	ReverseOrder     bool

	TabSwitchAttempts int
	TabSwitchInterval time.Duration

	SettleDelay time.Duration
	InputDelay  time.Duration
	SubmitDelay time.Duration

	ConfirmDetectAttempts  int
	ConfirmDetectInterval  time.Duration
	ConfirmDismissAttempts int
	ConfirmDismissInterval time.Duration

	CompletionChecks   int
	CompletionInterval time.Duration
	FinalSettleDelay   time.Duration
}

func (c *Config) applyDefaults() {
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = DefaultSafetyBuffer
	}
	if c.SellDiscountRate <= 0 {
		c.SellDiscountRate = 0.02
	}
	if c.TabSwitchAttempts <= 0 {
		c.TabSwitchAttempts = 6
	}
	if c.TabSwitchInterval <= 0 {
		c.TabSwitchInterval = 150 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 200 * time.Millisecond
	}
	if c.InputDelay <= 0 {
		c.InputDelay = 100 * time.Millisecond
	}
	if c.SubmitDelay <= 0 {
		c.SubmitDelay = 300 * time.Millisecond
	}
	if c.ConfirmDetectAttempts <= 0 {
		c.ConfirmDetectAttempts = 5
	}
	if c.ConfirmDetectInterval <= 0 {
		c.ConfirmDetectInterval = 100 * time.Millisecond
	}
	if c.ConfirmDismissAttempts <= 0 {
		c.ConfirmDismissAttempts = 5
	}
	if c.ConfirmDismissInterval <= 0 {
		c.ConfirmDismissInterval = 200 * time.Millisecond
	}
	if c.CompletionChecks <= 0 {
		c.CompletionChecks = 120
	}
	if c.CompletionInterval <= 0 {
		c.CompletionInterval = time.Second
	}
	if c.FinalSettleDelay <= 0 {
		c.FinalSettleDelay = 500 * time.Millisecond
	}
}

// Request is the input for one buy attempt.
type Request struct {
	// Amount is the target notional before the safety buffer.
	Amount float64
}

// Executor runs the buy pipeline against a host surface.
type Executor struct {
	surface surface.Surface
	clock   Clock
	log     zerolog.Logger
	cfg     Config
}

// NewExecutor builds an executor; nil clock means the wall clock.
func NewExecutor(s surface.Surface, clock Clock, log zerolog.Logger, cfg Config) *Executor {
	if clock == nil {
		clock = RealClock()
	}
	cfg.applyDefaults()
	return &Executor{surface: s, clock: clock, log: log, cfg: cfg}
}

// ExecuteBuy runs all steps of one attempt. Any returned error is a
// *StepError; the caller maps its class onto attempt or session handling.
// A confirmation dialog that will not dismiss is fatal for the attempt and
// never leads to a resubmission.
func (e *Executor) ExecuteBuy(ctx context.Context, req Request) error {
	started := e.clock.Now()

	steps := []struct {
		name string
		run  func(context.Context, Request) error
	}{
		{"select_buy_side", e.selectBuySide},
		{"toggle_reverse_order", e.toggleReverseOrder},
		{"set_prices", e.setPrices},
		{"set_amount", e.setAmount},
		{"check_balance", e.checkBalance},
		{"submit", e.submit},
		{"resolve_confirmation", e.resolveConfirmation},
		{"wait_completion", e.waitForCompletion},
		{"final_confirmation", e.finalConfirmation},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.run(ctx, req); err != nil {
			metrics.StepFailuresTotal.WithLabelValues(step.name).Inc()
			e.log.Warn().Str("step", step.name).Err(err).Msg("buy step failed")
			return err
		}
	}

	e.log.Info().Dur("took", e.clock.Now().Sub(started)).Msg("buy attempt confirmed complete")
	return nil
}

// selectBuySide is idempotent: an already-active buy tab is a no-op.
func (e *Executor) selectBuySide(ctx context.Context, _ Request) error {
	active, err := e.surface.BuyTabActive(ctx)
	if err == nil && active {
		return nil
	}

	if err := e.surface.SelectBuyTab(ctx); err != nil {
		return fail("select_buy_side", ClassAttemptFatal, err)
	}
	for i := 0; i < e.cfg.TabSwitchAttempts; i++ {
		if err := e.clock.Sleep(ctx, e.cfg.TabSwitchInterval); err != nil {
			return err
		}
		active, err := e.surface.BuyTabActive(ctx)
		if err == nil && active {
			return nil
		}
		if i < e.cfg.TabSwitchAttempts-1 {
			// The page occasionally swallows the first click.
			_ = e.surface.SelectBuyTab(ctx)
		}
	}
	return fail("select_buy_side", ClassAttemptFatal, ErrTabSwitchFailed)
}

// toggleReverseOrder is check-then-set with post-verification.
func (e *Executor) toggleReverseOrder(ctx context.Context, _ Request) error {
	if !e.cfg.ReverseOrder {
		return nil
	}
	checked, err := e.surface.ReverseOrderChecked(ctx)
	if err != nil {
		return fail("toggle_reverse_order", ClassAttemptFatal, err)
	}
	if checked {
		return nil
	}
	if err := e.surface.ToggleReverseOrder(ctx); err != nil {
		return fail("toggle_reverse_order", ClassAttemptFatal, err)
	}
	if err := e.clock.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return err
	}
	checked, err = e.surface.ReverseOrderChecked(ctx)
	if err != nil || !checked {
		return fail("toggle_reverse_order", ClassAttemptFatal, ErrToggleFailed)
	}
	return nil
}

func (e *Executor) setPrices(ctx context.Context, _ Request) error {
	text, err := e.surface.ReferencePrice(ctx)
	if err != nil {
		return fail("set_prices", ClassAttemptFatal, ErrPriceUnavailable)
	}
	ref, ok := tape.ParsePrice(text)
	if !ok || ref <= 0 {
		return fail("set_prices", ClassAttemptFatal, ErrPriceUnavailable)
	}

	buyPrice := ref
	sellPrice := buyPrice * (1 - e.cfg.SellDiscountRate)

	if err := e.surface.SetBuyPrice(ctx, FormatPrice(buyPrice)); err != nil {
		return fail("set_prices", ClassAttemptFatal, err)
	}
	if err := e.surface.SetSellPrice(ctx, FormatPrice(sellPrice)); err != nil {
		return fail("set_prices", ClassAttemptFatal, err)
	}
	e.log.Debug().Float64("buy", buyPrice).Float64("sell", sellPrice).Msg("limit prices set")
	return e.clock.Sleep(ctx, e.cfg.SettleDelay)
}

func (e *Executor) setAmount(ctx context.Context, req Request) error {
	adjusted := AdjustBuyAmount(req.Amount, e.cfg.SafetyBuffer)
	if adjusted != req.Amount {
		e.log.Debug().Float64("target", req.Amount).Float64("adjusted", adjusted).Msg("buy amount adjusted")
	}
	if err := e.surface.SetAmount(ctx, FormatAmount(adjusted)); err != nil {
		return fail("set_amount", ClassAttemptFatal, ErrAmountInputFailed)
	}
	return e.clock.Sleep(ctx, e.cfg.InputDelay)
}

// checkBalance aborts before submitting when the control advertises an
// insufficient balance.
func (e *Executor) checkBalance(ctx context.Context, _ Request) error {
	st, err := e.surface.SubmitState(ctx)
	if err != nil {
		// The submit step will surface the missing control.
		return nil
	}
	if st.Found && isInsufficientBalance(st.Label) {
		return fail("check_balance", ClassSessionFatal, ErrInsufficientBalance)
	}
	return nil
}

func (e *Executor) submit(ctx context.Context, _ Request) error {
	st, err := e.surface.SubmitState(ctx)
	if err != nil || !st.Found {
		return fail("submit", ClassAttemptFatal, ErrSubmitControlNotFound)
	}
	// Never activate the deposit control that replaces the buy button when
	// the quote balance is empty.
	if isDepositControl(st.Label) {
		return fail("submit", ClassAttemptFatal, ErrSubmitControlNotFound)
	}
	if st.Disabled {
		return fail("submit", ClassAttemptFatal, ErrSubmitDisabled)
	}
	if err := e.surface.Submit(ctx); err != nil {
		return fail("submit", ClassAttemptFatal, err)
	}
	return e.clock.Sleep(ctx, e.cfg.SubmitDelay)
}

// resolveConfirmation handles the modal that may or may not follow a
// submission. Absence after the polling budget is success; a matched dialog
// that will not dismiss is fatal so the base order is never resubmitted.
func (e *Executor) resolveConfirmation(ctx context.Context, _ Request) error {
	var found bool
	for i := 0; i < e.cfg.ConfirmDetectAttempts; i++ {
		dialog, err := e.surface.ConfirmationDialog(ctx)
		if err == nil && dialog.Present && matchesBuyConfirmation(dialog.Text) {
			found = true
			break
		}
		if err := e.clock.Sleep(ctx, e.cfg.ConfirmDetectInterval); err != nil {
			return err
		}
	}
	if !found {
		e.log.Debug().Msg("no confirmation dialog, continuing")
		return nil
	}

	if err := e.surface.AcceptConfirmation(ctx); err != nil {
		return fail("resolve_confirmation", ClassAttemptFatal, err)
	}
	for i := 0; i < e.cfg.ConfirmDismissAttempts; i++ {
		if err := e.clock.Sleep(ctx, e.cfg.ConfirmDismissInterval); err != nil {
			return err
		}
		dialog, err := e.surface.ConfirmationDialog(ctx)
		if err != nil || !dialog.Present {
			return nil
		}
	}
	return fail("resolve_confirmation", ClassAttemptFatal, ErrConfirmationStuck)
}

// waitForCompletion polls the pending-orders view until the buy row clears.
func (e *Executor) waitForCompletion(ctx context.Context, _ Request) error {
	for i := 0; i < e.cfg.CompletionChecks; i++ {
		pending, err := e.hasActiveBuyOrder(ctx)
		if err == nil && !pending {
			return nil
		}
		if err != nil {
			e.log.Debug().Err(err).Msg("pending order check failed")
		}
		if err := e.clock.Sleep(ctx, e.cfg.CompletionInterval); err != nil {
			return err
		}
	}
	return fail("wait_completion", ClassAttemptFatal, ErrCompletionTimeout)
}

// finalConfirmation re-checks once after a settle delay to dodge the race
// where the pending row has not rendered yet.
func (e *Executor) finalConfirmation(ctx context.Context, _ Request) error {
	if err := e.clock.Sleep(ctx, e.cfg.FinalSettleDelay); err != nil {
		return err
	}
	pending, err := e.hasActiveBuyOrder(ctx)
	if err != nil {
		return fail("final_confirmation", ClassAttemptFatal, err)
	}
	if pending {
		return fail("final_confirmation", ClassAttemptFatal, ErrIncomplete)
	}
	return nil
}

func (e *Executor) hasActiveBuyOrder(ctx context.Context) (bool, error) {
	rows, err := e.surface.PendingOrders(ctx)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if !strings.Contains(strings.ToLower(row.Side), "buy") {
			continue
		}
		status := strings.ToLower(row.Status)
		if strings.Contains(status, "new") || strings.Contains(status, "partial") {
			return true, nil
		}
	}
	return false, nil
}

func matchesBuyConfirmation(text string) bool {
	lower := strings.ToLower(text)
	if isDepositControl(lower) {
		return false
	}
	return strings.Contains(lower, "limit") && strings.Contains(lower, "buy")
}

func isInsufficientBalance(label string) bool {
	return strings.Contains(strings.ToLower(label), "insufficient")
}

func isDepositControl(label string) bool {
	return strings.Contains(strings.ToLower(label), "deposit")
}
