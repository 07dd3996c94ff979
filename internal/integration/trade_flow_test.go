package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/order"
	"github.com/wherexml/alpha-trade/internal/session"
	"github.com/wherexml/alpha-trade/internal/signal"
	"github.com/wherexml/alpha-trade/internal/store"
	"github.com/wherexml/alpha-trade/internal/surface"
	"github.com/wherexml/alpha-trade/internal/tape"
	"github.com/wherexml/alpha-trade/internal/trend"
)

type fastClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fastClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fastClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// happyPage models a healthy trading page: every submitted buy fills after a
// couple of pending-order polls.
type happyPage struct {
	mu           sync.Mutex
	buyTab       bool
	reverse      bool
	amounts      []string
	sellPrices   []string
	submits      int
	accepted     int
	pendingPolls int
}

func (p *happyPage) TapeRows(context.Context) ([]signal.TapeRow, error) { return nil, nil }

func (p *happyPage) SelectBuyTab(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buyTab = true
	return nil
}

func (p *happyPage) BuyTabActive(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buyTab, nil
}

func (p *happyPage) ReverseOrderChecked(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reverse, nil
}

func (p *happyPage) ToggleReverseOrder(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reverse = true
	return nil
}

func (p *happyPage) ReferencePrice(context.Context) (string, error) { return "$0.10000000", nil }

func (p *happyPage) SetBuyPrice(context.Context, string) error { return nil }

func (p *happyPage) SetSellPrice(_ context.Context, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sellPrices = append(p.sellPrices, v)
	return nil
}

func (p *happyPage) SetAmount(_ context.Context, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amounts = append(p.amounts, v)
	return nil
}

func (p *happyPage) SubmitState(context.Context) (surface.SubmitState, error) {
	return surface.SubmitState{Found: true, Label: "Buy ALPHA"}, nil
}

func (p *happyPage) Submit(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	p.pendingPolls = 2
	return nil
}

func (p *happyPage) ConfirmationDialog(context.Context) (surface.Dialog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submits > p.accepted {
		return surface.Dialog{Present: true, Text: "Limit Buy order"}, nil
	}
	return surface.Dialog{}, nil
}

func (p *happyPage) AcceptConfirmation(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted++
	return nil
}

func (p *happyPage) PendingOrders(context.Context) ([]surface.PendingOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingPolls > 0 {
		p.pendingPolls--
		return []surface.PendingOrder{{Side: "Buy", Status: "New"}}, nil
	}
	return nil, nil
}

func (p *happyPage) PageState(context.Context) (surface.PageState, error) {
	return surface.PageState{OnTradingPage: true, LoggedIn: true, Online: true}, nil
}

func TestManualSessionTradesToLimit(t *testing.T) {
	page := &happyPage{}
	clock := &fastClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	st, err := store.Open(filepath.Join(t.TempDir(), "flow.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer st.Close()

	exec := order.NewExecutor(page, clock, zerolog.Nop(), order.Config{ReverseOrder: true})
	ctrl := session.NewController(page, exec, nil, st, clock, zerolog.Nop(), session.Config{})

	if err := ctrl.StartManual(context.Background(), 200, 2); err != nil {
		t.Fatalf("StartManual returned error: %v", err)
	}
	ctrl.Wait()

	snap := ctrl.Snapshot()
	if snap.IsRunning {
		t.Fatalf("session should stop itself at the trade limit")
	}
	if snap.CurrentTradeCount != 2 {
		t.Fatalf("expected 2 confirmed trades, got %d", snap.CurrentTradeCount)
	}
	if snap.DailyCount != 2 {
		t.Fatalf("expected persisted daily count 2, got %d", snap.DailyCount)
	}

	page.mu.Lock()
	if page.submits != 2 || page.accepted != 2 {
		t.Fatalf("expected 2 submits and 2 accepts, got %d/%d", page.submits, page.accepted)
	}
	for _, a := range page.amounts {
		if a != "199.60" {
			t.Fatalf("expected buffered amount 199.60, got %q", a)
		}
	}
	want := order.FormatPrice(0.1 * 0.98)
	for _, s := range page.sellPrices {
		if s != want {
			t.Fatalf("expected sell price %q, got %q", want, s)
		}
	}
	if !page.reverse {
		t.Fatalf("reverse order should have been enabled")
	}
	page.mu.Unlock()

	// A finished session can be started again.
	if err := ctrl.StartManual(context.Background(), 200, 1); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	ctrl.Wait()
	if n := ctrl.Snapshot().DailyCount; n != 3 {
		t.Fatalf("expected daily count 3 after restart, got %d", n)
	}
}

// risingTape reveals one more rising-price row per read.
type risingTape struct {
	mu   sync.Mutex
	rows []signal.TapeRow
	next int
}

func (s *risingTape) TapeRows(context.Context) ([]signal.TapeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < 12 {
		s.next++
		s.rows = append(s.rows, signal.TapeRow{
			TimeText:   fmt.Sprintf("10:00:%02d", s.next),
			PriceText:  fmt.Sprintf("%.6f", 1.0+0.002*float64(s.next)),
			VolumeText: "1.00K",
			SideHint:   "buy",
		})
	}
	out := make([]signal.TapeRow, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func TestDetectorFlagsRisingTape(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	base := time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 20, 0, now.Location())
	ingestor := tape.NewIngestor(tape.WithClock(func() time.Time { return base }))
	scorer := trend.NewScorer(1e-6, 1e-7)

	states := make(chan signal.TrendState, 64)
	det := trend.NewDetector(&risingTape{}, ingestor, scorer, time.Millisecond,
		func(st signal.TrendState) {
			select {
			case states <- st:
			default:
			}
		}, zerolog.Nop())
	go func() { _ = det.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("no rising state before timeout")
		case st := <-states:
			if st.Label != signal.LabelRising {
				continue
			}
			if st.Details == nil || st.Details.SampleCount < 6 {
				t.Fatalf("rising state with too few samples: %+v", st)
			}
			if st.Confidence <= 0 {
				t.Fatalf("expected positive confidence, got %v", st.Confidence)
			}
			return
		}
	}
}
