package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/logbuf"
	"github.com/wherexml/alpha-trade/internal/order"
	"github.com/wherexml/alpha-trade/internal/session"
	"github.com/wherexml/alpha-trade/internal/signal"
	"github.com/wherexml/alpha-trade/internal/store"
	"github.com/wherexml/alpha-trade/internal/surface"
)

type nopSurface struct{}

func (nopSurface) TapeRows(context.Context) ([]signal.TapeRow, error) { return nil, nil }

func (nopSurface) SelectBuyTab(context.Context) error { return nil }

func (nopSurface) BuyTabActive(context.Context) (bool, error) { return true, nil }

func (nopSurface) ReverseOrderChecked(context.Context) (bool, error) { return false, nil }

func (nopSurface) ToggleReverseOrder(context.Context) error { return nil }

func (nopSurface) ReferencePrice(context.Context) (string, error) { return "", surface.ErrNotFound }

func (nopSurface) SetBuyPrice(context.Context, string) error { return nil }

func (nopSurface) SetSellPrice(context.Context, string) error { return nil }

func (nopSurface) SetAmount(context.Context, string) error { return nil }

func (nopSurface) SubmitState(context.Context) (surface.SubmitState, error) {
	return surface.SubmitState{}, nil
}

func (nopSurface) Submit(context.Context) error { return nil }

func (nopSurface) ConfirmationDialog(context.Context) (surface.Dialog, error) {
	return surface.Dialog{}, nil
}

func (nopSurface) AcceptConfirmation(context.Context) error { return nil }

func (nopSurface) PendingOrders(context.Context) ([]surface.PendingOrder, error) { return nil, nil }

func (nopSurface) PageState(context.Context) (surface.PageState, error) {
	return surface.PageState{OnTradingPage: true, LoggedIn: true, Online: true}, nil
}

type memSettings struct {
	mu    sync.Mutex
	saved store.Settings
}

func (m *memSettings) LoadSettings() (store.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

func (m *memSettings) SaveSettings(s store.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = s
	return nil
}

type gatedExec struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (e *gatedExec) ExecuteBuy(context.Context, order.Request) error {
	e.mu.Lock()
	e.calls++
	gate := e.gate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func newTestHandler(exec session.BuyExecutor) (*Handler, *session.Controller, *logbuf.Sink) {
	ctrl := session.NewController(nopSurface{}, exec, nil, nil, nil, zerolog.Nop(), session.Config{
		Delay:             time.Millisecond,
		AttemptRetryDelay: time.Millisecond,
		RuntimeCheckDelay: time.Millisecond,
	})
	logs := logbuf.NewSink(0)
	return NewHandler(context.Background(), ctrl, logs, &memSettings{}, zerolog.Nop()), ctrl, logs
}

func postControl(t *testing.T, h *Handler, req Request) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	rec := httptest.NewRecorder()
	h.Routes()["/control"].ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control", bytes.NewReader(body)))
	return rec
}

func TestControlStartRunsSession(t *testing.T) {
	exec := &gatedExec{}
	h, ctrl, _ := newTestHandler(exec)

	rec := postControl(t, h, Request{Action: "start", Amount: 50, TradeCount: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ctrl.Wait()

	snap := ctrl.Snapshot()
	if snap.IsRunning || snap.CurrentTradeCount != 1 {
		t.Fatalf("unexpected session state: %+v", snap)
	}
}

func TestControlDoubleStartConflicts(t *testing.T) {
	exec := &gatedExec{gate: make(chan struct{})}
	h, ctrl, _ := newTestHandler(exec)

	if rec := postControl(t, h, Request{Action: "start", Amount: 50, TradeCount: 1}); rec.Code != http.StatusOK {
		t.Fatalf("first start failed: %d", rec.Code)
	}
	if rec := postControl(t, h, Request{Action: "start", Amount: 50, TradeCount: 1}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", rec.Code)
	}
	close(exec.gate)
	ctrl.Wait()
}

func TestControlRejectsUnknownAction(t *testing.T) {
	h, _, _ := newTestHandler(&gatedExec{})
	if rec := postControl(t, h, Request{Action: "reboot"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestControlRejectsGet(t *testing.T) {
	h, _, _ := newTestHandler(&gatedExec{})
	rec := httptest.NewRecorder()
	h.Routes()["/control"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestControlStopAndForceStop(t *testing.T) {
	exec := &gatedExec{}
	h, ctrl, _ := newTestHandler(exec)

	if rec := postControl(t, h, Request{Action: "start_smart", Amount: 50, TradeCount: 4}); rec.Code != http.StatusOK {
		t.Fatalf("start_smart failed: %d", rec.Code)
	}
	if snap := ctrl.Snapshot(); snap.MaxTradeCount != 4 {
		t.Fatalf("expected smart trade limit 4, got %d", snap.MaxTradeCount)
	}
	if rec := postControl(t, h, Request{Action: "stop"}); rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d", rec.Code)
	}
	if ctrl.Snapshot().IsRunning {
		t.Fatalf("session should be stopped")
	}
	if rec := postControl(t, h, Request{Action: "force_stop"}); rec.Code != http.StatusOK {
		t.Fatalf("force_stop failed: %d", rec.Code)
	}
	if mode := ctrl.Snapshot().Mode; mode != session.ModeIdle {
		t.Fatalf("expected idle after force stop, got %s", mode)
	}
}

func TestControlConfigurePersistsSettings(t *testing.T) {
	settings := &memSettings{saved: store.Settings{Amount: 50, Count: 3, DelayMs: 500}}
	ctrl := session.NewController(nopSurface{}, &gatedExec{}, nil, nil, nil, zerolog.Nop(), session.Config{})
	h := NewHandler(context.Background(), ctrl, nil, settings, zerolog.Nop())

	if rec := postControl(t, h, Request{Action: "configure", Amount: 200}); rec.Code != http.StatusOK {
		t.Fatalf("configure failed: %d: %s", rec.Code, rec.Body.String())
	}

	got, _ := settings.LoadSettings()
	if got.Amount != 200 {
		t.Fatalf("expected amount 200, got %v", got.Amount)
	}
	// Unset fields keep their stored values.
	if got.Count != 3 || got.DelayMs != 500 {
		t.Fatalf("unexpected settings after partial configure: %+v", got)
	}
}

func TestStatusReportsSessionAndLogs(t *testing.T) {
	h, _, logs := newTestHandler(&gatedExec{})
	logs.Append(logbuf.Entry{Ts: time.Now(), Level: "info", Message: "hello"})

	rec := httptest.NewRecorder()
	h.Routes()["/status"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Session.Mode != session.ModeIdle || st.Session.IsRunning {
		t.Fatalf("unexpected session snapshot: %+v", st.Session)
	}
	if len(st.Logs) != 1 || st.Logs[0].Message != "hello" {
		t.Fatalf("unexpected logs: %+v", st.Logs)
	}
}
