package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/signal"
)

// ErrNotConnected reports that no browser companion is attached to the
// bridge. Callers treat it like any other transient surface failure.
var ErrNotConnected = errors.New("surface: companion not connected")

const (
	defaultCallTimeout = 5 * time.Second
	writeWait          = 5 * time.Second
	pongWait           = 30 * time.Second
	pingPeriod         = 15 * time.Second
	maxFrameSize       = 1 << 20
)

type request struct {
	ID     uint64          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Bridge is a websocket server the browser companion dials into. It
// implements Surface by sending correlated request frames and waiting for
// the matching response. A fresh connection replaces any previous one.
type Bridge struct {
	log         zerolog.Logger
	callTimeout time.Duration
	upgrader    websocket.Upgrader

	nextID atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan response

	writeMu sync.Mutex
}

// NewBridge builds a bridge; callTimeout <= 0 falls back to the default.
func NewBridge(log zerolog.Logger, callTimeout time.Duration) *Bridge {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Bridge{
		log:         log,
		callTimeout: callTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Companion connects from an extension origin; the bridge binds
			// to loopback so origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pending: make(map[uint64]chan response),
	}
}

// Handler returns the HTTP handler that upgrades companion connections.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.Warn().Err(err).Msg("bridge upgrade failed")
			return
		}
		b.attach(conn)
	})
}

// Connected reports whether a companion is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
		b.failPendingLocked(errors.New("superseded by new companion connection"))
	}
	b.conn = conn
	b.mu.Unlock()

	b.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("companion connected")

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go b.pingLoop(conn)
	go b.readPump(conn)
}

func (b *Bridge) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if !b.owns(conn) {
			return
		}
		b.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		b.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (b *Bridge) readPump(conn *websocket.Conn) {
	defer b.detach(conn)
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			if b.owns(conn) {
				b.log.Warn().Err(err).Msg("companion connection lost")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (b *Bridge) owns(conn *websocket.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn == conn
}

func (b *Bridge) detach(conn *websocket.Conn) {
	conn.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return
	}
	b.conn = nil
	b.failPendingLocked(ErrNotConnected)
}

func (b *Bridge) failPendingLocked(err error) {
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- response{ID: id, OK: false, Error: err.Error()}
	}
}

// call sends one op and decodes the result into out (which may be nil for
// fire-and-verify ops).
func (b *Bridge) call(ctx context.Context, op string, params, out any) error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	id := b.nextID.Add(1)
	ch := make(chan response, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			b.abandon(id)
			return fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}

	b.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(request{ID: id, Op: op, Params: raw})
	b.writeMu.Unlock()
	if err != nil {
		b.abandon(id)
		return fmt.Errorf("send %s: %w", op, err)
	}

	timer := time.NewTimer(b.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		b.abandon(id)
		return ctx.Err()
	case <-timer.C:
		b.abandon(id)
		return fmt.Errorf("%s: call timed out", op)
	case resp := <-ch:
		if !resp.OK {
			if resp.Error == "not_found" {
				return fmt.Errorf("%s: %w", op, ErrNotFound)
			}
			return fmt.Errorf("%s: %s", op, resp.Error)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	}
}

func (b *Bridge) abandon(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Wire payloads. The companion speaks snake_case JSON.

type wireTapeRow struct {
	Time   string `json:"time"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
	Side   string `json:"side"`
}

type wireSubmitState struct {
	Found    bool   `json:"found"`
	Disabled bool   `json:"disabled"`
	Label    string `json:"label"`
}

type wireDialog struct {
	Present bool   `json:"present"`
	Text    string `json:"text"`
}

type wirePendingOrder struct {
	Side   string `json:"side"`
	Status string `json:"status"`
}

type wirePageState struct {
	OnTradingPage bool `json:"on_trading_page"`
	LoggedIn      bool `json:"logged_in"`
	Online        bool `json:"online"`
}

type wireValue struct {
	Value string `json:"value"`
}

type wireChecked struct {
	Checked bool `json:"checked"`
}

type wireActive struct {
	Active bool `json:"active"`
}

type wireText struct {
	Text string `json:"text"`
}

// TapeRows implements Surface.
func (b *Bridge) TapeRows(ctx context.Context) ([]signal.TapeRow, error) {
	var rows []wireTapeRow
	if err := b.call(ctx, "tape.rows", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]signal.TapeRow, len(rows))
	for i, r := range rows {
		out[i] = signal.TapeRow{TimeText: r.Time, PriceText: r.Price, VolumeText: r.Volume, SideHint: r.Side}
	}
	return out, nil
}

// SelectBuyTab implements Surface.
func (b *Bridge) SelectBuyTab(ctx context.Context) error {
	return b.call(ctx, "buy_tab.select", nil, nil)
}

// BuyTabActive implements Surface.
func (b *Bridge) BuyTabActive(ctx context.Context) (bool, error) {
	var st wireActive
	if err := b.call(ctx, "buy_tab.active", nil, &st); err != nil {
		return false, err
	}
	return st.Active, nil
}

// ReverseOrderChecked implements Surface.
func (b *Bridge) ReverseOrderChecked(ctx context.Context) (bool, error) {
	var st wireChecked
	if err := b.call(ctx, "reverse_order.checked", nil, &st); err != nil {
		return false, err
	}
	return st.Checked, nil
}

// ToggleReverseOrder implements Surface.
func (b *Bridge) ToggleReverseOrder(ctx context.Context) error {
	return b.call(ctx, "reverse_order.toggle", nil, nil)
}

// ReferencePrice implements Surface.
func (b *Bridge) ReferencePrice(ctx context.Context) (string, error) {
	var st wireText
	if err := b.call(ctx, "price.reference", nil, &st); err != nil {
		return "", err
	}
	return st.Text, nil
}

// SetBuyPrice implements Surface.
func (b *Bridge) SetBuyPrice(ctx context.Context, value string) error {
	return b.call(ctx, "price.set_buy", wireValue{Value: value}, nil)
}

// SetSellPrice implements Surface.
func (b *Bridge) SetSellPrice(ctx context.Context, value string) error {
	return b.call(ctx, "price.set_sell", wireValue{Value: value}, nil)
}

// SetAmount implements Surface.
func (b *Bridge) SetAmount(ctx context.Context, value string) error {
	return b.call(ctx, "amount.set", wireValue{Value: value}, nil)
}

// SubmitState implements Surface.
func (b *Bridge) SubmitState(ctx context.Context) (SubmitState, error) {
	var st wireSubmitState
	if err := b.call(ctx, "submit.state", nil, &st); err != nil {
		return SubmitState{}, err
	}
	return SubmitState(st), nil
}

// Submit implements Surface.
func (b *Bridge) Submit(ctx context.Context) error {
	return b.call(ctx, "submit.click", nil, nil)
}

// ConfirmationDialog implements Surface.
func (b *Bridge) ConfirmationDialog(ctx context.Context) (Dialog, error) {
	var st wireDialog
	if err := b.call(ctx, "confirm.query", nil, &st); err != nil {
		return Dialog{}, err
	}
	return Dialog(st), nil
}

// AcceptConfirmation implements Surface.
func (b *Bridge) AcceptConfirmation(ctx context.Context) error {
	return b.call(ctx, "confirm.accept", nil, nil)
}

// PendingOrders implements Surface.
func (b *Bridge) PendingOrders(ctx context.Context) ([]PendingOrder, error) {
	var rows []wirePendingOrder
	if err := b.call(ctx, "orders.pending", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]PendingOrder, len(rows))
	for i, r := range rows {
		out[i] = PendingOrder(r)
	}
	return out, nil
}

// PageState implements Surface.
func (b *Bridge) PageState(ctx context.Context) (PageState, error) {
	var st wirePageState
	if err := b.call(ctx, "page.state", nil, &st); err != nil {
		return PageState{}, err
	}
	return PageState(st), nil
}
