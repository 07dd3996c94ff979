// Package control exposes the operator HTTP endpoints: /control for session
// commands and /status for the live session and log view.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wherexml/alpha-trade/internal/logbuf"
	"github.com/wherexml/alpha-trade/internal/session"
	"github.com/wherexml/alpha-trade/internal/store"
)

// SettingsStore persists panel settings between runs; *store.Store
// satisfies it.
type SettingsStore interface {
	LoadSettings() (store.Settings, error)
	SaveSettings(store.Settings) error
}

// Request is the command envelope posted to /control.
type Request struct {
	Action     string  `json:"action"`
	Amount     float64 `json:"amount,omitempty"`
	TradeCount int     `json:"trade_count,omitempty"`
}

// Response acknowledges a control command.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Status is the payload served on /status.
type Status struct {
	Session session.Snapshot `json:"session"`
	Logs    []logbuf.Entry   `json:"logs"`
}

// Handler serves the control endpoints; logs may be nil.
type Handler struct {
	// base outlives any single request; sessions started over HTTP are
	// bound to it, not to the request context.
	base     context.Context
	ctrl     *session.Controller
	logs     *logbuf.Sink
	settings SettingsStore
	log      zerolog.Logger
}

// NewHandler wires the controller, log sink and settings store into an HTTP
// handler; logs and settings may be nil. Sessions started through it run
// under base, typically the process context.
func NewHandler(base context.Context, ctrl *session.Controller, logs *logbuf.Sink, settings SettingsStore, log zerolog.Logger) *Handler {
	return &Handler{base: base, ctrl: ctrl, logs: logs, settings: settings, log: log}
}

// Routes returns the handler map for mounting on the metrics mux.
func (h *Handler) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/control": http.HandlerFunc(h.handleControl),
		"/status":  http.HandlerFunc(h.handleStatus),
	}
}

func (h *Handler) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	h.log.Info().Str("action", req.Action).Msg("control command received")
	var err error
	switch req.Action {
	case "start":
		err = h.ctrl.StartManual(h.base, req.Amount, req.TradeCount)
	case "start_smart":
		err = h.ctrl.StartSmart(h.base, req.Amount, req.TradeCount)
	case "stop":
		h.ctrl.Stop()
	case "force_stop":
		h.ctrl.ForceStop()
	case "configure":
		err = h.configure(req)
	default:
		writeJSON(w, http.StatusBadRequest, Response{Error: "unknown action"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusConflict, Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true})
}

// configure persists amount/count so they survive restarts; zero fields keep
// the stored values.
func (h *Handler) configure(req Request) error {
	if h.settings == nil {
		return errors.New("no settings store configured")
	}
	cur, err := h.settings.LoadSettings()
	if err != nil {
		return err
	}
	if req.Amount > 0 {
		cur.Amount = req.Amount
	}
	if req.TradeCount > 0 {
		cur.Count = req.TradeCount
	}
	return h.settings.SaveSettings(cur)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := Status{Session: h.ctrl.Snapshot()}
	if h.logs != nil {
		st.Logs = h.logs.Snapshot()
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
