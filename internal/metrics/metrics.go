package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tape_ticks_total", Help: "Trade tape ticks ingested after dedup"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trend_signals_total", Help: "Trend states produced, by label"},
		[]string{"label"},
	)
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_attempts_total", Help: "Buy attempts, by result"},
		[]string{"result"},
	)
	StepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_step_failures_total", Help: "Order step failures, by step"},
		[]string{"step"},
	)
	TradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "trades_confirmed_total", Help: "Buy rounds confirmed complete"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, SignalsTotal, AttemptsTotal, StepFailuresTotal, TradesTotal)
}

// Serve exposes /metrics plus any extra handlers on addr. The control and
// status endpoints ride on the same mux.
func Serve(addr string, extra map[string]http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
