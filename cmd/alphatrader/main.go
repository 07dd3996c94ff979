package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/wherexml/alpha-trade/internal/config"
	"github.com/wherexml/alpha-trade/internal/control"
	"github.com/wherexml/alpha-trade/internal/logbuf"
	"github.com/wherexml/alpha-trade/internal/metrics"
	"github.com/wherexml/alpha-trade/internal/order"
	"github.com/wherexml/alpha-trade/internal/policy"
	"github.com/wherexml/alpha-trade/internal/session"
	"github.com/wherexml/alpha-trade/internal/signal"
	"github.com/wherexml/alpha-trade/internal/store"
	"github.com/wherexml/alpha-trade/internal/surface"
	"github.com/wherexml/alpha-trade/internal/tape"
	"github.com/wherexml/alpha-trade/internal/trend"
	"github.com/wherexml/alpha-trade/internal/util"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	logs := logbuf.NewSink(0)
	log := util.NewLogger(cfg.App.LogLevel).Hook(logs)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.App.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	// Persisted panel settings back-fill anything the YAML leaves unset and
	// carry the pacing knobs the panel owns.
	if saved, err := st.LoadSettings(); err != nil {
		log.Warn().Err(err).Msg("load saved settings")
	} else {
		cfg.MergeSettings(saved)
	}

	bridge := surface.NewBridge(log, time.Duration(cfg.Bridge.CallTimeoutMs)*time.Millisecond)
	bridgeSrv := &http.Server{Addr: cfg.Bridge.ListenAddr, Handler: bridge.Handler()}
	go func() {
		if err := bridgeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("bridge server stopped")
			cancel()
		}
	}()
	log.Info().Str("addr", cfg.Bridge.ListenAddr).Msg("bridge up")

	history := policy.NewHistory(cfg.Policy.MaxTrendDataCount, cfg.Policy.FallingSignalWaitCount)
	exec := order.NewExecutor(bridge, nil, log, order.Config{
		SafetyBuffer:     cfg.Order.SafetyBuffer,
		SellDiscountRate: cfg.Order.SellDiscountRate,
		ReverseOrder:     cfg.Order.ReverseOrder,
	})
	controller := session.NewController(bridge, exec, history, st, nil, log, session.Config{
		Delay:          time.Duration(cfg.Session.DelayMs) * time.Millisecond,
		AttemptRetries: cfg.Session.AttemptRetries,
	})

	handler := control.NewHandler(ctx, controller, logs, st, log)
	metricsSrv := metrics.Serve(cfg.App.MetricsAddr, handler.Routes())
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics and control up")

	ingestor := tape.NewIngestor(
		tape.WithWindow(time.Duration(cfg.Trend.WindowMs)*time.Millisecond),
		tape.WithMaxTrades(cfg.Trend.MaxTrades),
	)
	scorer := trend.NewScorer(cfg.Trend.Threshold, cfg.Trend.MinReturn)
	detector := trend.NewDetector(bridge, ingestor, scorer,
		time.Duration(cfg.Trend.UpdateIntervalMs)*time.Millisecond,
		func(state signal.TrendState) { controller.OnTrendState(ctx, state) },
		log,
	)
	go func() {
		if err := detector.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("detector stopped")
			cancel()
		}
	}()

	sched := cron.New()
	if _, err := sched.AddFunc("0 0 * * *", func() {
		if err := st.ResetDailyCount(time.Now()); err != nil {
			log.Warn().Err(err).Msg("daily counter reset failed")
		} else {
			log.Info().Msg("daily trade counter reset")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule daily reset")
	}
	sched.Start()
	defer sched.Stop()

	// With a configured amount the session starts on boot; otherwise it
	// waits for a /control command.
	if cfg.Session.BaseAmount > 0 {
		if cfg.Session.SmartMode {
			err = controller.StartSmart(ctx, cfg.Session.BaseAmount, cfg.Session.MaxTradeCount)
		} else {
			err = controller.StartManual(ctx, cfg.Session.BaseAmount, cfg.Session.MaxTradeCount)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("start session")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	controller.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = bridgeSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
