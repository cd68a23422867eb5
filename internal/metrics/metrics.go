package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodl_ticks_total", Help: "Strategy ticks by result"},
		[]string{"symbol", "result"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodl_orders_total", Help: "Orders placed on the desk"},
		[]string{"symbol", "side", "kind"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodl_fills_total", Help: "Orders confirmed filled"},
		[]string{"symbol"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodl_trades_total", Help: "Closed trades by outcome"},
		[]string{"symbol", "outcome"},
	)
	Midpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "hodl_midpoint", Help: "Last orderbook midpoint"},
		[]string{"symbol"},
	)
	PositionBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "hodl_position_balance", Help: "Ephemeral position per currency"},
		[]string{"currency"},
	)
	TrendCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "hodl_trend_count", Help: "Signed derivative counts in the trend window"},
		[]string{"symbol", "direction"},
	)
	PositionDiverged = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hodl_position_diverged", Help: "1 when the ephemeral position disagrees with the venue"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, FillsTotal, TradesTotal, Midpoint, PositionBalance, TrendCount, PositionDiverged)
}

// Serve exposes /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
