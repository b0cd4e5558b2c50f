// Package metrics exposes Prometheus counters for the detection pipeline.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_ticks_total", Help: "Scheduled ticks by cadence and result"},
		[]string{"cadence", "result"},
	)
	SwingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_swings_total", Help: "Swing levels activated"},
		[]string{"resolution", "direction"},
	)
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_sweeps_total", Help: "Sweep events opened"},
		[]string{"bias"},
	)
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_stage_transitions_total", Help: "Sequence stage transitions by target stage"},
		[]string{"stage"},
	)
	ExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_sequences_expired_total", Help: "Sequences forced to EXPIRED by cause"},
		[]string{"cause"},
	)
	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_confirmations_total", Help: "Confirmations dispatched"},
		[]string{"bias"},
	)
	ActiveSequences = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "sentinel_active_sequences", Help: "Non-terminal sequences by stage at the last health check"},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, SwingsTotal, SweepsTotal, TransitionsTotal, ExpiredTotal, ConfirmationsTotal, ActiveSequences)
}

// Serve binds addr and exposes /metrics in the background. The returned
// server's Addr is the bound address. Bind failures are returned; later serve
// failures are logged.
func Serve(addr string, log zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server stopped")
		}
	}()
	return srv, nil
}
