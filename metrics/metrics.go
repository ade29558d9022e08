// Package metrics holds the Prometheus collectors the bot updates while
// it runs:
//
//	breakout_signals_total{source,direction}  signals emitted
//	breakout_rejections_total{filter}         candidates vetoed by a filter
//	breakout_orders_total{result}             submissions by outcome
//	breakout_trades_closed_total{reason}      closures seen at the broker
//	breakout_trail_moves_total                trailing stop tightenings
//	breakout_open_position                    1 while a position is open
//	breakout_tick_duration_seconds{loop}      tick latency per loop
//	breakout_tick_errors_total{loop}          failed or panicked ticks
//
// Collectors are registered in init and served by Serve at /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_signals_total",
			Help: "Signals emitted by source and direction",
		},
		[]string{"source", "direction"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_rejections_total",
			Help: "Breakout candidates rejected, by filter",
		},
		[]string{"filter"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_orders_total",
			Help: "Order submissions by result (filled|rejected|retried|unprotected|error)",
		},
		[]string{"result"},
	)

	closed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_trades_closed_total",
			Help: "Trades closed at the broker, by close reason",
		},
		[]string{"reason"},
	)

	trailMoves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakout_trail_moves_total",
			Help: "Times the trailing stop was tightened",
		},
	)

	openPosition = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_open_position",
			Help: "1 while a position is open, else 0",
		},
	)

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "breakout_tick_duration_seconds",
			Help:    "Duration of one loop tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	tickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_tick_errors_total",
			Help: "Ticks that returned an error or panicked",
		},
		[]string{"loop"},
	)
)

func init() {
	prometheus.MustRegister(signals, rejections, orders, closed)
	prometheus.MustRegister(trailMoves, openPosition)
	prometheus.MustRegister(tickDuration, tickErrors)
}

func IncSignal(source, direction string) { signals.WithLabelValues(source, direction).Inc() }
func IncRejection(filter string)         { rejections.WithLabelValues(filter).Inc() }
func IncOrder(result string)             { orders.WithLabelValues(result).Inc() }
func IncClosed(reason string)            { closed.WithLabelValues(reason).Inc() }
func IncTrailMove()                      { trailMoves.Inc() }
func IncTickError(loop string)           { tickErrors.WithLabelValues(loop).Inc() }

func SetOpenPosition(open bool) {
	if open {
		openPosition.Set(1)
		return
	}
	openPosition.Set(0)
}

func ObserveTick(loop string, d time.Duration) {
	tickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
