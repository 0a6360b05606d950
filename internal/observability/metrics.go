// Package observability — metrics.go
//
// Prometheus metrics for the PIB control daemon.
//
// Endpoint: GET /metrics on 127.0.0.1:9130 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: pibd_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Mode and motion labels come from small closed enumerations.
//   - Free-form telemetry detail strings are never used as labels.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the PIB daemon.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Tick loop ───────────────────────────────────────────────────────────

	// TicksTotal counts supervisor ticks.
	TicksTotal prometheus.Counter

	// ModeGauge is the current mode as a numeric code.
	ModeGauge prometheus.Gauge

	// ModeTransitionsTotal counts mode changes.
	// Labels: from_mode, to_mode
	ModeTransitionsTotal *prometheus.CounterVec

	// ModeErrorsTotal counts landings in a mode error substate.
	// Labels: mode
	ModeErrorsTotal *prometheus.CounterVec

	// ─── Links ───────────────────────────────────────────────────────────────

	// FramesTotal counts inbound frames routed, by peer and frame type.
	// Labels: peer (mcb, pu, lora), type (ascii, ack, binary, string)
	FramesTotal *prometheus.CounterVec

	// CommandsSentTotal counts outbound peer commands.
	// Labels: peer
	CommandsSentTotal *prometheus.CounterVec

	// ─── Motion ──────────────────────────────────────────────────────────────

	// MotionsStartedTotal counts acknowledged motion starts.
	// Labels: kind (reel_in, reel_out, dock, in_no_lw)
	MotionsStartedTotal *prometheus.CounterVec

	// MotionFaultsTotal counts MCB motion faults, by disposition.
	// Labels: disposition (dock_assumed, fault)
	MotionFaultsTotal *prometheus.CounterVec

	// MotionTimeoutsTotal counts motions cancelled on timeout.
	MotionTimeoutsTotal prometheus.Counter

	// ─── Profiles ────────────────────────────────────────────────────────────

	// ProfilesStartedTotal counts profile sequencer runs.
	ProfilesStartedTotal prometheus.Counter

	// ProfilesCompletedTotal counts profiles that reached low power.
	ProfilesCompletedTotal prometheus.Counter

	// RedockAttemptsTotal counts redock attempts.
	RedockAttemptsTotal prometheus.Counter

	// ProfilesRemaining is the autonomous profiles-remaining counter.
	ProfilesRemaining prometheus.Gauge

	// ─── Scheduler and flags ─────────────────────────────────────────────────

	// SchedulerDepth is the number of pending scheduled actions.
	SchedulerDepth prometheus.Gauge

	// StaleFlagsTotal counts action flags cleared by the staleness sweep.
	StaleFlagsTotal prometheus.Counter

	// ─── Downlink ────────────────────────────────────────────────────────────

	// TelemetrySentTotal counts Zephyr telemetry messages, by severity flag.
	// Labels: flag (FINE, WARN, CRIT)
	TelemetrySentTotal *prometheus.CounterVec

	// LoRaBytesTotal counts aggregated LoRa TM bytes downlinked.
	LoRaBytesTotal prometheus.Counter

	// ─── Daemon ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since daemon start.
	UptimeSeconds prometheus.Gauge

	// startTime records when the daemon started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all PIB Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Total supervisor ticks executed.",
		}),

		ModeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pibd",
			Subsystem: "mode",
			Name:      "current",
			Help:      "Current mode code (0=standby 1=flight 2=lowpower 3=safety 4=endofflight).",
		}),

		ModeTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "mode",
			Name:      "transitions_total",
			Help:      "Total mode transitions, by from_mode and to_mode.",
		}, []string{"from_mode", "to_mode"}),

		ModeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "mode",
			Name:      "errors_total",
			Help:      "Total landings in a mode error substate.",
		}, []string{"mode"}),

		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Total inbound frames routed, by peer and frame type.",
		}, []string{"peer", "type"}),

		CommandsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "link",
			Name:      "commands_sent_total",
			Help:      "Total outbound peer commands.",
		}, []string{"peer"}),

		MotionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "motion",
			Name:      "started_total",
			Help:      "Total acknowledged motion starts, by kind.",
		}, []string{"kind"}),

		MotionFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "motion",
			Name:      "faults_total",
			Help:      "Total MCB motion faults, by disposition.",
		}, []string{"disposition"}),

		MotionTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "motion",
			Name:      "timeouts_total",
			Help:      "Total motions cancelled on timeout.",
		}),

		ProfilesStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "profile",
			Name:      "started_total",
			Help:      "Total profile sequencer runs started.",
		}),

		ProfilesCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "profile",
			Name:      "completed_total",
			Help:      "Total profiles completed to low power.",
		}),

		RedockAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "profile",
			Name:      "redock_attempts_total",
			Help:      "Total redock attempts.",
		}),

		ProfilesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pibd",
			Subsystem: "profile",
			Name:      "remaining",
			Help:      "Autonomous profiles remaining tonight.",
		}),

		SchedulerDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pibd",
			Subsystem: "sched",
			Name:      "depth",
			Help:      "Pending scheduled actions.",
		}),

		StaleFlagsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "flags",
			Name:      "stale_total",
			Help:      "Action flags cleared by the staleness sweep.",
		}),

		TelemetrySentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "downlink",
			Name:      "telemetry_total",
			Help:      "Zephyr telemetry messages sent, by severity flag.",
		}, []string{"flag"}),

		LoRaBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pibd",
			Subsystem: "downlink",
			Name:      "lora_bytes_total",
			Help:      "Aggregated LoRa telemetry bytes downlinked.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pibd",
			Subsystem: "daemon",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	// Register all metrics with the dedicated registry.
	reg.MustRegister(
		m.TicksTotal,
		m.ModeGauge,
		m.ModeTransitionsTotal,
		m.ModeErrorsTotal,
		m.FramesTotal,
		m.CommandsSentTotal,
		m.MotionsStartedTotal,
		m.MotionFaultsTotal,
		m.MotionTimeoutsTotal,
		m.ProfilesStartedTotal,
		m.ProfilesCompletedTotal,
		m.RedockAttemptsTotal,
		m.ProfilesRemaining,
		m.SchedulerDepth,
		m.StaleFlagsTotal,
		m.TelemetrySentTotal,
		m.LoRaBytesTotal,
		m.UptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start uptime updater goroutine.
	go m.updateUptime(ctx)

	// Shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
