package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/envutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

var (
	// HTTPRequestsTotal counts finished requests.
	// Labels: method, route, status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagehand",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stagehand",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPInflight gauges requests currently being served.
	HTTPInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stagehand",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Requests currently being served",
		},
	)

	// PhaseRunsTotal counts settled phase attempts.
	// Labels: phase, outcome (ok, failed_retryable, failed_terminal, yielded).
	PhaseRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagehand",
			Subsystem: "pipeline",
			Name:      "phase_runs_total",
			Help:      "Settled phase attempts by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	// PhaseDuration tracks adapter invocation time per phase.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stagehand",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Phase adapter invocation time in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"phase"},
	)

	// LedgerDepth gauges phase_run rows by status, sampled from the ledger.
	LedgerDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stagehand",
			Subsystem: "pipeline",
			Name:      "ledger_depth",
			Help:      "phase_run rows by status",
		},
		[]string{"status"},
	)

	// LLMRequestsTotal counts provider calls.
	// Labels: model, result (ok, error).
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagehand",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Chat completion calls by model and result",
		},
		[]string{"model", "result"},
	)

	// LLMRequestDuration tracks provider call latency per model.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stagehand",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Chat completion latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"model"},
	)

	// SSEClients gauges open event-stream connections.
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stagehand",
			Subsystem: "sse",
			Name:      "clients",
			Help:      "Open SSE connections",
		},
	)

	// SSEDroppedTotal counts events dropped on full client buffers.
	SSEDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stagehand",
			Subsystem: "sse",
			Name:      "dropped_events_total",
			Help:      "Events dropped because a client buffer was full",
		},
	)
)

// Phase outcome labels for PhaseRunsTotal.
const (
	OutcomeOK              = "ok"
	OutcomeFailedRetryable = "failed_retryable"
	OutcomeFailedTerminal  = "failed_terminal"
	OutcomeYielded         = "yielded"
)

// RecordPhaseOutcome counts one settled attempt.
func RecordPhaseOutcome(phase, outcome string) {
	PhaseRunsTotal.WithLabelValues(phase, outcome).Inc()
}

// ObservePhaseDuration records adapter time for a finished invocation.
func ObservePhaseDuration(phase string, d time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordLLMRequest counts one provider call and its latency.
func RecordLLMRequest(model string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LLMRequestsTotal.WithLabelValues(model, result).Inc()
	LLMRequestDuration.WithLabelValues(model).Observe(d.Seconds())
}

// runCounter is the slice of the phase-run repo the sampler needs.
type runCounter interface {
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

// ledgerStatuses are reset each sample so a drained status reads zero.
var ledgerStatuses = []string{"pending", "running", "ok", "failed"}

// StartLedgerDepthSampler polls phase_run status counts into LedgerDepth
// until ctx is done. Interval comes from METRICS_SCRAPE_INTERVAL_SECONDS
// (default 10s).
func StartLedgerDepthSampler(ctx context.Context, log *logger.Logger, runs runCounter) {
	if runs == nil {
		return
	}
	interval := time.Duration(envutil.Int("METRICS_SCRAPE_INTERVAL_SECONDS", 10)) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleLedgerDepth(ctx, log, runs)
			}
		}
	}()
}

func sampleLedgerDepth(ctx context.Context, log *logger.Logger, runs runCounter) {
	counts, err := runs.CountByStatus(dbctx.New(ctx))
	if err != nil {
		if log != nil {
			log.Warn("ledger depth sample failed", "error", err)
		}
		return
	}
	for _, status := range ledgerStatuses {
		LedgerDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
	for status, n := range counts {
		LedgerDepth.WithLabelValues(status).Set(float64(n))
	}
}
