package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

var tracer = otel.Tracer("extension-validator.runner")

// Metrics collects run metrics in a private registry so that repeated runs
// in one process do not collide.
type Metrics struct {
	registry       *prometheus.Registry
	casesTotal     *prometheus.CounterVec
	caseDuration   *prometheus.HistogramVec
	warningsTotal  *prometheus.CounterVec
	workerRestarts prometheus.Counter
	lastRun        prometheus.Gauge
}

// NewMetrics creates and registers the runner metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		casesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extension_validator_cases_total",
				Help: "Test cases executed, by suite and status",
			},
			[]string{"suite", "status"},
		),
		caseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extension_validator_case_duration_seconds",
				Help:    "Duration of executed test cases",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"suite"},
		),
		warningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extension_validator_warnings_total",
				Help: "Warnings captured during suite execution",
			},
			[]string{"suite"},
		),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extension_validator_worker_restarts_total",
			Help: "Parallel workers restarted after a crash",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extension_validator_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
	}
	m.registry.MustRegister(m.casesTotal, m.caseDuration, m.warningsTotal, m.workerRestarts, m.lastRun)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeCase(suiteName string, c suite.CaseResult) {
	m.casesTotal.WithLabelValues(suiteName, string(c.Status)).Inc()
	if c.Status != suite.StatusSkipped {
		m.caseDuration.WithLabelValues(suiteName).Observe(c.Duration.Seconds())
	}
}

func (m *Metrics) observeSuite(sr suite.SuiteResult) {
	m.warningsTotal.WithLabelValues(sr.Name).Add(float64(len(sr.Warnings)))
}

// WriteFile writes the metrics in the Prometheus text format, for the node
// exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func startSuiteSpan(ctx context.Context, s *suite.Suite) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.RunSuite",
		trace.WithAttributes(
			attribute.String("suite.name", s.Name),
			attribute.Int("suite.cases", len(s.Cases())),
		),
	)
}

func startCaseSpan(ctx context.Context, suiteName, caseName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.RunCase",
		trace.WithAttributes(
			attribute.String("suite.name", suiteName),
			attribute.String("case.name", caseName),
		),
	)
}

func endCaseSpan(span trace.Span, c suite.CaseResult) {
	span.SetAttributes(
		attribute.String("case.status", string(c.Status)),
		attribute.Int64("case.duration_ms", c.Duration.Milliseconds()),
	)
	if c.Status == suite.StatusFailed {
		span.SetStatus(codes.Error, c.Error)
	}
	span.End()
}

func endSuiteSpan(span trace.Span, sr suite.SuiteResult, elapsed time.Duration) {
	span.SetAttributes(
		attribute.Int("suite.passed", sr.Passed),
		attribute.Int("suite.failed", sr.Failed),
		attribute.Int("suite.skipped", sr.Skipped),
		attribute.Int("suite.warnings", len(sr.Warnings)),
		attribute.Int64("suite.duration_ms", elapsed.Milliseconds()),
	)
	if sr.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failed", sr.Failed))
	}
	span.End()
}
