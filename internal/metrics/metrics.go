// Package metrics records per-run Prometheus metrics and optionally pushes
// them to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/engine"
	"github.com/roach88/credsync/internal/source"
	"github.com/roach88/credsync/internal/upsert"
)

const (
	namespace = "credsync"
	jobName   = "credsync"
)

// Run holds the metrics of one process invocation on a private registry.
// It implements engine.Recorder.
type Run struct {
	registry *prometheus.Registry

	sourceRecords     *prometheus.CounterVec
	upserts           *prometheus.CounterVec
	duplicatesDeleted prometheus.Counter
	validationDelta   *prometheus.GaugeVec
	runDuration       *prometheus.GaugeVec
}

var _ engine.Recorder = (*Run)(nil)

// NewRun registers every credsync metric on a fresh registry.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Run{
		registry: reg,
		sourceRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_records_total",
			Help:      "Source records seen by a run, by outcome (qualifying, excluded, missing_identity).",
		}, []string{"origin", "outcome"}),
		upserts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upserts_total",
			Help:      "Upsert operations applied, by outcome (inserted, matched, modified, failed).",
		}, []string{"origin", "outcome"}),
		duplicatesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_deleted_total",
			Help:      "Duplicate credentials deleted by the resolver.",
		}),
		validationDelta: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_mismatch",
			Help:      "Expected minus actual entitled identities at the last validation (0 when matched).",
		}, []string{"origin"}),
		runDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run.",
		}, []string{"origin"}),
	}
}

// Registry exposes the registry for gathering.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Run) SourceRead(origin credential.Origin, stats source.Stats) {
	o := string(origin)
	r.sourceRecords.WithLabelValues(o, "qualifying").Add(float64(stats.Qualifying))
	r.sourceRecords.WithLabelValues(o, "excluded").Add(float64(stats.Excluded))
	r.sourceRecords.WithLabelValues(o, "missing_identity").Add(float64(stats.MissingIdentity))
}

func (r *Run) BatchWritten(origin credential.Origin, res upsert.Result) {
	o := string(origin)
	r.upserts.WithLabelValues(o, "inserted").Add(float64(res.Inserted))
	r.upserts.WithLabelValues(o, "matched").Add(float64(res.Matched))
	r.upserts.WithLabelValues(o, "modified").Add(float64(res.Modified))
	r.upserts.WithLabelValues(o, "failed").Add(float64(len(res.Failures)))
}

func (r *Run) DuplicatesResolved(report engine.ResolveReport) {
	r.duplicatesDeleted.Add(float64(report.Deleted))
}

func (r *Run) Validated(v engine.Validation) {
	r.validationDelta.WithLabelValues(string(v.Origin)).Set(float64(v.Expected - v.Actual))
}

func (r *Run) RunFinished(origin credential.Origin, d time.Duration) {
	r.runDuration.WithLabelValues(string(origin)).Set(d.Seconds())
}

// Push sends the registry to the Pushgateway at url, grouped by instance.
// An empty url disables pushing. Failures are logged and returned; callers
// treat them as non-fatal.
func (r *Run) Push(ctx context.Context, url, instance string, logger *slog.Logger) error {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	pusher := push.New(url, jobName).Gatherer(r.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		logger.Warn("metrics push failed", "url", url, "error", err)
		return fmt.Errorf("push metrics: %w", err)
	}
	logger.Debug("metrics pushed", "url", url)
	return nil
}
