package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the risk engine
type Registry struct {
	meter metric.Meter

	// Assessment metrics
	AssessmentDuration     metric.Float64Histogram
	AssessmentsPerSecond   metric.Float64ObservableGauge
	AssessmentScore        metric.Float64Histogram
	BlockCounter           metric.Int64Counter
	EscalationCounter      metric.Int64Counter
	EvaluatorFailureTotal  metric.Int64Counter
	AssessmentFailureTotal metric.Int64Counter

	// Limit metrics
	LimitUpdateDuration metric.Float64Histogram
	LimitCASRetries     metric.Int64Counter
	LimitBreachCounter  metric.Int64Counter
	LimitWarningCounter metric.Int64Counter

	// Compliance metrics
	ComplianceCheckDuration  metric.Float64Histogram
	ComplianceFailureCounter metric.Int64Counter

	// Alerting metrics
	AlertCounter       metric.Int64Counter
	OpenAlerts         metric.Int64ObservableGauge
	AlertTimeToResolve metric.Float64Histogram

	// System metrics
	DatabaseConnectionPool metric.Int64ObservableGauge
	CacheHitRate           metric.Float64ObservableGauge

	// State for observable metrics
	mu                   sync.RWMutex
	openAlerts           int64
	dbPoolSize           int64
	cacheHits            int64
	cacheLookups         int64
	assessmentsProcessed int64
	lastAssessmentCount  int64
	lastAssessmentTime   time.Time
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{
		meter:              meter,
		lastAssessmentTime: time.Now(),
	}

	if err := r.initAssessmentMetrics(); err != nil {
		return nil, err
	}

	if err := r.initLimitMetrics(); err != nil {
		return nil, err
	}

	if err := r.initComplianceMetrics(); err != nil {
		return nil, err
	}

	if err := r.initAlertMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initAssessmentMetrics() error {
	var err error

	r.AssessmentDuration, err = r.meter.Float64Histogram(
		"riskengine.assessment.duration",
		metric.WithDescription("End-to-end assessment duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.AssessmentsPerSecond, err = r.meter.Float64ObservableGauge(
		"riskengine.assessment.throughput_per_second",
		metric.WithDescription("Current assessment throughput per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()

			now := time.Now()
			elapsed := now.Sub(r.lastAssessmentTime).Seconds()
			if elapsed > 0 {
				rate := float64(r.assessmentsProcessed-r.lastAssessmentCount) / elapsed
				o.Observe(rate)
				r.lastAssessmentCount = r.assessmentsProcessed
				r.lastAssessmentTime = now
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.AssessmentScore, err = r.meter.Float64Histogram(
		"riskengine.assessment.score",
		metric.WithDescription("Distribution of overall fraud scores"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90),
	)
	if err != nil {
		return err
	}

	r.BlockCounter, err = r.meter.Int64Counter(
		"riskengine.assessment.block_total",
		metric.WithDescription("Total assessments recommending BLOCK"),
	)
	if err != nil {
		return err
	}

	r.EscalationCounter, err = r.meter.Int64Counter(
		"riskengine.assessment.escalation_total",
		metric.WithDescription("Total assessments escalated for human review"),
	)
	if err != nil {
		return err
	}

	r.EvaluatorFailureTotal, err = r.meter.Int64Counter(
		"riskengine.assessment.evaluator_failure_total",
		metric.WithDescription("Total evaluator failures absorbed fail-closed"),
	)
	if err != nil {
		return err
	}

	r.AssessmentFailureTotal, err = r.meter.Int64Counter(
		"riskengine.assessment.failure_total",
		metric.WithDescription("Total assessments that could not complete"),
	)

	return err
}

func (r *Registry) initLimitMetrics() error {
	var err error

	r.LimitUpdateDuration, err = r.meter.Float64Histogram(
		"riskengine.limit.update_duration",
		metric.WithDescription("Limit utilization update duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.LimitCASRetries, err = r.meter.Int64Counter(
		"riskengine.limit.cas_retry_total",
		metric.WithDescription("Total compare-and-swap retries on limit updates"),
	)
	if err != nil {
		return err
	}

	r.LimitBreachCounter, err = r.meter.Int64Counter(
		"riskengine.limit.breach_total",
		metric.WithDescription("Total limit breach transitions"),
	)
	if err != nil {
		return err
	}

	r.LimitWarningCounter, err = r.meter.Int64Counter(
		"riskengine.limit.warning_total",
		metric.WithDescription("Total limit warning transitions"),
	)

	return err
}

func (r *Registry) initComplianceMetrics() error {
	var err error

	r.ComplianceCheckDuration, err = r.meter.Float64Histogram(
		"riskengine.compliance.check_duration",
		metric.WithDescription("Compliance check duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.ComplianceFailureCounter, err = r.meter.Int64Counter(
		"riskengine.compliance.failure_total",
		metric.WithDescription("Total failed compliance checks"),
	)

	return err
}

func (r *Registry) initAlertMetrics() error {
	var err error

	r.AlertCounter, err = r.meter.Int64Counter(
		"riskengine.alert.created_total",
		metric.WithDescription("Total alerts created"),
	)
	if err != nil {
		return err
	}

	r.OpenAlerts, err = r.meter.Int64ObservableGauge(
		"riskengine.alert.open_total",
		metric.WithDescription("Number of currently open alerts"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.openAlerts)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.AlertTimeToResolve, err = r.meter.Float64Histogram(
		"riskengine.alert.time_to_resolve",
		metric.WithDescription("Time from alert creation to resolution in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 300, 600, 1800, 3600, 14400, 86400),
	)

	return err
}

func (r *Registry) initSystemMetrics() error {
	var err error

	r.DatabaseConnectionPool, err = r.meter.Int64ObservableGauge(
		"riskengine.system.db_connection_pool_size",
		metric.WithDescription("Current database connection pool size"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dbPoolSize)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.CacheHitRate, err = r.meter.Float64ObservableGauge(
		"riskengine.system.cache_hit_rate",
		metric.WithDescription("Profile cache hit rate"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			if r.cacheLookups > 0 {
				o.Observe(float64(r.cacheHits) / float64(r.cacheLookups))
			}
			return nil
		}),
	)

	return err
}

// Helper methods for updating observable metric values

// UpdateOpenAlerts adjusts the open alert count
func (r *Registry) UpdateOpenAlerts(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openAlerts += delta
}

// SetDBPoolSize sets the database connection pool size
func (r *Registry) SetDBPoolSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbPoolSize = size
}

// RecordCacheLookup records one cache lookup and whether it hit
func (r *Registry) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheLookups++
	if hit {
		r.cacheHits++
	}
}

// Helper methods for recording metrics with common attribute patterns

// RecordAssessment records one completed or failed assessment
func (r *Registry) RecordAssessment(ctx context.Context, duration time.Duration, assessmentType, recommendation string, score float64, completed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("assessment_type", assessmentType),
		attribute.String("recommendation", recommendation),
		attribute.Bool("completed", completed),
	}

	r.AssessmentDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if !completed {
		r.AssessmentFailureTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}

	r.AssessmentScore.Record(ctx, score, metric.WithAttributes(attrs...))
	if recommendation == "block" {
		r.BlockCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	r.mu.Lock()
	r.assessmentsProcessed++
	r.mu.Unlock()
}

// RecordEvaluatorFailure records one evaluator failure absorbed fail-closed
func (r *Registry) RecordEvaluatorFailure(ctx context.Context, category string) {
	r.EvaluatorFailureTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordEscalation records one assessment escalation
func (r *Registry) RecordEscalation(ctx context.Context, assessmentType string) {
	r.EscalationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("assessment_type", assessmentType),
	))
}

// RecordLimitUpdate records one limit mutation with its retry count
func (r *Registry) RecordLimitUpdate(ctx context.Context, duration time.Duration, limitType, status string, retries int64) {
	attrs := []attribute.KeyValue{
		attribute.String("limit_type", limitType),
		attribute.String("status", status),
	}

	r.LimitUpdateDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	if retries > 0 {
		r.LimitCASRetries.Add(ctx, retries, metric.WithAttributes(attrs...))
	}

	switch status {
	case "breached":
		r.LimitBreachCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case "warning":
		r.LimitWarningCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordComplianceCheck records one compliance rule-engine run
func (r *Registry) RecordComplianceCheck(ctx context.Context, duration time.Duration, checkType string, passed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("check_type", checkType),
		attribute.Bool("passed", passed),
	}

	r.ComplianceCheckDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	if !passed {
		r.ComplianceFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAlert records one created alert
func (r *Registry) RecordAlert(ctx context.Context, alertType, severity string) {
	r.AlertCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("alert_type", alertType),
		attribute.String("severity", severity),
	))
	r.UpdateOpenAlerts(1)
}

// RecordAlertResolved records one alert closing
func (r *Registry) RecordAlertResolved(ctx context.Context, alertType string, openFor time.Duration) {
	r.AlertTimeToResolve.Record(ctx, openFor.Seconds(), metric.WithAttributes(
		attribute.String("alert_type", alertType),
	))
	r.UpdateOpenAlerts(-1)
}
