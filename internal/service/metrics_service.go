package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-platform-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	admissionTotal  *prometheus.CounterVec
	reconcileRuns   *prometheus.CounterVec
	reconcileMoved  *prometheus.CounterVec
	notifyDropped   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	admissionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_admissions_total",
		Help: "Enrollment admission attempts by outcome",
	}, []string{"outcome"})

	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "course_reconciliation_runs_total",
		Help: "Course reconciliation runs by result",
	}, []string{"result"})

	reconcileMoved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "course_reconciliation_transitions_total",
		Help: "Courses moved by the reconciler per phase",
	}, []string{"phase"})

	notifyDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notifications dropped after exhausting delivery retries",
	})

	registry.MustRegister(requestDuration, requestTotal, admissionTotal, reconcileRuns, reconcileMoved, notifyDropped)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		admissionTotal:  admissionTotal,
		reconcileRuns:   reconcileRuns,
		reconcileMoved:  reconcileMoved,
		notifyDropped:   notifyDropped,
	}
}

// Handler exposes the /metrics endpoint handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveAdmission records the outcome of an enrollment admission attempt.
func (s *MetricsService) ObserveAdmission(outcome string) {
	s.admissionTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotificationDrop records a notification that could not be delivered.
func (s *MetricsService) ObserveNotificationDrop() {
	s.notifyDropped.Inc()
}

// ObserveReconciliation records a reconciliation run and its transitions.
func (s *MetricsService) ObserveReconciliation(result models.ReconciliationResult, err error) {
	label := "ok"
	if err != nil {
		label = "error"
	}
	s.reconcileRuns.WithLabelValues(label).Inc()
	if result.Started > 0 {
		s.reconcileMoved.WithLabelValues("started").Add(float64(result.Started))
	}
	if result.Finished > 0 {
		s.reconcileMoved.WithLabelValues("finished").Add(float64(result.Finished))
	}
}
