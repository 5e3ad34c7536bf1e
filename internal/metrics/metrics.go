package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/usecase"
)

const namespace = "qbank"

// Sources are read on every scrape. Nil sources are skipped.
type Sources struct {
	Questions  *usecase.QuestionService
	Imports    *usecase.ImportService
	Dispatcher *usecase.OutboxDispatcher
	Outbox     OutboxCounter
}

type OutboxCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type Registry struct {
	reg             *prometheus.Registry
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewRegistry(src Sources) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		),
	}
	r.reg.MustRegister(r.requestCounter, r.requestDuration)

	if q := src.Questions; q != nil {
		r.counter("questions_validated_total", "Questions run through the validator", func() int64 { return q.Metrics().ValidatedTotal })
		r.counter("questions_rejected_total", "Questions that failed validation", func() int64 { return q.Metrics().RejectedTotal })
		r.counter("questions_inserted_total", "Questions written to the questions collection", func() int64 { return q.Metrics().InsertedTotal })
		r.counter("questions_removed_total", "Questions deleted from the questions collection", func() int64 { return q.Metrics().RemovedTotal })
		r.counter("questions_archived_total", "Questions copied to the archive", func() int64 { return q.Metrics().ArchivedTotal })
	}
	if i := src.Imports; i != nil {
		r.counter("import_inserted_total", "Questions inserted by bulk imports", func() int64 { return i.Metrics().ImportedTotal })
		r.counter("import_rejected_total", "Questions rejected by bulk imports", func() int64 { return i.Metrics().RejectedTotal })
	}
	if d := src.Dispatcher; d != nil {
		r.counter("outbox_dispatch_success_total", "Outbox events published", func() int64 { return d.Metrics().DispatchSuccessTotal })
		r.counter("outbox_dispatch_failure_total", "Outbox publish attempts that failed", func() int64 { return d.Metrics().DispatchFailureTotal })
		r.counter("outbox_dispatch_dead_total", "Outbox events moved to dead letter", func() int64 { return d.Metrics().DispatchDeadTotal })
	}
	if o := src.Outbox; o != nil {
		for _, status := range []string{domain.OutboxPending, domain.OutboxDispatched, domain.OutboxDead} {
			r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "outbox_events",
				Help:        "Outbox events by status",
				ConstLabels: prometheus.Labels{"status": status},
			}, outboxGauge(o, status)))
		}
	}
	return r
}

func (r *Registry) counter(name, help string, read func() int64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(read()) }))
}

func outboxGauge(o OutboxCounter, status string) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		counts, err := o.CountByStatus(ctx)
		if err != nil {
			return 0
		}
		return float64(counts[status])
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requestCounter.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.requestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
