// Package observability provides Prometheus metrics for the passport
// lifecycle events and HTTP surface.
package observability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-passport"
)

// Metrics holds the passport collectors.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passport_events_total",
				Help: "Lifecycle events published",
			},
			[]string{"type"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passport_event_publish_failures_total",
				Help: "Lifecycle events the downstream publisher rejected",
			},
			[]string{"type"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passport_http_requests_total",
				Help: "Total requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passport_http_request_duration_seconds",
				Help:    "Request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{m.EventsTotal, m.PublishFailures, m.RequestsTotal, m.RequestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// Middleware records request count and latency by route template.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = passport.HTTPStatus(err)
			}
		}

		route := c.Route().Path
		method := c.Method()
		m.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
		m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return fmt.Sprintf("%dxx", code/100)
}

// Publisher counts events and forwards them to the next publisher.
type Publisher struct {
	next    passport.EventPublisher
	metrics *Metrics
}

var _ passport.EventPublisher = (*Publisher)(nil)

// NewPublisher decorates next with event counters.
func NewPublisher(next passport.EventPublisher, metrics *Metrics) *Publisher {
	return &Publisher{next: next, metrics: metrics}
}

func (p *Publisher) Publish(ctx context.Context, event passport.Event, opts passport.PublishOptions) error {
	eventType := string(event.Type)
	p.metrics.EventsTotal.WithLabelValues(eventType).Inc()

	if p.next == nil {
		return nil
	}
	if err := p.next.Publish(ctx, event, opts); err != nil {
		p.metrics.PublishFailures.WithLabelValues(eventType).Inc()
		return err
	}
	return nil
}
