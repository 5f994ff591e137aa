package observability_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport"
	"github.com/goliatone/go-passport/observability"
)

func TestPublisher(t *testing.T) {
	metrics, err := observability.NewMetrics(nil)
	require.NoError(t, err)

	failing := passport.EventPublisherFunc(func(_ context.Context, evt passport.Event, _ passport.PublishOptions) error {
		if evt.Type == passport.EventUserLogin {
			return errors.New("broker down")
		}
		return nil
	})
	pub := observability.NewPublisher(failing, metrics)
	ctx := context.Background()

	assert.NoError(t, pub.Publish(ctx, passport.Event{Type: passport.EventUserRegistered}, passport.PublishOptions{}))
	assert.Error(t, pub.Publish(ctx, passport.Event{Type: passport.EventUserLogin}, passport.PublishOptions{}))
	assert.Error(t, pub.Publish(ctx, passport.Event{Type: passport.EventUserLogin}, passport.PublishOptions{}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(string(passport.EventUserRegistered))))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(string(passport.EventUserLogin))))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues(string(passport.EventUserLogin))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues(string(passport.EventUserRegistered))))

	t.Run("without next publisher", func(t *testing.T) {
		pub := observability.NewPublisher(nil, metrics)
		assert.NoError(t, pub.Publish(ctx, passport.Event{Type: passport.EventUserPasswordReset}, passport.PublishOptions{}))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(string(passport.EventUserPasswordReset))))
	})
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func TestMiddlewareAndHandler(t *testing.T) {
	metrics, err := observability.NewMetrics(nil)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())
	app.Get("/users/:id", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	for range 3 {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/users/42", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "/users/:id", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "/missing", "4xx")))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `passport_http_requests_total{method="GET",route="/users/:id",status="2xx"} 3`)
}
