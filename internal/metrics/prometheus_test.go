package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	Init()
	Init()

	ClassificationsTotal.WithLabelValues("legal", "llm_confident").Inc()
	RoutingTotal.WithLabelValues("legal", "semantic").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `docrouter_classifications_total{branch="llm_confident",category="legal"}`)
	assert.Contains(t, string(body), "docrouter_routing_total")
}
