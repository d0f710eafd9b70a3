package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck probes one component. It reports false when the component is
// unusable.
type HealthCheck func(ctx context.Context) bool

type HealthHandler struct {
	checks  map[string]HealthCheck
	ready   func() bool
	timeout time.Duration
}

// NewHealthHandler runs checks for /health. ready gates /ready and may be nil.
func NewHealthHandler(checks map[string]HealthCheck, ready func() bool) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		ready:   ready,
		timeout: 5 * time.Second,
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	components := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				components[name] = "healthy"
			} else {
				components[name] = "unhealthy"
				healthy = false
			}
		}()
	}
	wg.Wait()

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":     status,
		"components": components,
		"time":       time.Now().Unix(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.ready != nil && !h.ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "starting",
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}
