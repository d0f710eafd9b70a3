package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/api/v1/query", ok)
	app.Post("/api/v1/classify", ok)
	app.Post("/api/v1/documents", ok)
	app.Post("/api/v1/sessions", ok)
	app.Get("/api/v1/stats", ok)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestValidation(t *testing.T) {
	app := newApp(Config{MaxQueryLength: 20, MaxDocumentSize: 50})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"valid query", "/api/v1/query", `{"query":"notice period"}`, fiber.StatusOK},
		{"missing query", "/api/v1/query", `{"session_id":"x"}`, fiber.StatusBadRequest},
		{"blank query", "/api/v1/query", `{"query":"   "}`, fiber.StatusBadRequest},
		{"non-string query", "/api/v1/query", `{"query":42}`, fiber.StatusBadRequest},
		{"query too long", "/api/v1/query", `{"query":"` + strings.Repeat("a", 21) + `"}`, fiber.StatusBadRequest},
		{"script in query", "/api/v1/query", `{"query":"<script>x"}`, fiber.StatusBadRequest},
		{"sql words allowed", "/api/v1/query", `{"query":"delete my data"}`, fiber.StatusOK},
		{"invalid json", "/api/v1/query", `{"query":`, fiber.StatusBadRequest},
		{"valid classify", "/api/v1/classify", `{"text":"a contract"}`, fiber.StatusOK},
		{"text too large", "/api/v1/classify", `{"text":"` + strings.Repeat("a", 51) + `"}`, fiber.StatusRequestEntityTooLarge},
		{"document missing filename", "/api/v1/documents", `{"content":"abc"}`, fiber.StatusBadRequest},
		{"valid document", "/api/v1/documents", `{"filename":"a.txt","content":"abc"}`, fiber.StatusOK},
		{"unvalidated path", "/api/v1/sessions", ``, fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, app, tt.path, "application/json", tt.body))
		})
	}
}

func TestRejectsUnsupportedContentType(t *testing.T) {
	app := newApp(Config{})
	assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "/api/v1/query", "text/plain", `query`))
}

func TestIgnoresReads(t *testing.T) {
	app := newApp(Config{})
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "abc", Sanitize("  a\x00bc \n"))
}
