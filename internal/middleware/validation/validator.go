package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// field describes one required string field of a JSON request body.
type field struct {
	name     string
	limit    func(cfg Config) int
	checkXSS bool
}

var (
	queryField = field{name: "query", limit: func(cfg Config) int { return cfg.MaxQueryLength }, checkXSS: true}
	textField  = field{name: "text", limit: func(cfg Config) int { return cfg.MaxDocumentSize }}

	rules = map[string][]field{
		"/api/v1/query":    {queryField},
		"/api/v1/route":    {queryField},
		"/api/v1/classify": {textField},
		"/api/v1/documents": {
			{name: "filename", limit: func(Config) int { return 255 }},
			{name: "content", limit: func(cfg Config) int { return cfg.MaxDocumentSize }},
		},
	}
)

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		fields, ok := rules[strings.TrimSuffix(c.Path(), "/")]
		if !ok || c.Method() != fiber.MethodPost {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		for _, f := range fields {
			value, ok := req[f.name].(string)
			if !ok || strings.TrimSpace(value) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": f.name + " is required and must be a string",
				})
			}

			if len(value) > f.limit(cfg) {
				status := fiber.StatusBadRequest
				if f.name != queryField.name {
					status = fiber.StatusRequestEntityTooLarge
				}
				return c.Status(status).JSON(fiber.Map{
					"error": f.name + " exceeds maximum length",
				})
			}

			if f.checkXSS && xssPattern.MatchString(value) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid " + f.name + " content",
				})
			}
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// Sanitize trims whitespace and strips NUL bytes from user supplied text.
func Sanitize(input string) string {
	input = strings.TrimSpace(input)
	return strings.ReplaceAll(input, "\x00", "")
}
