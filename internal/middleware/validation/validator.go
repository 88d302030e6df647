package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	xssPattern       = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxRecords          int
	MaxFieldNameLength  int
	MaxStringLength     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxRecords == 0 {
		cfg.MaxRecords = 2000
	}
	if cfg.MaxFieldNameLength == 0 {
		cfg.MaxFieldNameLength = 64
	}
	if cfg.MaxStringLength == 0 {
		cfg.MaxStringLength = 64
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

		contentType := c.Get("Content-Type")
		if contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.Contains(path, "/api/v1/predict") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if w, ok := req["window"]; ok && w != nil {
				if _, isNum := w.(float64); !isNum {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "window must be a number of hours",
					})
				}
			}

			records, ok := req["records"].([]interface{})
			if !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "records is required and must be an array",
				})
			}

			if len(records) == 0 {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
					"error": "No patient records supplied",
				})
			}

			if len(records) > cfg.MaxRecords {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Too many records in sequence",
				})
			}

			for _, r := range records {
				rec, ok := r.(map[string]interface{})
				if !ok {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Each record must be an object",
					})
				}
				if msg := checkRecord(cfg, c, rec); msg != "" {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": msg,
					})
				}
			}
		}

		if strings.Contains(path, "/api/v1/stays/") && strings.HasSuffix(path, "/records") {
			var rec map[string]interface{}
			if err := c.BodyParser(&rec); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			if msg := checkRecord(cfg, c, rec); msg != "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": msg,
				})
			}
		}

		return c.Next()
	}
}

// checkRecord returns a client-facing message for the first problem found, or "".
func checkRecord(cfg Config, c *fiber.Ctx, rec map[string]interface{}) string {
	for name, value := range rec {
		if len(name) > cfg.MaxFieldNameLength || !fieldNamePattern.MatchString(name) {
			return "Invalid field name"
		}

		switch v := value.(type) {
		case nil, bool, float64:
		case string:
			if len(v) > cfg.MaxStringLength {
				return "Field value exceeds maximum length"
			}
			if containsXSS(v) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("field", name),
				)
				return "Invalid field value"
			}
		default:
			return "Field values must be scalars"
		}
	}
	return ""
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
