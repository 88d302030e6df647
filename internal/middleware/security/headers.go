package security

import (
	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets response headers for a JSON-only API that returns
// patient-derived data. Responses are never cached.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'none'; " +
		"connect-src 'self' " + buildConnectSrc(cfg.AllowedOrigins) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'; " +
		"form-action 'none'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

func buildConnectSrc(origins []string) string {
	connectSrc := ""
	for _, origin := range origins {
		if origin == "" || origin == "*" {
			continue
		}
		connectSrc += origin + " "
	}
	return connectSrc
}
