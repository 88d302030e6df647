package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		cfg      HeadersConfig
		wantHSTS bool
	}{
		{"production", HeadersConfig{AllowedOrigins: []string{"https://icu.example"}}, true},
		{"development", HeadersConfig{IsDevelopment: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(HeadersMiddleware(tt.cfg))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			assert.Equal(t, tt.wantHSTS, resp.Header.Get("Strict-Transport-Security") != "")

			csp := resp.Header.Get("Content-Security-Policy")
			assert.True(t, strings.HasPrefix(csp, "default-src 'none'"))
			for _, origin := range tt.cfg.AllowedOrigins {
				assert.Contains(t, csp, origin)
			}
		})
	}
}

func TestBuildConnectSrcSkipsWildcard(t *testing.T) {
	assert.Equal(t, "https://a.example ", buildConnectSrc([]string{"*", "", "https://a.example"}))
	assert.Equal(t, "", buildConnectSrc(nil))
}
