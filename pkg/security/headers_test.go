package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(SecurityHeadersMiddleware(DefaultSecurityHeadersConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	headers := w.Header()
	assert.Equal(t, "base-uri 'none'; default-src 'none'; form-action 'none'; frame-ancestors 'none'",
		headers.Get("Content-Security-Policy"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", headers.Get("Strict-Transport-Security"))
	assert.Equal(t, "strict-origin-when-cross-origin", headers.Get("Referrer-Policy"))
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, "textbook-assistant", headers.Get("Server"))
	assert.Equal(t, "no-store", headers.Get("Cache-Control"))
	assert.Equal(t, "camera=(), geolocation=(), microphone=(), payment=()", headers.Get("Permissions-Policy"))
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CORSMiddleware(DefaultSecurityHeadersConfig()))
	router.POST("/api/v1/chatbot/query", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	req := httptest.NewRequest("OPTIONS", "/api/v1/chatbot/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	headers := w.Header()
	assert.Equal(t, "http://localhost:3000", headers.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, headers.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "true", headers.Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_UnallowedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CORSMiddleware(DefaultSecurityHeadersConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	req.Header.Set("Origin", "https://evil.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_WildcardOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := DefaultSecurityHeadersConfig().WithAllowedOrigins([]string{"https://*.textbook.example.org"})

	router := gin.New()
	router.Use(CORSMiddleware(config))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://robotics.textbook.example.org")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://robotics.textbook.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithAllowedOrigins(t *testing.T) {
	base := DefaultSecurityHeadersConfig()

	assert.Equal(t, base.AllowedOrigins, base.WithAllowedOrigins(nil).AllowedOrigins)
	assert.Equal(t, []string{"https://a.example"}, base.WithAllowedOrigins([]string{"https://a.example"}).AllowedOrigins)
	assert.Equal(t, []string{"http://localhost:3000"}, base.AllowedOrigins, "original config is unchanged")
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		origin   string
		pattern  string
		expected bool
	}{
		{"https://example.com", "https://example.com", true},
		{"https://sub.example.com", "https://*.example.com", true},
		{"https://example.com", "https://*.example.com", true},
		{"https://evil.com", "https://*.example.com", false},
		{"http://sub.example.com", "https://*.example.com", false},
		{"http://localhost:3000", "http://localhost:3000", true},
		{"http://book.local", "http://*.local", true},
		{"https://anything", "*", true},
		{"https://evil.example.com.evil.com", "https://*.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin+"_vs_"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchOrigin(tt.origin, tt.pattern))
		})
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestSizeMiddleware(10))
	router.POST("/test", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "test"})
	})

	req := httptest.NewRequest("POST", "/test", strings.NewReader("small"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("POST", "/test", strings.NewReader("this is a very long request body"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// Unknown length is still capped while reading.
	req = httptest.NewRequest("POST", "/test", io.NopCloser(strings.NewReader("this is a very long request body")))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestBuildCSP(t *testing.T) {
	csp := buildCSP(map[string][]string{
		"script-src":  {"'self'", "https://cdn.example.com"},
		"default-src": {"'self'"},
		"img-src":     {},
	})

	assert.Equal(t, "default-src 'self'; script-src 'self' https://cdn.example.com", csp)
}

func TestBuildHSTS(t *testing.T) {
	assert.Equal(t, "max-age=31536000; includeSubDomains", buildHSTS(31536000, true))
	assert.Equal(t, "max-age=600", buildHSTS(600, false))
}

func TestBuildPermissionsPolicy(t *testing.T) {
	pp := buildPermissionsPolicy(map[string][]string{
		"microphone":  {},
		"geolocation": {"self", `"https://example.com"`},
	})

	assert.Equal(t, `geolocation=(self "https://example.com"), microphone=()`, pp)
}
