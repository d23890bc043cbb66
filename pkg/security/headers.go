package security

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// Content Security Policy
	CSPDirectives map[string][]string

	// HSTS configuration
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	// CORS configuration
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration

	// Permissions Policy
	PermissionsPolicy map[string][]string

	ReferrerPolicy      string
	XFrameOptions       string
	XContentTypeOptions bool
	ServerName          string
}

// DefaultSecurityHeadersConfig returns the gateway defaults. The gateway only
// serves JSON to the embedded chat widget, so the CSP denies everything.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		CSPDirectives: map[string][]string{
			"default-src":     {"'none'"},
			"frame-ancestors": {"'none'"},
			"base-uri":        {"'none'"},
			"form-action":     {"'none'"},
		},
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		AllowedMethods: []string{
			"GET", "POST", "DELETE", "OPTIONS",
		},
		AllowedHeaders: []string{
			"Origin", "Content-Type", "Accept",
			"X-Requested-With", "X-Request-ID", "X-Correlation-ID", "X-Session-ID",
		},
		ExposedHeaders: []string{
			"X-Request-ID", "X-Correlation-ID", "X-RateLimit-Remaining",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		PermissionsPolicy: map[string][]string{
			"camera":      {},
			"microphone":  {},
			"geolocation": {},
			"payment":     {},
		},
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		XFrameOptions:       "DENY",
		XContentTypeOptions: true,
		ServerName:          "textbook-assistant",
	}
}

// WithAllowedOrigins returns a copy of the config accepting the given origins
func (c SecurityHeadersConfig) WithAllowedOrigins(origins []string) SecurityHeadersConfig {
	if len(origins) > 0 {
		c.AllowedOrigins = origins
	}
	return c
}

// SecurityHeadersMiddleware returns a Gin middleware that sets security headers
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	csp := buildCSP(config.CSPDirectives)
	hsts := buildHSTS(config.HSTSMaxAge, config.HSTSIncludeSubdomains)
	permissions := buildPermissionsPolicy(config.PermissionsPolicy)

	return func(c *gin.Context) {
		if csp != "" {
			c.Header("Content-Security-Policy", csp)
		}
		if config.HSTSMaxAge > 0 {
			c.Header("Strict-Transport-Security", hsts)
		}
		if permissions != "" {
			c.Header("Permissions-Policy", permissions)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.XFrameOptions != "" {
			c.Header("X-Frame-Options", config.XFrameOptions)
		}
		if config.XContentTypeOptions {
			c.Header("X-Content-Type-Options", "nosniff")
		}
		if config.ServerName != "" {
			c.Header("Server", config.ServerName)
		}
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

// CORSMiddleware returns a CORS middleware with the given configuration
func CORSMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     config.AllowedMethods,
		AllowHeaders:     config.AllowedHeaders,
		ExposeHeaders:    config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}

	// Custom origin validation for wildcard domains
	if containsWildcard(config.AllowedOrigins) {
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return isOriginAllowed(origin, config.AllowedOrigins)
		}
		corsConfig.AllowOrigins = nil
	}

	return cors.New(corsConfig)
}

// buildCSP constructs a Content Security Policy header value
func buildCSP(directives map[string][]string) string {
	var parts []string
	for _, directive := range sortedKeys(directives) {
		if sources := directives[directive]; len(sources) > 0 {
			parts = append(parts, directive+" "+strings.Join(sources, " "))
		}
	}
	return strings.Join(parts, "; ")
}

// buildHSTS constructs an HSTS header value
func buildHSTS(maxAge int, includeSubdomains bool) string {
	hsts := fmt.Sprintf("max-age=%d", maxAge)
	if includeSubdomains {
		hsts += "; includeSubDomains"
	}
	return hsts
}

// buildPermissionsPolicy constructs a Permissions Policy header value. An
// empty allowlist disables the feature entirely.
func buildPermissionsPolicy(policies map[string][]string) string {
	var parts []string
	for _, feature := range sortedKeys(policies) {
		parts = append(parts, feature+"=("+strings.Join(policies[feature], " ")+")")
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// containsWildcard checks if any origin contains a wildcard
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.Contains(origin, "*") {
			return true
		}
	}
	return false
}

// isOriginAllowed checks if an origin is allowed based on patterns
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if matchOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin checks if an origin matches a pattern (supports wildcards)
func matchOrigin(origin, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return origin == pattern
	}

	// Subdomain wildcards like https://*.example.com
	for _, scheme := range []string{"https://", "http://"} {
		prefix := scheme + "*."
		if strings.HasPrefix(pattern, prefix) {
			domain := pattern[len(prefix):]
			return strings.HasPrefix(origin, scheme) &&
				(strings.HasSuffix(origin, "."+domain) || origin == scheme+domain)
		}
	}

	return false
}

// SecurityMiddleware combines the CORS, header and body-size middlewares
func SecurityMiddleware(config SecurityHeadersConfig, maxBodyBytes int64) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		CORSMiddleware(config),
		SecurityHeadersMiddleware(config),
		RequestSizeMiddleware(maxBodyBytes),
	}
}

// RequestSizeMiddleware limits the size of request bodies
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxSize <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "Request body too large",
				"max_size": maxSize,
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
