package middleware

import (
	"net/http"
	"strings"
)

// HeaderPolicy describes the security headers applied to a group of routes.
type HeaderPolicy struct {
	FrameOptions string // empty omits X-Frame-Options
	CSP          string
}

// APIPolicy is applied to JSON endpoints: nothing may load or frame them.
var APIPolicy = HeaderPolicy{
	FrameOptions: "DENY",
	CSP:          "default-src 'none'; frame-ancestors 'none'",
}

// EmbedHostPolicy returns the policy for the page that hosts the embedded
// experience. It must load the SDK bundle from sdkOrigin and frame frameOrigins.
func EmbedHostPolicy(sdkOrigin string, frameOrigins ...string) HeaderPolicy {
	frames := "https://*.quicksight.aws.amazon.com"
	if len(frameOrigins) > 0 {
		frames = strings.Join(frameOrigins, " ")
	}
	return HeaderPolicy{
		FrameOptions: "SAMEORIGIN",
		CSP: "default-src 'self'; script-src 'self' 'unsafe-inline' " + sdkOrigin +
			"; frame-src " + frames + "; style-src 'self' 'unsafe-inline'",
	}
}

// SecurityHeaders returns middleware applying p to every response.
func SecurityHeaders(p HeaderPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if p.FrameOptions != "" {
				h.Set("X-Frame-Options", p.FrameOptions)
			}
			h.Set("X-Content-Type-Options", "nosniff")
			if p.CSP != "" {
				h.Set("Content-Security-Policy", p.CSP)
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}
