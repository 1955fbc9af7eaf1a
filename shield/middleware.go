package shield

import "net/http"

// apiHeaders suit JSON and ZIP responses that are never rendered as pages.
var apiHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Cache-Control":           "no-store",
}

// Harden answers HEAD like GET, sets the API security headers and caps the
// request body at maxBody bytes. Reads past the cap fail with
// *http.MaxBytesError. maxBody <= 0 leaves bodies unbounded.
func Harden(maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				// net/http drops the body of HEAD replies itself.
				r.Method = http.MethodGet
			}
			h := w.Header()
			for k, v := range apiHeaders {
				h.Set(k, v)
			}
			if maxBody > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			}
			next.ServeHTTP(w, r)
		})
	}
}
