package middleware

import (
	"net/http"
)

// MaxRequestBodySize is the default limit applied by LimitBody (1MB).
const MaxRequestBodySize = 1 << 20

// LimitBody caps request bodies of POST, PUT and PATCH requests at max
// bytes; max <= 0 uses MaxRequestBodySize.
func LimitBody(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = MaxRequestBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
