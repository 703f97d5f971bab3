// Package requesttime pins one "now" per request so every certificate in a request,
// batch included, is evaluated against the same instant.
package requesttime

import (
	"net/http"
	"time"

	"hcert/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
