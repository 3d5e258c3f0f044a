// Package requesttime pins "now" for the duration of a request, so the
// consent event, its audit record and the log line carry the same instant.
package requesttime

import (
	"net/http"
	"time"

	"consentledger/pkg/requestcontext"
)

// Middleware stores the request start time in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
