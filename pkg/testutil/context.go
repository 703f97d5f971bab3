package testutil

import (
	"context"
	"net/http"
	"time"

	"hcert/pkg/requestcontext"
)

// WithClientMetadata sets the client IP and User-Agent the metadata middleware would.
func WithClientMetadata(req *http.Request, clientIP, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithAdmin marks the request as authorised by an admin token for subject.
func WithAdmin(req *http.Request, subject string) *http.Request {
	return req.WithContext(requestcontext.WithAdminSubject(req.Context(), subject))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
