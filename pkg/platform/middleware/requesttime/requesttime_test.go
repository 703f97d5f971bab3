package requesttime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hcert/pkg/requestcontext"
	"hcert/pkg/testutil"
)

func TestMiddleware(t *testing.T) {
	testutil.Given(t, "a handler that reads the request time twice", func(t *testing.T) {
		var first, second time.Time
		h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			first = requestcontext.Now(r.Context())
			time.Sleep(5 * time.Millisecond)
			second = requestcontext.Now(r.Context())
		}))

		testutil.When(t, "a request passes through the middleware", func(t *testing.T) {
			before := time.Now()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			testutil.Then(t, "both reads see the same instant taken at request start", func(t *testing.T) {
				assert.Equal(t, first, second)
				assert.False(t, first.Before(before))
			})
		})
	})
}
