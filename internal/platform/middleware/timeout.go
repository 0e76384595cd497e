package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout returns middleware that sets a context deadline on each
// incoming request. If the deadline is exceeded before the handler starts
// writing, the request context is cancelled and a 504 Gateway Timeout
// response with a JSON error body is returned.
//
// The deadline propagates into query execution, so a slow page render is cut
// short along with the queries it is waiting on. The middleware always waits
// for the handler to return, and anything the handler writes after the
// deadline is discarded.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			orig := res.Writer
			tw := newTimeoutWriter(orig)
			res.Writer = tw
			defer func() { res.Writer = orig }()

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
			}

			expired := ctx.Err() == context.DeadlineExceeded
			n, cut := tw.cut(expired)
			err := <-done
			if !cut {
				// The handler had already started its response.
				return err
			}
			if !expired {
				// Client went away.
				return ctx.Err()
			}
			res.Status = http.StatusGatewayTimeout
			res.Size = int64(n)
			res.Committed = true
			return nil
		}
	}
}

var gatewayTimeoutBody, _ = json.Marshal(map[string]string{
	"error":   "timeout",
	"message": "request processing exceeded the allowed time limit",
})

// timeoutWriter sits between the handler and the real writer. Once cut, the
// handler's writes are dropped so only the middleware touches the response.
type timeoutWriter struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	h           http.Header
	wroteHeader bool
	cutOff      bool
}

func newTimeoutWriter(w http.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{w: w, h: w.Header().Clone()}
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.writeHeader(code)
}

func (tw *timeoutWriter) writeHeader(code int) {
	if tw.cutOff || tw.wroteHeader {
		return
	}
	dst := tw.w.Header()
	for k, v := range tw.h {
		dst[k] = v
	}
	tw.w.WriteHeader(code)
	tw.wroteHeader = true
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.cutOff {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeader(http.StatusOK)
	return tw.w.Write(b)
}

// cut stops the handler from writing unless it already sent headers. When
// expired is set the 504 body is written and its length returned.
func (tw *timeoutWriter) cut(expired bool) (int, bool) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader {
		return 0, false
	}
	tw.cutOff = true
	if !expired {
		return 0, true
	}
	tw.w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	tw.w.WriteHeader(http.StatusGatewayTimeout)
	n, _ := tw.w.Write(gatewayTimeoutBody)
	return n, true
}
