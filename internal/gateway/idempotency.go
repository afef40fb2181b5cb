// ABOUTME: Idempotency-Key handling for mutating API requests
// ABOUTME: The first response for a key is recorded and replayed to retries within the TTL

package gateway

import (
	"bytes"
	"net/http"

	"github.com/2389/entropy-chat/internal/dedupe"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// responseRecorder captures a handler's response while passing it through.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotent wraps a mutating handler. Requests without the header run as
// usual. A retry of a completed request gets the recorded response; a retry
// while the first is still running gets 409. Server errors are not recorded.
func (g *Gateway) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next(w, r)
			return
		}
		cacheKey := r.Method + " " + r.URL.Path + " " + key

		resp, claim := g.dedupe.Claim(cacheKey)
		switch claim {
		case dedupe.ClaimDone:
			g.logger.Debug("replaying idempotent response", "path", r.URL.Path, "key", key)
			for k, vs := range resp.Header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(resp.Status)
			_, _ = w.Write(resp.Body)
			return
		case dedupe.ClaimPending:
			g.sendJSONError(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is still in progress")
			return
		}

		rec := &responseRecorder{ResponseWriter: w}
		next(rec, r)

		if rec.status == 0 || rec.status >= http.StatusInternalServerError {
			g.dedupe.Release(cacheKey)
			return
		}
		g.dedupe.Complete(cacheKey, dedupe.Response{
			Status: rec.status,
			Header: w.Header().Clone(),
			Body:   rec.body.Bytes(),
		})
	}
}
