package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestKey ctxKey = iota

// requestInfo is shared between the outer middleware and the route-level
// middleware, which only runs once mux has matched a route.
type requestInfo struct {
	id    string
	route string
}

func infoFrom(ctx context.Context) *requestInfo {
	if ri, ok := ctx.Value(requestKey).(*requestInfo); ok {
		return ri
	}
	return &requestInfo{}
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	return infoFrom(ctx).id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps streaming responses (MCP over SSE) working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument assigns the request id, recovers panics, and logs and measures
// every request, matched or not.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ri := &requestInfo{id: id, route: "unmatched"}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestKey, ri))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("handler panic", "request_id", id, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
				if !rec.wrote {
					writeErrorBody(rec, http.StatusInternalServerError, ErrorBody{
						Error: "internal server error",
						Kind:  "internal",
					})
				}
			}

			d := time.Since(start)
			if s.metrics != nil {
				s.metrics.ObserveRequest(ri.route, r.Method, rec.status, d)
			}
			s.logRequest(ri, r, rec.status, d)
		}()

		next.ServeHTTP(rec, r)
	})
}

func (s *Server) logRequest(ri *requestInfo, r *http.Request, status int, d time.Duration) {
	args := []any{
		"request_id", ri.id,
		"method", r.Method,
		"route", ri.route,
		"path", r.URL.Path,
		"status", status,
		"duration", d,
	}
	switch {
	case status >= 500:
		s.log.Warn("request failed", args...)
	case ri.route == routeStatic:
		s.log.Trace("request", args...)
	default:
		s.log.Debug("request", args...)
	}
}

// captureRoute records the matched route template for logs and metrics.
func captureRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				infoFrom(r.Context()).route = tpl
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger returns a sub-logger carrying the request id.
func requestLogger(log hclog.Logger, r *http.Request) hclog.Logger {
	return log.With("request_id", RequestID(r.Context()))
}
