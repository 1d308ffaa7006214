// Package httptrace instruments inbound net/http requests as root spans.
//
// The middleware is an ordinary producer of span-lifecycle events: one
// root span named "http.request" per request, with the route as resource
// and the conventional http.* metadata. Inbound Datadog or B3 headers
// continue the caller's distributed trace.
package httptrace

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tracekit/ddapm"
)

// SpanName is the operation name given to request root spans. Map it via
// NameMappings to attach a service and type.
const SpanName = "http.request"

// statusWriter captures the response status for span metadata.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware wraps a handler so every request runs inside a root span.
// The request context carries the span's scope; handlers that thread the
// context can open child spans with ddapm.ScopeFromContext.
func Middleware(sub *ddapm.Subscriber) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := ddapm.NewScope()
			id := sub.OpenSpan(scope, SpanName)
			sub.Enter(scope, id)

			sub.Record(id, ddapm.FieldResource, resourceName(r))
			sub.Record(id, ddapm.FieldHTTPMethod, r.Method)
			sub.Record(id, ddapm.FieldHTTPURL, r.URL.String())
			if traceID, parentID, ok := extractTraceContext(r.Header); ok {
				sub.Record(id, ddapm.FieldTraceID, strconv.FormatUint(traceID, 10))
				sub.Record(id, ddapm.FieldParentID, strconv.FormatUint(parentID, 10))
			}

			sw := &statusWriter{ResponseWriter: w}
			defer func() {
				if rec := recover(); rec != nil {
					sub.Record(id, ddapm.FieldErrorType, "panic")
					sub.Record(id, ddapm.FieldErrorMsg, fmt.Sprint(rec))
					sub.Exit(scope, id)
					sub.CloseSpan(id)
					panic(rec)
				}
				status := sw.status
				if status == 0 {
					status = http.StatusOK
				}
				sub.Record(id, ddapm.FieldHTTPStatusCode, strconv.Itoa(status))
				if status >= http.StatusInternalServerError {
					sub.Record(id, ddapm.FieldErrorType, http.StatusText(status))
					sub.Record(id, ddapm.FieldErrorMsg,
						fmt.Sprintf("request failed with HTTP status %d", status))
				}
				sub.Exit(scope, id)
				sub.CloseSpan(id)
			}()

			next.ServeHTTP(sw, r.WithContext(ddapm.ContextWithScope(r.Context(), scope)))
		})
	}
}

// resourceName describes the route: "METHOD pattern" when the mux exposes
// a pattern, falling back to the request path.
func resourceName(r *http.Request) string {
	pattern := r.Pattern
	if pattern == "" {
		pattern = r.URL.Path
	}
	if strings.Contains(pattern, " ") {
		// ServeMux patterns may already carry the method prefix.
		return pattern
	}
	return r.Method + " " + pattern
}

// extractTraceContext reads distributed-trace identity from inbound
// headers: Datadog decimal headers first, then B3 multi and single forms
// (hex-encoded, low 64 bits).
func extractTraceContext(h http.Header) (traceID, parentID uint64, ok bool) {
	if t, errT := strconv.ParseUint(h.Get("x-datadog-trace-id"), 10, 64); errT == nil {
		if p, errP := strconv.ParseUint(h.Get("x-datadog-parent-id"), 10, 64); errP == nil {
			return t, p, t != 0 && p != 0
		}
	}

	traceHex, spanHex := h.Get("x-b3-traceid"), h.Get("x-b3-spanid")
	if traceHex == "" {
		// b3: {TraceId}-{SpanId}-{SamplingState}-{ParentSpanId}
		if parts := strings.Split(h.Get("b3"), "-"); len(parts) >= 2 {
			traceHex, spanHex = parts[0], parts[1]
		}
	}
	if traceHex == "" || spanHex == "" {
		return 0, 0, false
	}
	if len(traceHex) > 16 {
		// 128-bit B3 trace ids: keep the low 64 bits.
		traceHex = traceHex[len(traceHex)-16:]
	}
	t, errT := strconv.ParseUint(traceHex, 16, 64)
	p, errP := strconv.ParseUint(spanHex, 16, 64)
	if errT != nil || errP != nil || t == 0 || p == 0 {
		return 0, 0, false
	}
	return t, p, true
}
