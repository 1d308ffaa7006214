package httptrace

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/tracekit/ddapm"
)

type captureSink struct {
	mu     sync.Mutex
	traces [][]ddapm.SpanRecord
}

func (s *captureSink) Submit(trace []ddapm.SpanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, trace)
}

func (s *captureSink) all() [][]ddapm.SpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]ddapm.SpanRecord, len(s.traces))
	copy(out, s.traces)
	return out
}

func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *ddapm.Subscriber, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	sub := ddapm.NewSubscriber(sink, ddapm.SubscriberConfig{
		Mappings: ddapm.NewNameMappings().Map(SpanName, "web-svc", ddapm.SpanTypeWeb),
		Clock:    clockz.NewFakeClock(),
	})
	t.Cleanup(sub.Close)
	return Middleware(sub), sub, sink
}

func singleTrace(t *testing.T, sink *captureSink) []ddapm.SpanRecord {
	t.Helper()
	traces := sink.all()
	require.Len(t, traces, 1)
	return traces[0]
}

func TestMiddlewareRecordsRequestSpan(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/users/42?verbose=1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	trace := singleTrace(t, sink)
	require.Len(t, trace, 1)
	span := trace[0]
	assert.Equal(t, SpanName, span.Name)
	assert.Equal(t, "web-svc", span.Service)
	assert.Equal(t, ddapm.SpanTypeWeb, span.Type)
	assert.Equal(t, "POST /users/42", span.Resource)
	assert.Equal(t, "POST", span.Meta[ddapm.MetaHTTPMethod])
	assert.Equal(t, "/users/42?verbose=1", span.Meta[ddapm.MetaHTTPURL])
	assert.Equal(t, "201", span.Meta[ddapm.MetaHTTPStatusCode])
	assert.False(t, span.Error)
}

func TestMiddlewareUsesMuxPatternAsResource(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	mux := http.NewServeMux()
	mux.Handle("GET /users/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	mw(mux).ServeHTTP(httptest.NewRecorder(), req)

	trace := singleTrace(t, sink)
	assert.Equal(t, "GET /users/{id}", trace[0].Resource)
}

func TestMiddlewareImplicitOKStatus(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok")) // no explicit WriteHeader
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	trace := singleTrace(t, sink)
	assert.Equal(t, "200", trace[0].Meta[ddapm.MetaHTTPStatusCode])
}

func TestMiddlewareHandlerOpensChildSpans(t *testing.T) {
	mw, sub, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ddapm.ScopeFromContext(r.Context())
		require.NotNil(t, scope, "request context carries the span scope")
		child := sub.OpenSpan(scope, "database.query")
		sub.Record(child, ddapm.FieldResource, "SELECT 1")
		sub.CloseSpan(child)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	trace := singleTrace(t, sink)
	require.Len(t, trace, 2)
	root, child := trace[0], trace[1]
	assert.Equal(t, SpanName, root.Name)
	assert.Equal(t, "database.query", child.Name)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, root.TraceID, child.TraceID)
}

func TestMiddlewareContinuesDatadogHeaders(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-datadog-trace-id", "123")
	req.Header.Set("x-datadog-parent-id", "456")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	trace := singleTrace(t, sink)
	assert.Equal(t, ddapm.TraceID(123), trace[0].TraceID)
	assert.Equal(t, ddapm.SpanID(456), trace[0].ParentID)
}

func TestMiddlewareContinuesB3SingleHeader(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("b3", "463ac35c9f6413ad48485a3953bb6124-a2fb4a1d1a96d312-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	trace := singleTrace(t, sink)
	// 128-bit trace ids keep the low 64 bits.
	assert.Equal(t, ddapm.TraceID(0x48485a3953bb6124), trace[0].TraceID)
	assert.Equal(t, ddapm.SpanID(0xa2fb4a1d1a96d312), trace[0].ParentID)
}

func TestMiddlewareIgnoresMalformedTraceHeaders(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-datadog-trace-id", "not-a-number")
	req.Header.Set("x-b3-traceid", "0")
	req.Header.Set("x-b3-spanid", "zz")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	trace := singleTrace(t, sink)
	assert.NotZero(t, trace[0].TraceID, "a fresh trace is minted")
	assert.Zero(t, trace[0].ParentID)
}

func TestMiddlewareServerErrorMarksSpanFailed(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	trace := singleTrace(t, sink)
	span := trace[0]
	assert.True(t, span.Error)
	assert.Equal(t, "500", span.Meta[ddapm.MetaHTTPStatusCode])
	assert.Equal(t, "Internal Server Error", span.Meta[ddapm.MetaErrorType])
	assert.NotEmpty(t, span.Meta[ddapm.MetaErrorMsg])
}

func TestMiddlewareClientErrorNotFailed(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	trace := singleTrace(t, sink)
	assert.False(t, trace[0].Error)
	assert.Equal(t, "404", trace[0].Meta[ddapm.MetaHTTPStatusCode])
}

func TestMiddlewarePanicClosesSpanAndRepanics(t *testing.T) {
	mw, _, sink := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	require.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	trace := singleTrace(t, sink)
	span := trace[0]
	assert.True(t, span.Error)
	assert.Equal(t, "panic", span.Meta[ddapm.MetaErrorType])
	assert.Equal(t, "kaboom", span.Meta[ddapm.MetaErrorMsg])
}
