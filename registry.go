package ddapm

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// spanEntry tracks one open (or just-closed) span. openedAt anchors the
// monotonic interval; record.Start is the wall-clock anchor and may be
// overridden by a recorded "start" field without affecting duration.
type spanEntry struct {
	record   SpanRecord
	openedAt time.Time
	root     bool
	closed   bool
}

// traceEntry groups every span opened under one root, in open order.
// Open order puts every parent before its children.
type traceEntry struct {
	spans []SpanID
	root  SpanID
}

// registry tracks currently-open spans and their ancestry. Owned
// exclusively by a Subscriber; all mutations happen in short critical
// sections so no span-lifecycle call blocks on another context.
type registry struct {
	spans     map[SpanID]*spanEntry
	traces    map[TraceID]*traceEntry
	ids       *idPool
	clock     clockz.Clock
	logger    *zap.Logger
	mu        sync.Mutex
	anomalies atomic.Uint64
}

func newRegistry(clock clockz.Clock, logger *zap.Logger) *registry {
	return &registry{
		spans:  make(map[SpanID]*spanEntry),
		traces: make(map[TraceID]*traceEntry),
		ids:    newIDPool(runtime.NumCPU() * 100),
		clock:  clock,
		logger: logger,
	}
}

// open creates a new span. If the scope is inside an open span the new span
// inherits its trace and parent; otherwise a fresh trace id is minted and
// the span becomes that trace's root.
func (r *registry) open(scope *Scope, name string) SpanID {
	now := r.clock.Now()

	var parent SpanID
	var hasParent bool
	if scope != nil {
		parent, hasParent = scope.current()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := SpanID(r.ids.Get())
	for r.spans[id] != nil {
		id = SpanID(r.ids.Get())
	}

	entry := &spanEntry{
		record:   SpanRecord{SpanID: id, Name: name, Start: now},
		openedAt: now,
	}

	if hasParent {
		if pe := r.spans[parent]; pe != nil && !pe.closed {
			entry.record.TraceID = pe.record.TraceID
			entry.record.ParentID = parent
		} else {
			// Current span already gone; start a fresh trace instead.
			r.anomaly("span opened under unknown or closed parent",
				zap.Uint64("parent_id", uint64(parent)), zap.String("name", name))
			hasParent = false
		}
	}

	if !hasParent {
		tid := TraceID(r.ids.Get())
		for r.traces[tid] != nil {
			tid = TraceID(r.ids.Get())
		}
		entry.record.TraceID = tid
		entry.root = true
		r.traces[tid] = &traceEntry{root: id}
	}

	te := r.traces[entry.record.TraceID]
	te.spans = append(te.spans, id)
	r.spans[id] = entry
	return id
}

// record applies a field to an open span. Reserved field names carry their
// documented semantics; anything else is custom metadata. Unknown or closed
// ids are counted and ignored - instrumentation never crashes the host.
func (r *registry) record(id SpanID, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.spans[id]
	if e == nil || e.closed {
		r.anomaly("field recorded on unknown or closed span",
			zap.Uint64("span_id", uint64(id)), zap.String("field", key))
		return
	}
	rec := &e.record

	switch key {
	case FieldTraceID:
		tid, err := strconv.ParseUint(value, 10, 64)
		if err != nil || tid == 0 {
			r.anomaly("invalid trace_id field", zap.String("value", value))
			return
		}
		r.adoptTraceID(e, TraceID(tid))
	case FieldParentID:
		pid, err := strconv.ParseUint(value, 10, 64)
		if err != nil || pid == 0 {
			r.anomaly("invalid parent_id field", zap.String("value", value))
			return
		}
		if !e.root {
			// Local parentage is fixed at open time; only a root may point
			// at a remote parent.
			r.anomaly("parent_id recorded on non-root span",
				zap.Uint64("span_id", uint64(id)))
			return
		}
		rec.ParentID = SpanID(pid)
	case FieldResource:
		rec.Resource = value
	case FieldStart:
		ns, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ns <= 0 {
			r.anomaly("invalid start field", zap.String("value", value))
			return
		}
		rec.Start = time.Unix(0, ns)
	case FieldHTTPMethod:
		rec.setMeta(MetaHTTPMethod, value)
	case FieldHTTPURL:
		rec.setMeta(MetaHTTPURL, value)
	case FieldHTTPStatusCode:
		rec.setMeta(MetaHTTPStatusCode, value)
	case FieldErrorType:
		rec.Error = true
		rec.setMeta(MetaErrorType, value)
	case FieldErrorMsg:
		rec.Error = true
		rec.setMeta(MetaErrorMsg, value)
	case FieldErrorStack:
		rec.Error = true
		rec.setMeta(MetaErrorStack, value)
	default:
		rec.setMeta(key, value)
	}
}

// recordMetric merges a numeric measurement into the span's metrics map.
func (r *registry) recordMetric(id SpanID, key string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.spans[id]
	if e == nil || e.closed {
		r.anomaly("metric recorded on unknown or closed span",
			zap.Uint64("span_id", uint64(id)), zap.String("metric", key))
		return
	}
	e.record.setMetric(key, value)
}

// adoptTraceID re-keys a root span's trace to a remote trace id, used when
// continuing a distributed trace from inbound headers. Must be called with
// r.mu held.
func (r *registry) adoptTraceID(e *spanEntry, to TraceID) {
	if !e.root {
		r.anomaly("trace_id recorded on non-root span",
			zap.Uint64("span_id", uint64(e.record.SpanID)))
		return
	}
	from := e.record.TraceID
	if from == to {
		return
	}
	if r.traces[to] != nil {
		r.anomaly("trace_id collides with a live trace",
			zap.Uint64("trace_id", uint64(to)))
		return
	}
	te := r.traces[from]
	delete(r.traces, from)
	r.traces[to] = te
	for _, sid := range te.spans {
		if se := r.spans[sid]; se != nil {
			se.record.TraceID = to
		}
	}
}

// enter makes the span the scope's current span without closing anything.
// A span may be entered and exited repeatedly as work suspends and resumes.
func (r *registry) enter(scope *Scope, id SpanID) {
	r.mu.Lock()
	e := r.spans[id]
	r.mu.Unlock()

	if e == nil {
		r.anomaly("enter of unknown span", zap.Uint64("span_id", uint64(id)))
		return
	}
	if scope != nil {
		scope.push(id)
	}
}

// exit removes the span from the top of the scope's stack.
func (r *registry) exit(scope *Scope, id SpanID) {
	if scope == nil {
		return
	}
	popped, ok := scope.pop()
	if !ok {
		r.anomaly("exit with no entered span", zap.Uint64("span_id", uint64(id)))
		return
	}
	if popped != id {
		r.anomaly("exited span is not the current span",
			zap.Uint64("span_id", uint64(id)), zap.Uint64("current", uint64(popped)))
	}
}

// close marks the span closed and computes its duration from the monotonic
// clock. When the closed span is its trace's root, the whole trace is
// detached and returned: spans that never closed are synthesized closed at
// the root's end time so no trace is dropped over one unclosed child.
// Closing an already-closed or unknown span is a counted no-op.
func (r *registry) close(id SpanID) (SpanRecord, []SpanRecord, bool) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.spans[id]
	if e == nil {
		r.anomaly("close of unknown span", zap.Uint64("span_id", uint64(id)))
		return SpanRecord{}, nil, false
	}
	if e.closed {
		r.anomaly("close of already closed span", zap.Uint64("span_id", uint64(id)))
		return SpanRecord{}, nil, false
	}

	e.closed = true
	e.record.End = now
	d := now.Sub(e.openedAt)
	if d < 0 {
		d = 0
	}
	e.record.Duration = d

	// Out-of-order closes are permitted but worth flagging.
	if te := r.traces[e.record.TraceID]; te != nil && !e.root {
		for _, sid := range te.spans {
			if se := r.spans[sid]; se != nil && !se.closed && se.record.ParentID == id {
				r.anomaly("span closed before its child",
					zap.Uint64("span_id", uint64(id)), zap.Uint64("child_id", uint64(sid)))
			}
		}
	}

	if !e.root {
		return e.record.clone(), nil, true
	}
	return e.record.clone(), r.detachTrace(e.record.TraceID, now), true
}

// detachTrace removes every span of the trace from the registry and
// returns them in open order (parents before children). Must be called
// with r.mu held.
func (r *registry) detachTrace(tid TraceID, end time.Time) []SpanRecord {
	te := r.traces[tid]
	if te == nil {
		return nil
	}
	out := make([]SpanRecord, 0, len(te.spans))
	for _, sid := range te.spans {
		se := r.spans[sid]
		if se == nil {
			continue
		}
		if !se.closed {
			se.closed = true
			se.record.End = end
			d := end.Sub(se.openedAt)
			if d < 0 {
				d = 0
			}
			se.record.Duration = d
			r.anomaly("span never closed before its root; close synthesized",
				zap.Uint64("trace_id", uint64(tid)), zap.Uint64("span_id", uint64(sid)))
		}
		out = append(out, se.record.clone())
		delete(r.spans, sid)
	}
	delete(r.traces, tid)
	return out
}

// openCount reports how many spans are currently tracked.
func (r *registry) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spans)
}

func (r *registry) anomaly(msg string, fields ...zap.Field) {
	r.anomalies.Add(1)
	r.logger.Warn(msg, fields...)
}

func (r *registry) stop() {
	r.ids.Close()
}
