package ddapm

import (
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// TraceSink receives completed traces. Ownership of the slice transfers to
// the sink; the subscriber retains no reference after handoff.
type TraceSink interface {
	Submit(trace []SpanRecord)
}

// EnvTags are stamped into every span's metadata at open time, matching the
// agent's unified-service-tagging conventions.
type EnvTags struct {
	Env     string `envconfig:"DD_ENV"`
	Service string `envconfig:"DD_SERVICE"`
	Version string `envconfig:"DD_VERSION"`
}

// SubscriberConfig configures a Subscriber. The zero value is usable:
// no mappings, no env tags, real clock, silent logger.
type SubscriberConfig struct {
	Mappings *NameMappings
	Logger   *zap.Logger
	Clock    clockz.Clock
	Tags     EnvTags
}

// Subscriber is the boundary instrumentation call sites and framework
// integrations talk to. It owns the span registry, enriches spans on close
// via the name mapping, and hands each completed trace to the sink the
// moment its root closes.
//
// Every method completes in bounded time without I/O; the subscriber runs
// inline on the instrumented application's own goroutines.
type Subscriber struct {
	sink   TraceSink
	reg    *registry
	mapper mapper
	tags   EnvTags
}

// NewSubscriber creates a subscriber delivering completed traces to sink.
// Construct one per pipeline; there is no process-global instance.
func NewSubscriber(sink TraceSink, cfg SubscriberConfig) *Subscriber {
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		sink:   sink,
		reg:    newRegistry(clock, logger),
		mapper: newMapper(cfg.Mappings),
		tags:   cfg.Tags,
	}
}

// OpenSpan creates a new span in the given scope. If the scope is inside an
// open span, the new span becomes its child and inherits the trace id;
// otherwise it roots a new trace. The caller decides whether to Enter it.
func (s *Subscriber) OpenSpan(scope *Scope, name Key) SpanID {
	id := s.reg.open(scope, name)
	if s.tags.Service != "" {
		s.reg.record(id, MetaService, s.tags.Service)
	}
	if s.tags.Env != "" {
		s.reg.record(id, MetaEnv, s.tags.Env)
	}
	if s.tags.Version != "" {
		s.reg.record(id, MetaVersion, s.tags.Version)
	}
	return id
}

// Record applies a field to an open span. Reserved field names (see the
// Field constants) adjust identity, resource, start, or conventional
// metadata; any other name is stored as custom metadata. Recording on an
// unknown or closed span is a counted no-op.
func (s *Subscriber) Record(id SpanID, key, value string) {
	s.reg.record(id, key, value)
}

// RecordMetric attaches a numeric measurement to an open span.
func (s *Subscriber) RecordMetric(id SpanID, key string, value float64) {
	s.reg.recordMetric(id, key, value)
}

// Enter makes the span current for the scope. Subsequent OpenSpan calls on
// the scope become its children until Exit.
func (s *Subscriber) Enter(scope *Scope, id SpanID) {
	s.reg.enter(scope, id)
}

// Exit removes the span from the scope's current-span stack.
func (s *Subscriber) Exit(scope *Scope, id SpanID) {
	s.reg.exit(scope, id)
}

// CloseSpan closes the span. When the span roots a trace, every span opened
// under it is enriched and the completed trace is handed to the sink -
// including children that never closed, which get a synthesized end at the
// root's close time.
func (s *Subscriber) CloseSpan(id SpanID) {
	_, trace, ok := s.reg.close(id)
	if !ok || trace == nil {
		return
	}
	for i := range trace {
		s.mapper.enrich(&trace[i])
	}
	if s.sink != nil {
		s.sink.Submit(trace)
	}
}

// Anomalies reports how many instrumentation-misuse events (unknown ids,
// double closes, synthesized closes, mismatched enter/exit) were repaired.
func (s *Subscriber) Anomalies() uint64 {
	return s.reg.anomalies.Load()
}

// OpenSpans reports how many spans are currently tracked; useful for
// detecting leaks in long-lived processes.
func (s *Subscriber) OpenSpans() int {
	return s.reg.openCount()
}

// Close releases the subscriber's background resources. Spans still open
// are abandoned; call only when the owning application is done tracing.
func (s *Subscriber) Close() {
	s.reg.stop()
}
