package ddapm

import (
	"strings"
	"time"
)

// TraceID identifies a trace. Minted once per root span and inherited by
// every descendant.
type TraceID uint64

// SpanID identifies a single span within a trace.
type SpanID uint64

// SpanType classifies a span for the agent's service-mapping displays.
// The zero value is transmitted as an empty type; spans whose name has no
// configured mapping ship without a type but are still collected.
type SpanType string

const (
	SpanTypeWeb    SpanType = "web"
	SpanTypeDB     SpanType = "db"
	SpanTypeCache  SpanType = "cache"
	SpanTypeCustom SpanType = "custom"
)

// ParseSpanType converts a string into a SpanType. Parsing is lenient:
// case and surrounding whitespace are ignored, and anything unrecognized
// becomes SpanTypeCustom.
func ParseSpanType(s string) SpanType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "web":
		return SpanTypeWeb
	case "db":
		return SpanTypeDB
	case "cache":
		return SpanTypeCache
	default:
		return SpanTypeCustom
	}
}

// Conventional meta keys, as the agent expects them on the wire.
const (
	MetaService        = "service"
	MetaEnv            = "env"
	MetaVersion        = "version"
	MetaHTTPMethod     = "http.method"
	MetaHTTPURL        = "http.url"
	MetaHTTPStatusCode = "http.status_code"
	MetaErrorType      = "error.type"
	MetaErrorMsg       = "error.msg"
	MetaErrorStack     = "error.stack"
)

// Reserved field names understood by Record. Recording one of these does
// not land in Meta verbatim: identity fields adjust the span itself, the
// http_* and error_* fields map to their conventional meta keys, and any
// error_* field marks the span failed. Every other field name is stored
// as custom metadata.
const (
	FieldTraceID        = "trace_id"
	FieldParentID       = "parent_id"
	FieldResource       = "resource"
	FieldStart          = "start"
	FieldHTTPMethod     = "http_method"
	FieldHTTPURL        = "http_url"
	FieldHTTPStatusCode = "http_status_code"
	FieldErrorType      = "error_type"
	FieldErrorMsg       = "error_msg"
	FieldErrorStack     = "error_stack"
)

// SpanRecord is the unit of work tracked while open and the unit handed to
// the client once its trace completes. Records are value types; the
// subscriber retains no reference after handoff.
type SpanRecord struct {
	Meta     map[string]string
	Metrics  map[string]float64
	Start    time.Time
	End      time.Time
	Duration time.Duration
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID // zero for a root with no remote parent
	Name     string
	Service  string
	Resource string
	Type     SpanType
	Error    bool
}

// clone returns a deep copy so callers can hold records without sharing
// the maps with registry-owned state.
func (r SpanRecord) clone() SpanRecord {
	out := r
	if r.Meta != nil {
		out.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			out.Meta[k] = v
		}
	}
	if r.Metrics != nil {
		out.Metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}

func (r *SpanRecord) setMeta(key, value string) {
	if r.Meta == nil {
		r.Meta = make(map[string]string)
	}
	r.Meta[key] = value
}

func (r *SpanRecord) setMetric(key string, value float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]float64)
	}
	r.Metrics[key] = value
}
