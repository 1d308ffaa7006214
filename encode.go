package ddapm

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// wireSpan matches the agent's documented span schema field for field.
type wireSpan struct {
	TraceID  uint64             `json:"trace_id" msgpack:"trace_id"`
	SpanID   uint64             `json:"span_id" msgpack:"span_id"`
	ParentID uint64             `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	Name     string             `json:"name" msgpack:"name"`
	Resource string             `json:"resource" msgpack:"resource"`
	Service  string             `json:"service" msgpack:"service"`
	Type     string             `json:"type" msgpack:"type"`
	Start    int64              `json:"start" msgpack:"start"`
	Duration int64              `json:"duration" msgpack:"duration"`
	Error    int32              `json:"error" msgpack:"error"`
	Meta     map[string]string  `json:"meta,omitempty" msgpack:"meta,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty" msgpack:"metrics,omitempty"`
}

func toWire(rec SpanRecord) wireSpan {
	var errFlag int32
	if rec.Error {
		errFlag = 1
	}
	return wireSpan{
		TraceID:  uint64(rec.TraceID),
		SpanID:   uint64(rec.SpanID),
		ParentID: uint64(rec.ParentID),
		Name:     rec.Name,
		Resource: rec.Resource,
		Service:  rec.Service,
		Type:     string(rec.Type),
		Start:    rec.Start.UnixNano(),
		Duration: rec.Duration.Nanoseconds(),
		Error:    errFlag,
		Meta:     rec.Meta,
		Metrics:  rec.Metrics,
	}
}

// toWireBatch preserves both orders: traces in the batch, spans in each
// trace (parents before children, as assembled).
func toWireBatch(batch [][]SpanRecord) [][]wireSpan {
	out := make([][]wireSpan, len(batch))
	for i, trace := range batch {
		spans := make([]wireSpan, len(trace))
		for j, rec := range trace {
			spans[j] = toWire(rec)
		}
		out[i] = spans
	}
	return out
}

// codec turns a batch of traces into one agent payload.
type codec interface {
	encode(batch [][]SpanRecord) ([]byte, error)
	contentType() string
	path() string
}

func codecFor(enc Encoding) codec {
	if enc == EncodingJSON {
		return jsonCodec{}
	}
	return msgpackCodec{}
}

type jsonCodec struct{}

func (jsonCodec) encode(batch [][]SpanRecord) ([]byte, error) {
	return json.Marshal(toWireBatch(batch))
}

func (jsonCodec) contentType() string { return "application/json" }
func (jsonCodec) path() string        { return "/v0.3/traces" }

type msgpackCodec struct{}

func (msgpackCodec) encode(batch [][]SpanRecord) ([]byte, error) {
	return msgpack.Marshal(toWireBatch(batch))
}

func (msgpackCodec) contentType() string { return "application/msgpack" }
func (msgpackCodec) path() string        { return "/v0.4/traces" }
