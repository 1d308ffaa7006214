package ddapm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleBatch() [][]SpanRecord {
	root := SpanRecord{
		TraceID:  100,
		SpanID:   1,
		Name:     "http.request",
		Service:  "svc",
		Type:     SpanTypeWeb,
		Resource: "GET /users/:id",
		Start:    time.Unix(0, 1500000000000000000),
		Duration: 250 * time.Millisecond,
		Meta:     map[string]string{MetaHTTPMethod: "GET"},
		Metrics:  map[string]float64{"rows": 3},
	}
	child := SpanRecord{
		TraceID:  100,
		SpanID:   2,
		ParentID: 1,
		Name:     "database.query",
		Service:  "svc",
		Type:     SpanTypeDB,
		Resource: "SELECT 1",
		Start:    time.Unix(0, 1500000000000100000),
		Duration: 50 * time.Millisecond,
		Error:    true,
	}
	return [][]SpanRecord{{root, child}}
}

func TestJSONCodecPayloadShape(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "/v0.3/traces", c.path())
	assert.Equal(t, "application/json", c.contentType())

	payload, err := c.encode(sampleBatch())
	require.NoError(t, err)

	var decoded []([]map[string]any)
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 1)
	require.Len(t, decoded[0], 2)

	root, child := decoded[0][0], decoded[0][1]
	assert.Equal(t, float64(100), root["trace_id"])
	assert.Equal(t, float64(1), root["span_id"])
	assert.NotContains(t, root, "parent_id", "root's zero parent is omitted")
	assert.Equal(t, "http.request", root["name"])
	assert.Equal(t, "GET /users/:id", root["resource"])
	assert.Equal(t, "svc", root["service"])
	assert.Equal(t, "web", root["type"])
	assert.Equal(t, float64(1500000000000000000), root["start"])
	assert.Equal(t, float64(250*time.Millisecond), root["duration"])
	assert.Equal(t, float64(0), root["error"])
	assert.Equal(t, "GET", root["meta"].(map[string]any)[MetaHTTPMethod])
	assert.Equal(t, float64(3), root["metrics"].(map[string]any)["rows"])

	assert.Equal(t, float64(1), child["parent_id"])
	assert.Equal(t, float64(1), child["error"])
	assert.Equal(t, "db", child["type"])
	assert.NotContains(t, child, "meta", "empty maps are omitted")
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	c := msgpackCodec{}
	assert.Equal(t, "/v0.4/traces", c.path())
	assert.Equal(t, "application/msgpack", c.contentType())

	batch := sampleBatch()
	payload, err := c.encode(batch)
	require.NoError(t, err)

	var decoded [][]wireSpan
	require.NoError(t, msgpack.Unmarshal(payload, &decoded))
	assert.Equal(t, toWireBatch(batch), decoded)
}

func TestToWireErrorFlag(t *testing.T) {
	assert.Equal(t, int32(0), toWire(SpanRecord{}).Error)
	assert.Equal(t, int32(1), toWire(SpanRecord{Error: true}).Error)
}

func TestCodecFor(t *testing.T) {
	assert.IsType(t, jsonCodec{}, codecFor(EncodingJSON))
	assert.IsType(t, msgpackCodec{}, codecFor(EncodingMsgpack))
	assert.IsType(t, msgpackCodec{}, codecFor(Encoding("")), "msgpack is the default")
}
