package ddapm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpanType(t *testing.T) {
	cases := []struct {
		in   string
		want SpanType
	}{
		{"web", SpanTypeWeb},
		{"db", SpanTypeDB},
		{"cache", SpanTypeCache},
		{"custom", SpanTypeCustom},
		{"Web", SpanTypeWeb},
		{"  DB  ", SpanTypeDB},
		{"fake type", SpanTypeCustom},
		{"", SpanTypeCustom},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseSpanType(tc.in), "input %q", tc.in)
	}
}

func TestSpanRecordCloneIsolatesMaps(t *testing.T) {
	rec := SpanRecord{
		TraceID: 1,
		SpanID:  2,
		Meta:    map[string]string{"k": "v"},
		Metrics: map[string]float64{"n": 1},
	}

	cp := rec.clone()
	cp.Meta["k"] = "changed"
	cp.Metrics["n"] = 2

	assert.Equal(t, "v", rec.Meta["k"])
	assert.Equal(t, float64(1), rec.Metrics["n"])
}

func TestSpanRecordSetMetaAllocatesLazily(t *testing.T) {
	var rec SpanRecord
	require.Nil(t, rec.Meta)

	rec.setMeta(MetaHTTPMethod, "GET")
	rec.setMetric("rows", 3)

	assert.Equal(t, "GET", rec.Meta[MetaHTTPMethod])
	assert.Equal(t, float64(3), rec.Metrics["rows"])
}
