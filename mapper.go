package ddapm

import "strings"

type nameMapping struct {
	service  string
	spanType SpanType
}

// NameMappings is the span name to (service, type) resolution table.
// Registration is last-write-wins; the table is copied at subscriber
// construction and read-only afterwards, so it is freely shared.
type NameMappings struct {
	m map[string]nameMapping
}

// NewNameMappings creates an empty mapping table.
func NewNameMappings() *NameMappings {
	return &NameMappings{m: make(map[string]nameMapping)}
}

// Map registers a span name. Duplicate registration replaces the earlier
// entry. Returns the receiver for chaining.
func (n *NameMappings) Map(name Key, service string, spanType SpanType) *NameMappings {
	n.m[name] = nameMapping{service: service, spanType: spanType}
	return n
}

// mapper is the pure enrichment step: resolve service and type from the
// frozen mapping table and classify error status from recorded metadata.
// Stateless aside from the injected table; safe to share without
// synchronization.
type mapper struct {
	m map[string]nameMapping
}

func newMapper(mappings *NameMappings) mapper {
	m := make(map[string]nameMapping)
	if mappings != nil {
		for k, v := range mappings.m {
			m[k] = v
		}
	}
	return mapper{m: m}
}

// enrich resolves service and type for the span's name and re-derives the
// error flag from error.* metadata. Spans without a mapping keep empty
// service and type; they are still transmitted.
func (mp mapper) enrich(rec *SpanRecord) {
	if mapping, ok := mp.m[rec.Name]; ok {
		rec.Service = mapping.service
		rec.Type = mapping.spanType
	}
	if !rec.Error {
		for k := range rec.Meta {
			if strings.HasPrefix(k, "error.") {
				rec.Error = true
				break
			}
		}
	}
}
