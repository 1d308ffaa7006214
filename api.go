// Package ddapm bridges in-process span instrumentation to a local
// Datadog agent.
//
// ddapm focuses on span collection and dispatch without the complexity of
// full OpenTelemetry. Call sites open spans against a Subscriber, record
// fields on them, and close them; the library reconstructs the call tree,
// resolves service and type from a configured name mapping, and ships
// completed traces to the agent in batches.
//
// Core Components:
//   - Subscriber: the boundary instrumentation call sites talk to.
//   - Scope: a logical execution context carrying the "current span" stack.
//   - NameMappings: span name to (service, type) resolution table.
//   - Client: buffers finished traces and transmits them to the agent.
//
// Basic Usage:
//
//	client, err := ddapm.NewDefaultClient()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	mappings := ddapm.NewNameMappings().
//		Map("http.request", "my-service", ddapm.SpanTypeWeb)
//	sub := ddapm.NewSubscriber(client, ddapm.SubscriberConfig{Mappings: mappings})
//
//	scope := ddapm.NewScope()
//	id := sub.OpenSpan(scope, "http.request")
//	sub.Enter(scope, id)
//	sub.Record(id, "resource", "GET /users/:id")
//	sub.Exit(scope, id)
//	sub.CloseSpan(id)
//
// Thread Safety:
//
// Subscriber and Client are safe for concurrent use by multiple goroutines.
// A Scope represents one logical execution context; a span may be entered
// and exited on different goroutines as long as the same Scope is handed
// along.
//
// Failure Model:
//
// Nothing in the pipeline propagates errors into the instrumented
// application. Misuse (unknown ids, double closes, unclosed children) is
// repaired best-effort and counted; a full queue drops the newest trace;
// a failed transmission drops the batch. Use Client.Stats and
// Subscriber.Anomalies to monitor.
package ddapm

// Key represents a span operation name.
type Key = string
