// Package sink defines the push side of a connector.
//
// A Sink has three facets: control (Stop, Reconnect), structured records
// (SinkRecord, SinkRecords) and raw payloads (SinkString, SinkBytes and
// their batch forms). Implementations embed NopCtrl, NopRecords or NopRaw
// for the facets they do not use, so the runtime can drive every sink the
// same way.
//
// Batch writes keep caller order, including across retries and internal
// buffering. Stop is idempotent and no write is accepted after it returns.
//
// The decorators in this package compose around a concrete sink:
//
//	Guard          stop contract, rejects writes after Stop
//	Instrumented   Prometheus counters and latency
//	Batcher        ordered buffering with size and interval flushes
//	RateLimited    token bucket from BuildCtx.RateLimitRPS
//	Retrying       backoff on transient errors, Reconnect between attempts
//
// Wrap applies them in that order (Guard outermost). Fanout delivers one
// stream of shared records to several sinks at once.
package sink
