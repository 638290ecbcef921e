// Package memory provides in-process connectors.
//
// Source queues payloads pushed by the caller and supports non-blocking
// TryReceive. Sink records every write in order. Both serve tests, dry runs
// of a pipeline and the conformance suites.
package memory
