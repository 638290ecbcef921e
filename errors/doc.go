// Package errors provides the classified error layer used across the record
// model and the connector runtime.
//
// # Error Classes
//
// Every error handled by the runtime falls into one of four classes:
//
//   - Transient: connection drops, timeouts, an unavailable sink. Retry may help.
//   - Invalid: malformed input, unsupported data types, bad configuration.
//   - Fatal: reported to the caller and never retried automatically.
//   - Info: normal outcomes such as "no data yet" and "end of stream".
//
// IsTransient, IsInvalid, IsFatal, IsInfo and Classify inspect an error chain.
// Errors that implement Classifier (SourceError, SinkError, BuildError) carry
// their own class; ClassifiedError values produced by the Wrap helpers carry
// an explicit one; anything else falls back to sentinel and message matching.
//
// # Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
//	errors.WrapTransient(err, "FileSink", "flush", "write batch")
//	errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
//
// # Source and Sink Reasons
//
// Source operations fail with a *SourceError carrying a SourceReason:
// not data, eof, disconnect, supplier error, the unclassified catch-all, or a
// delegated UvsReason. Sink operations fail with a *SinkError carrying a
// SinkReason: sink unavailable, mock, storage control, or a delegated UvsReason.
//
// Code maps any error to its monitoring code. The numbering is a stability
// contract: 100 for no data, 101 for end of stream, the 500 range for
// connectivity and availability, and 255 for everything else.
//
//	if errors.IsNotData(err) {
//	    // poll again later, not a fault
//	}
//	metrics.errors.WithLabelValues(strconv.Itoa(errors.Code(err))).Inc()
//
// Invoking an optional capability that a connector did not declare returns an
// error matching ErrUnsupported, classified as invalid, never a silent success.
//
// # Build Errors
//
// Factories return ConfigError for configuration failures (matches
// ErrInvalidConfig, class invalid) and StartupError for transient failures
// while bringing up a connector (class transient).
package errors
