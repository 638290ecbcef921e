package errors

import (
	"errors"
	"fmt"
)

// Error codes reported to external monitoring. The numbering is stable:
// informational outcomes use the 100 range, connectivity and availability
// problems the 500 range, everything else the generic code.
const (
	CodeNotData     = 100
	CodeEOF         = 101
	CodeDisconnect  = 500
	CodeSupplier    = 501
	CodeNetwork     = 503
	CodeTimeout     = 504
	CodeResource    = 505
	CodeSink        = 510
	CodeStorageCtrl = 511
	CodeGeneric     = 255
)

// UvsReason is the lower-level reason shared by both directions and by code
// outside the connector runtime.
type UvsReason int

const (
	UvsValidation UvsReason = iota
	UvsBusiness
	UvsNotFound
	UvsPermission
	UvsData
	UvsConfig
	UvsSystem
	UvsNetwork
	UvsTimeout
	UvsResource
	UvsExternal
	UvsLogic
)

func (r UvsReason) String() string {
	switch r {
	case UvsValidation:
		return "validation error"
	case UvsBusiness:
		return "business error"
	case UvsNotFound:
		return "not found"
	case UvsPermission:
		return "permission denied"
	case UvsData:
		return "data error"
	case UvsConfig:
		return "configuration error"
	case UvsSystem:
		return "system error"
	case UvsNetwork:
		return "network error"
	case UvsTimeout:
		return "timeout"
	case UvsResource:
		return "resource error"
	case UvsExternal:
		return "external error"
	case UvsLogic:
		return "logic error"
	default:
		return "unknown"
	}
}

// Code returns the monitoring code of r.
func (r UvsReason) Code() int {
	switch r {
	case UvsNetwork:
		return CodeNetwork
	case UvsTimeout:
		return CodeTimeout
	case UvsResource:
		return CodeResource
	default:
		return CodeGeneric
	}
}

// Class returns the handling class of r.
func (r UvsReason) Class() ErrorClass {
	switch r {
	case UvsNetwork, UvsTimeout, UvsResource:
		return ErrorTransient
	case UvsValidation, UvsConfig, UvsData:
		return ErrorInvalid
	default:
		return ErrorFatal
	}
}

// SourceReason names why a source operation did not produce data.
type SourceReason int

const (
	// ReasonNotData means nothing is available right now. Not a failure.
	ReasonNotData SourceReason = iota
	// ReasonEOF means the stream has ended. Not a failure.
	ReasonEOF
	// ReasonDisconnect means the upstream connection dropped; retryable.
	ReasonDisconnect
	// ReasonSupplier reports an error raised by the upstream supplier.
	ReasonSupplier
	// ReasonSourceOther is the unclassified catch-all.
	ReasonSourceOther
	// ReasonSourceUvs delegates to a UvsReason.
	ReasonSourceUvs
)

func (r SourceReason) String() string {
	switch r {
	case ReasonNotData:
		return "not data"
	case ReasonEOF:
		return "eof"
	case ReasonDisconnect:
		return "disconnect"
	case ReasonSupplier:
		return "supplier error"
	case ReasonSourceOther:
		return "other"
	case ReasonSourceUvs:
		return "uvs"
	default:
		return "unknown"
	}
}

// SourceError is the classified error returned by source operations.
type SourceError struct {
	Reason SourceReason
	Uvs    UvsReason
	Detail string
	Err    error
}

func (e *SourceError) Error() string {
	msg := "source " + e.Reason.String()
	if e.Reason == ReasonSourceUvs {
		msg = "source " + e.Uvs.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

// Class returns the handling class. An undeclared capability is always
// invalid regardless of the reason it was reported under.
func (e *SourceError) Class() ErrorClass {
	if errors.Is(e.Err, ErrUnsupported) {
		return ErrorInvalid
	}
	switch e.Reason {
	case ReasonNotData, ReasonEOF:
		return ErrorInfo
	case ReasonDisconnect:
		return ErrorTransient
	case ReasonSourceUvs:
		return e.Uvs.Class()
	default:
		return ErrorFatal
	}
}

// Code returns the monitoring code.
func (e *SourceError) Code() int {
	switch e.Reason {
	case ReasonNotData:
		return CodeNotData
	case ReasonEOF:
		return CodeEOF
	case ReasonDisconnect:
		return CodeDisconnect
	case ReasonSupplier:
		return CodeSupplier
	case ReasonSourceUvs:
		return e.Uvs.Code()
	default:
		return CodeGeneric
	}
}

// NotData reports that no data is available right now.
func NotData() error { return &SourceError{Reason: ReasonNotData} }

// EOF reports the end of the stream.
func EOF() error { return &SourceError{Reason: ReasonEOF} }

// Disconnected reports a dropped upstream connection.
func Disconnected(detail string, err error) error {
	return &SourceError{Reason: ReasonDisconnect, Detail: detail, Err: err}
}

// SupplierError reports a failure raised by the upstream supplier.
func SupplierError(detail string, err error) error {
	return &SourceError{Reason: ReasonSupplier, Detail: detail, Err: err}
}

// SourceFailure reports an unclassified source failure.
func SourceFailure(detail string, err error) error {
	return &SourceError{Reason: ReasonSourceOther, Detail: detail, Err: err}
}

// SourceUvs reports a source failure with a lower-level reason.
func SourceUvs(reason UvsReason, detail string, err error) error {
	return &SourceError{Reason: ReasonSourceUvs, Uvs: reason, Detail: detail, Err: err}
}

// SourceUnsupported is returned when ack, seek or another optional source
// capability is invoked without being declared.
func SourceUnsupported(capability string) error {
	return &SourceError{Reason: ReasonSupplier, Err: Unsupported(capability)}
}

func sourceReason(err error) (SourceReason, bool) {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return 0, false
}

// IsNotData reports whether err means "no data yet".
func IsNotData(err error) bool {
	r, ok := sourceReason(err)
	return ok && r == ReasonNotData
}

// IsEOF reports whether err means the stream has ended.
func IsEOF(err error) bool {
	r, ok := sourceReason(err)
	return ok && r == ReasonEOF
}

// IsDisconnected reports whether err is a retryable disconnect.
func IsDisconnected(err error) bool {
	r, ok := sourceReason(err)
	return ok && r == ReasonDisconnect
}

// SinkReason names why a sink operation failed.
type SinkReason int

const (
	// ReasonSink is the generic sink-unavailable reason.
	ReasonSink SinkReason = iota
	// ReasonMock is reserved for test doubles.
	ReasonMock
	// ReasonStgCtrl reports a storage control failure.
	ReasonStgCtrl
	// ReasonSinkUvs delegates to a UvsReason.
	ReasonSinkUvs
)

func (r SinkReason) String() string {
	switch r {
	case ReasonSink:
		return "sink unavailable"
	case ReasonMock:
		return "mock"
	case ReasonStgCtrl:
		return "storage control"
	case ReasonSinkUvs:
		return "uvs"
	default:
		return "unknown"
	}
}

// SinkError is the classified error returned by sink operations.
type SinkError struct {
	Reason SinkReason
	Uvs    UvsReason
	Detail string
	Err    error
}

func (e *SinkError) Error() string {
	msg := e.Reason.String()
	if e.Reason == ReasonSinkUvs {
		msg = "sink " + e.Uvs.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SinkError) Unwrap() error { return e.Err }

// Class returns the handling class.
func (e *SinkError) Class() ErrorClass {
	switch e.Reason {
	case ReasonSink:
		return ErrorTransient
	case ReasonSinkUvs:
		return e.Uvs.Class()
	default:
		return ErrorFatal
	}
}

// Code returns the monitoring code.
func (e *SinkError) Code() int {
	switch e.Reason {
	case ReasonSink:
		return CodeSink
	case ReasonStgCtrl:
		return CodeStorageCtrl
	case ReasonSinkUvs:
		return e.Uvs.Code()
	default:
		return CodeGeneric
	}
}

// SinkUnavailable reports that the sink cannot accept writes.
func SinkUnavailable(detail string, err error) error {
	return &SinkError{Reason: ReasonSink, Detail: detail, Err: err}
}

// SinkMock builds the reserved test reason.
func SinkMock(detail string) error {
	return &SinkError{Reason: ReasonMock, Detail: detail}
}

// StgCtrl reports a storage control failure.
func StgCtrl(detail string, err error) error {
	return &SinkError{Reason: ReasonStgCtrl, Detail: detail, Err: err}
}

// SinkUvs reports a sink failure with a lower-level reason.
func SinkUvs(reason UvsReason, detail string, err error) error {
	return &SinkError{Reason: ReasonSinkUvs, Uvs: reason, Detail: detail, Err: err}
}

// SinkStopped reports a call made after the sink was stopped.
func SinkStopped(name string) error {
	return SinkUvs(UvsLogic, name+" stopped", ErrClosed)
}

// OweSink converts any error into a sink error. Errors already carrying a
// sink reason are returned unchanged.
func OweSink(err error, detail string) error {
	if err == nil {
		return nil
	}
	var se *SinkError
	if errors.As(err, &se) {
		return err
	}
	return SinkUnavailable(detail, err)
}

// Coder is implemented by errors with a monitoring code.
type Coder interface {
	Code() int
}

// Code returns the monitoring code of the first error in the chain that has
// one, or CodeGeneric.
func Code(err error) int {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeGeneric
}

// BuildStage separates configuration failures from startup failures when a
// factory builds a connector instance.
type BuildStage int

const (
	BuildConfig BuildStage = iota
	BuildStartup
)

func (s BuildStage) String() string {
	if s == BuildConfig {
		return "config"
	}
	return "startup"
}

// BuildError is returned by connector factories.
type BuildError struct {
	Kind  string
	Stage BuildStage
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %s failed: %v", e.Kind, e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is makes configuration failures match ErrInvalidConfig.
func (e *BuildError) Is(target error) bool {
	return e.Stage == BuildConfig && target == ErrInvalidConfig
}

// Class returns ErrorInvalid for configuration failures and ErrorTransient
// for startup failures.
func (e *BuildError) Class() ErrorClass {
	if e.Stage == BuildConfig {
		return ErrorInvalid
	}
	return ErrorTransient
}

// ConfigError wraps err as a configuration failure of a connector kind.
func ConfigError(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &BuildError{Kind: kind, Stage: BuildConfig, Err: err}
}

// StartupError wraps err as a transient startup failure of a connector kind.
func StartupError(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &BuildError{Kind: kind, Stage: BuildStartup, Err: err}
}

// IsConfigError reports whether err is a configuration build failure.
func IsConfigError(err error) bool {
	var be *BuildError
	return errors.As(err, &be) && be.Stage == BuildConfig
}

// IsStartupError reports whether err is a startup build failure.
func IsStartupError(err error) bool {
	var be *BuildError
	return errors.As(err, &be) && be.Stage == BuildStartup
}
