package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not data", NotData(), CodeNotData},
		{"eof", EOF(), CodeEOF},
		{"disconnect", Disconnected("", nil), CodeDisconnect},
		{"supplier", SupplierError("", nil), CodeSupplier},
		{"source other", SourceFailure("", nil), CodeGeneric},
		{"source uvs network", SourceUvs(UvsNetwork, "", nil), CodeNetwork},
		{"source uvs timeout", SourceUvs(UvsTimeout, "", nil), CodeTimeout},
		{"source uvs data", SourceUvs(UvsData, "", nil), CodeGeneric},
		{"sink unavailable", SinkUnavailable("", nil), CodeSink},
		{"mock", SinkMock("x"), CodeGeneric},
		{"storage control", StgCtrl("", nil), CodeStorageCtrl},
		{"sink uvs resource", SinkUvs(UvsResource, "", nil), CodeResource},
		{"plain error", errors.New("x"), CodeGeneric},
		{"wrapped", fmt.Errorf("outer: %w", EOF()), CodeEOF},
		{"classified wrap", WrapTransient(Disconnected("", nil), "A", "b", "c"), CodeDisconnect},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.code, Code(test.err))
		})
	}
}

func TestCodeRanges(t *testing.T) {
	for _, err := range []error{NotData(), EOF()} {
		assert.True(t, Code(err) >= 100 && Code(err) < 200, "info codes use the 100 range")
	}
	for _, err := range []error{Disconnected("", nil), SinkUnavailable("", nil), SourceUvs(UvsNetwork, "", nil)} {
		assert.True(t, Code(err) >= 500 && Code(err) < 600, "connectivity codes use the 500 range")
	}
}

func TestSourceErrorMessages(t *testing.T) {
	assert.Equal(t, "source not data", NotData().Error())
	assert.Equal(t, "source eof", EOF().Error())
	assert.Equal(t, "source disconnect: peer: reset", Disconnected("peer", errors.New("reset")).Error())
	assert.Equal(t, "source supplier error: ack unsupported", SourceUnsupported("ack").Error())
	assert.Equal(t, "source timeout: poll", SourceUvs(UvsTimeout, "poll", nil).Error())
}

func TestSourcePredicates(t *testing.T) {
	assert.True(t, IsNotData(NotData()))
	assert.False(t, IsNotData(EOF()))
	assert.True(t, IsEOF(fmt.Errorf("wrapped: %w", EOF())))
	assert.True(t, IsDisconnected(Disconnected("", nil)))
	assert.False(t, IsDisconnected(errors.New("disconnect")))
	assert.True(t, IsInfo(NotData()))
	assert.False(t, IsInfo(SupplierError("", nil)))
}

func TestSourceUnsupported(t *testing.T) {
	err := SourceUnsupported("seek")
	assert.True(t, IsUnsupported(err))
	assert.Equal(t, ErrorInvalid, Classify(err))
	assert.Equal(t, CodeSupplier, Code(err))
}

func TestSinkErrorMessages(t *testing.T) {
	assert.Equal(t, "sink unavailable", SinkUnavailable("", nil).Error())
	assert.Equal(t, "sink unavailable: write: disk", SinkUnavailable("write", errors.New("disk")).Error())
	assert.Equal(t, "mock: boom", SinkMock("boom").Error())
	assert.Equal(t, "sink network error", SinkUvs(UvsNetwork, "", nil).Error())
}

func TestOweSink(t *testing.T) {
	assert.Nil(t, OweSink(nil, "x"))

	plain := errors.New("socket closed")
	err := OweSink(plain, "publish")
	var se *SinkError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, ReasonSink, se.Reason)
	assert.ErrorIs(t, err, plain)

	already := StgCtrl("commit", nil)
	assert.Same(t, already, OweSink(already, "ignored"))
}

func TestSinkStopped(t *testing.T) {
	err := SinkStopped("file-out")
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, IsFatal(err), "writes after stop are not retried")
	assert.Contains(t, err.Error(), "file-out stopped")
}

func TestBuildErrors(t *testing.T) {
	cause := errors.New("path is required")

	cfg := ConfigError("file", cause)
	assert.True(t, IsConfigError(cfg))
	assert.False(t, IsStartupError(cfg))
	assert.ErrorIs(t, cfg, ErrInvalidConfig)
	assert.ErrorIs(t, cfg, cause)
	assert.True(t, IsInvalid(cfg))
	assert.Equal(t, "build file: config failed: path is required", cfg.Error())

	up := StartupError("nats", ErrConnectionLost)
	assert.True(t, IsStartupError(up))
	assert.False(t, IsConfigError(up))
	assert.NotErrorIs(t, up, ErrInvalidConfig)
	assert.True(t, IsTransient(up))

	assert.Nil(t, ConfigError("x", nil))
	assert.Nil(t, StartupError("x", nil))
}

func TestReasonStrings(t *testing.T) {
	for r := ReasonNotData; r <= ReasonSourceUvs; r++ {
		assert.NotEqual(t, "unknown", r.String())
	}
	for r := ReasonSink; r <= ReasonSinkUvs; r++ {
		assert.NotEqual(t, "unknown", r.String())
	}
	for r := UvsValidation; r <= UvsLogic; r++ {
		assert.NotEqual(t, "unknown", r.String())
	}
}
