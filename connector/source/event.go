package source

import (
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/wp-labs/wp-open-api/model"
)

// PayloadKind tells how a payload holds its bytes.
type PayloadKind uint8

const (
	// PayloadText is an owned string.
	PayloadText PayloadKind = iota
	// PayloadBytes is an owned byte slice.
	PayloadBytes
	// PayloadShared is a reference to reference-counted bytes that may have
	// other holders.
	PayloadShared
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "String"
	case PayloadBytes:
		return "Bytes"
	case PayloadShared:
		return "ArcBytes"
	default:
		return fmt.Sprintf("PayloadKind(%d)", uint8(k))
	}
}

// SharedBytes is an immutable byte buffer with an explicit holder count.
// The last holder may take the buffer back without copying.
type SharedBytes struct {
	data []byte
	refs atomic.Int32
}

// NewSharedBytes takes ownership of data with one holder.
func NewSharedBytes(data []byte) *SharedBytes {
	sb := &SharedBytes{data: data}
	sb.refs.Store(1)
	return sb
}

// Retain registers another holder and returns the receiver.
func (sb *SharedBytes) Retain() *SharedBytes {
	sb.refs.Add(1)
	return sb
}

// Release drops one holder.
func (sb *SharedBytes) Release() {
	if sb.refs.Add(-1) < 0 {
		sb.refs.Store(0)
	}
}

// Refs reports the current holder count.
func (sb *SharedBytes) Refs() int { return int(sb.refs.Load()) }

// Len returns the buffer length.
func (sb *SharedBytes) Len() int { return len(sb.data) }

// Bytes returns the buffer. Callers must not modify it.
func (sb *SharedBytes) Bytes() []byte { return sb.data }

// TryUnwrap hands the buffer to the caller when it is the only holder. On
// success the SharedBytes is left empty.
func (sb *SharedBytes) TryUnwrap() ([]byte, bool) {
	if !sb.refs.CompareAndSwap(1, 0) {
		return nil, false
	}
	data := sb.data
	sb.data = nil
	return data, true
}

// Payload is the raw content of an event.
type Payload struct {
	kind   PayloadKind
	text   string
	bytes  []byte
	shared *SharedBytes
}

// TextPayload wraps a string.
func TextPayload(s string) Payload { return Payload{kind: PayloadText, text: s} }

// BytesPayload takes ownership of b.
func BytesPayload(b []byte) Payload { return Payload{kind: PayloadBytes, bytes: b} }

// SharedPayload references sb. The payload counts as one holder; the caller
// should Retain first if it keeps its own reference.
func SharedPayload(sb *SharedBytes) Payload { return Payload{kind: PayloadShared, shared: sb} }

func (p Payload) Kind() PayloadKind { return p.kind }

func (p Payload) Len() int {
	switch p.kind {
	case PayloadText:
		return len(p.text)
	case PayloadBytes:
		return len(p.bytes)
	default:
		if p.shared == nil {
			return 0
		}
		return p.shared.Len()
	}
}

func (p Payload) IsEmpty() bool { return p.Len() == 0 }

// Bytes returns a read-only view of the payload. Text payloads are copied.
func (p Payload) Bytes() []byte {
	switch p.kind {
	case PayloadText:
		return []byte(p.text)
	case PayloadBytes:
		return p.bytes
	default:
		if p.shared == nil {
			return nil
		}
		return p.shared.Bytes()
	}
}

// Text returns the payload as a string.
func (p Payload) Text() string {
	if p.kind == PayloadText {
		return p.text
	}
	return string(p.Bytes())
}

// Take returns the payload bytes for the caller to own. Owned bytes and
// sole-holder shared buffers are handed over without copying; otherwise a
// copy is made and this payload's share is released.
func (p Payload) Take() []byte {
	switch p.kind {
	case PayloadText:
		return []byte(p.text)
	case PayloadBytes:
		return p.bytes
	default:
		if p.shared == nil {
			return nil
		}
		if data, ok := p.shared.TryUnwrap(); ok {
			return data
		}
		data := append([]byte(nil), p.shared.Bytes()...)
		p.shared.Release()
		return data
	}
}

func (p Payload) String() string {
	if p.kind == PayloadShared {
		return fmt.Sprintf("%s(len=%d, zcp=true)", p.kind, p.Len())
	}
	return fmt.Sprintf("%s(len=%d)", p.kind, p.Len())
}

// PreHook runs on an event before it is parsed downstream.
type PreHook func(*Event)

// Event is one unit pulled from a source.
type Event struct {
	ID         uint64
	SourceKey  string
	Payload    Payload
	Tags       model.SharedTags
	UpstreamIP netip.Addr
	PreHook    PreHook
}

// NewEvent builds an event without tags.
func NewEvent(id uint64, key string, payload Payload) Event {
	return Event{ID: id, SourceKey: key, Payload: payload}
}

// WithTags returns a copy of e carrying tags.
func (e Event) WithTags(tags model.SharedTags) Event {
	e.Tags = tags
	return e
}

// Prepare runs the pre-hook once and clears it.
func (e *Event) Prepare() {
	if e.PreHook == nil {
		return
	}
	hook := e.PreHook
	e.PreHook = nil
	hook(e)
}

// String renders the event for debugging. Payload contents are not printed.
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event{id: %d, src: %q, payload: %s, tags: %d", e.ID, e.SourceKey, e.Payload, e.Tags.Len())
	if e.UpstreamIP.IsValid() {
		fmt.Fprintf(&b, ", ups_ip: %s", e.UpstreamIP)
	}
	if e.PreHook != nil {
		b.WriteString(", prehook")
	}
	b.WriteString("}")
	return b.String()
}

// Batch is a group of events returned by one Receive. An empty batch means
// "nothing right now".
type Batch []Event
