package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wp-labs/wp-open-api/errors"
)

// State is the lifecycle position of a source.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateRunning
	StateIsolated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateIsolated:
		return "isolated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SeekFunc applies a Seek control event.
type SeekFunc func(ctx context.Context, pos Position) error

// Base carries the lifecycle and control handling shared by all sources.
// Embed *Base, call Gate at the top of Receive and select on Done wherever
// Receive blocks. Capabilities default to none: Ack and Seek return the
// unsupported error until the embedding type overrides them.
type Base struct {
	id     string
	logger *slog.Logger
	seq    atomic.Uint64

	mu       sync.Mutex
	state    State
	stopped  bool
	resume   chan struct{}
	sub      *Subscription
	onSeek   SeekFunc
	closers  []func() error
	done     chan struct{}
	stopOnce sync.Once
	ctrlWG   sync.WaitGroup
}

// NewBase creates a Base in the Created state.
func NewBase(id string, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	resume := make(chan struct{})
	close(resume)
	return &Base{
		id:     id,
		logger: logger,
		resume: resume,
		done:   make(chan struct{}),
	}
}

func (b *Base) Identifier() string { return b.id }

func (b *Base) Caps() Caps { return Caps{} }

func (b *Base) Ack(context.Context, AckToken) error {
	return errors.SourceUnsupported("ack")
}

func (b *Base) Seek(context.Context, Position) error {
	return errors.SourceUnsupported("seek")
}

// Logger returns the component logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// NextID returns the next event id for this instance, starting at 1.
func (b *Base) NextID() uint64 { return b.seq.Add(1) }

// OnSeek routes Seek control events to fn. fn runs on the control goroutine
// and must synchronise with the data path itself.
func (b *Base) OnSeek(fn SeekFunc) {
	b.mu.Lock()
	b.onSeek = fn
	b.mu.Unlock()
}

// OnClose registers a release function. Close runs them once, last
// registered first.
func (b *Base) OnClose(fn func() error) {
	b.mu.Lock()
	b.closers = append(b.closers, fn)
	b.mu.Unlock()
}

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once the source is stopped or closed.
func (b *Base) Done() <-chan struct{} { return b.done }

// Stopped reports whether Stop was observed or Close was called.
func (b *Base) Stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Start moves Created → Started and begins observing ctrl.
func (b *Base) Start(_ context.Context, ctrl *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateCreated:
	case StateClosed:
		return errors.WrapFatal(errors.ErrClosed, "Source", "Start", "check state")
	default:
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Source", "Start", "check state")
	}

	b.state = StateStarted
	b.sub = ctrl
	if ctrl != nil {
		b.ctrlWG.Add(1)
		go b.watch(ctrl)
	}

	b.logger.Debug("source started", "component", b.id, "control", ctrl != nil)
	return nil
}

// Gate is called at the start of every Receive. It blocks while the source
// is isolated and returns the EOF error once the source is stopped.
func (b *Base) Gate(ctx context.Context) error {
	b.mu.Lock()
	switch {
	case b.stopped || b.state == StateClosed:
		b.mu.Unlock()
		return errors.EOF()
	case b.state == StateCreated:
		b.mu.Unlock()
		return errors.WrapFatal(errors.ErrNotStarted, "Source", "Receive", "check state")
	case b.state == StateStarted:
		b.state = StateRunning
	}
	resume := b.resume
	b.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-b.done:
		return errors.EOF()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the data path without releasing resources. A pending Receive
// that selects on Done returns. Close remains callable.
func (b *Base) Stop() { b.stop("requested") }

func (b *Base) stop(reason string) {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.done)
		b.logger.Info("source stopped", "component", b.id, "reason", reason)
	})
}

// Close stops the source, detaches from the control channel and runs the
// registered release functions. Later calls return nil.
func (b *Base) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosed
	sub := b.sub
	b.sub = nil
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	b.stop("close")
	if sub != nil {
		sub.Close()
	}

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	waitCh := make(chan struct{})
	go func() {
		b.ctrlWG.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		errs = append(errs, errors.WrapTransient(ctx.Err(), "Source", "Close", "wait for control loop"))
	}

	if err := stderrors.Join(errs...); err != nil {
		b.logger.Warn("source closed with errors", "component", b.id, "error", err)
		return err
	}
	b.logger.Debug("source closed", "component", b.id)
	return nil
}

func (b *Base) watch(sub *Subscription) {
	defer b.ctrlWG.Done()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				b.logger.Debug("control channel closed", "component", b.id)
				return
			}
			b.handle(ev)
		case <-b.done:
			return
		}
	}
}

func (b *Base) handle(ev ControlEvent) {
	b.logger.Debug("control event", "component", b.id, "event", ev.String())

	switch ev := ev.(type) {
	case Stop:
		b.stop("control")
	case Isolate:
		b.isolate(ev.Paused)
	case Seek:
		b.mu.Lock()
		fn := b.onSeek
		b.mu.Unlock()
		if fn == nil {
			b.logger.Warn("seek ignored, source cannot seek", "component", b.id, "position", ev.String())
			return
		}
		if err := fn(context.Background(), ev.Position); err != nil {
			b.logger.Warn("seek failed", "component", b.id, "position", ev.String(), "error", err)
		}
	default:
		b.logger.Warn("unknown control event", "component", b.id, "event", fmt.Sprintf("%T", ev))
	}
}

func (b *Base) isolate(paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || b.state == StateClosed {
		return
	}
	if paused {
		if b.state == StateIsolated {
			return
		}
		b.resume = make(chan struct{})
		b.state = StateIsolated
		b.logger.Info("source isolated", "component", b.id)
		return
	}
	if b.state != StateIsolated {
		return
	}
	close(b.resume)
	b.state = StateRunning
	b.logger.Info("source resumed", "component", b.id)
}
