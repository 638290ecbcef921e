package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// DefaultControlSubject is where the CLI sends control commands.
const DefaultControlSubject = "wpipe.control"

// Control actions carried by a Command.
const (
	ActionStop    = "stop"
	ActionIsolate = "isolate"
	ActionResume  = "resume"
	ActionSeek    = "seek"
)

// Command is the wire form of a control event.
type Command struct {
	Action   string `json:"action"`
	Position *int64 `json:"position,omitempty"`
}

// Reply answers a Command sent as a request.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Event converts the command to a control event. Seek positions are
// offsets.
func (c Command) Event() (source.ControlEvent, error) {
	switch c.Action {
	case ActionStop:
		return source.Stop{}, nil
	case ActionIsolate:
		return source.Isolate{Paused: true}, nil
	case ActionResume:
		return source.Isolate{Paused: false}, nil
	case ActionSeek:
		if c.Position == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: seek without position", errors.ErrInvalidData), "Command", "Event", "decode seek")
		}
		return source.Seek{Position: source.Offset(*c.Position)}, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown action %q", errors.ErrInvalidData, c.Action), "Command", "Event", "decode action")
	}
}

// CommandFor converts a control event to its wire form. Seek events must
// carry an Offset.
func CommandFor(ev source.ControlEvent) (Command, error) {
	switch ev := ev.(type) {
	case source.Stop:
		return Command{Action: ActionStop}, nil
	case source.Isolate:
		if ev.Paused {
			return Command{Action: ActionIsolate}, nil
		}
		return Command{Action: ActionResume}, nil
	case source.Seek:
		off, ok := ev.Position.(source.Offset)
		if !ok {
			return Command{}, errors.WrapInvalid(
				fmt.Errorf("%w: position %T", errors.ErrUnsupported, ev.Position), "Command", "For", "encode seek")
		}
		pos := int64(off)
		return Command{Action: ActionSeek, Position: &pos}, nil
	default:
		return Command{}, errors.WrapInvalid(
			fmt.Errorf("%w: control event %T", errors.ErrUnsupported, ev), "Command", "For", "encode event")
	}
}

// ControlBridge republishes commands received on a NATS subject to a
// Broadcaster, so running sources can be stopped, isolated or seeked from
// outside the process.
type ControlBridge struct {
	client      *natsclient.Client
	subject     string
	broadcaster *source.Broadcaster
	logger      *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewControlBridge creates a bridge. An empty subject selects
// DefaultControlSubject.
func NewControlBridge(client *natsclient.Client, subject string, b *source.Broadcaster, logger *slog.Logger) *ControlBridge {
	if subject == "" {
		subject = DefaultControlSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlBridge{
		client:      client,
		subject:     subject,
		broadcaster: b,
		logger:      logger.With("component", "control-bridge"),
	}
}

// Subject returns the subscribed subject.
func (cb *ControlBridge) Subject() string { return cb.subject }

// Start subscribes to the control subject.
func (cb *ControlBridge) Start(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.sub != nil {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "ControlBridge", "Start", "check state")
	}
	sub, err := cb.client.Subscribe(ctx, cb.subject, "", cb.handle)
	if err != nil {
		return err
	}
	cb.sub = sub
	cb.logger.Info("control bridge listening", "subject", cb.subject)
	return nil
}

// Stop unsubscribes. Safe to call more than once.
func (cb *ControlBridge) Stop() error {
	cb.mu.Lock()
	sub := cb.sub
	cb.sub = nil
	cb.mu.Unlock()

	if sub == nil || !sub.IsValid() {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return errors.WrapTransient(err, "ControlBridge", "Stop", "unsubscribe "+cb.subject)
	}
	return nil
}

func (cb *ControlBridge) handle(ctx context.Context, msg *nats.Msg) {
	err := cb.dispatch(ctx, msg.Data)
	if err != nil {
		cb.logger.Warn("control command rejected", "error", err)
	}
	if msg.Reply == "" {
		return
	}

	reply := Reply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		cb.logger.Warn("control reply failed", "error", err)
	}
}

func (cb *ControlBridge) dispatch(ctx context.Context, data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errors.WrapInvalid(err, "ControlBridge", "dispatch", "decode command")
	}
	ev, err := cmd.Event()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cb.broadcaster.Publish(ctx, ev); err != nil {
		return err
	}
	cb.logger.Info("control event published", "event", ev.String(), "subscribers", cb.broadcaster.Len())
	return nil
}

// SendControl sends ev to the bridge listening on subject and waits for
// its reply.
func SendControl(ctx context.Context, client *natsclient.Client, subject string, ev source.ControlEvent) error {
	if subject == "" {
		subject = DefaultControlSubject
	}
	cmd, err := CommandFor(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.WrapInvalid(err, "ControlBridge", "SendControl", "encode command")
	}

	msg, err := client.Request(ctx, subject, data)
	if err != nil {
		return err
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return errors.WrapInvalid(err, "ControlBridge", "SendControl", "decode reply")
	}
	if !reply.OK {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidData, reply.Error),
			"ControlBridge", "SendControl", "apply "+cmd.Action)
	}
	return nil
}
