// Package source defines the pull side of a connector.
//
// A Source hands out batches of events through Receive. Optional capabilities
// (acknowledgement, seek, internal parallelism) are declared through Caps and
// the matching methods fail with a classified "unsupported" error when the
// capability is absent. A non-blocking poll is available through the
// TryReceiver interface and the TryReceive helper.
//
// Out-of-band control travels on a Broadcaster that is independent of the
// data path. Every source subscribes in Start and must react to Stop while a
// Receive call is outstanding. Base implements that contract and is meant to
// be embedded by concrete sources:
//
//	type LineSource struct {
//		*source.Base
//		lines chan string
//	}
//
//	func (s *LineSource) Receive(ctx context.Context) (source.Batch, error) {
//		if err := s.Gate(ctx); err != nil {
//			return nil, err
//		}
//		select {
//		case line := <-s.lines:
//			return source.Batch{source.NewEvent(0, s.Identifier(), source.TextPayload(line))}, nil
//		case <-s.Done():
//			return nil, errors.EOF()
//		case <-ctx.Done():
//			return nil, ctx.Err()
//		}
//	}
//
// Lifecycle: Created → Started → Running ⇄ Isolated → Closed. Close is
// idempotent and always reachable, including after a Stop.
package source
