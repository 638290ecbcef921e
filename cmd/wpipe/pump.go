package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/health"
	"github.com/wp-labs/wp-open-api/metric"
)

// reconnectDelay bounds the pause after a disconnected Receive.
const reconnectDelay = time.Second

// sinkGroup spreads batches over its replicas round robin. Each replica
// fans out to every sink of the group.
type sinkGroup struct {
	name     string
	replicas []sink.Sink
	next     atomic.Uint64
	health   *health.Monitor
}

func (g *sinkGroup) healthName() string { return "sink/" + g.name }

func (g *sinkGroup) write(ctx context.Context, batch [][]byte) error {
	i := g.next.Add(1) - 1
	if err := g.replicas[i%uint64(len(g.replicas))].SinkBytesBatch(ctx, batch); err != nil {
		err = fmt.Errorf("sink group %s: %w", g.name, err)
		g.health.Failed(g.healthName(), err)
		return err
	}
	g.health.RecordEvents(g.healthName(), len(batch))
	return nil
}

// flush writes through whatever the replicas still buffer.
func (g *sinkGroup) flush(ctx context.Context) error {
	errs := make([]error, 0, len(g.replicas))
	for _, r := range g.replicas {
		errs = append(errs, sink.Flush(ctx, r))
	}
	if err := stderrors.Join(errs...); err != nil {
		err = fmt.Errorf("flush sink group %s: %w", g.name, err)
		g.health.Failed(g.healthName(), err)
		return err
	}
	return nil
}

func (g *sinkGroup) stop(ctx context.Context) error {
	errs := make([]error, 0, len(g.replicas))
	for _, r := range g.replicas {
		errs = append(errs, r.Stop(ctx))
	}
	return stderrors.Join(errs...)
}

// pump drives every source until it ends and delivers each batch to all
// sink groups. Batches from acknowledging sources are flushed through every
// group before the ack, so a stored position never covers buffered data.
type pump struct {
	sources   []source.Handle
	acceptors []source.AcceptorHandle
	groups    []*sinkGroup
	ctrl      *source.Broadcaster
	metrics   *metric.Metrics
	health    *health.Monitor
	logger    *slog.Logger

	delivered atomic.Int64
}

// run returns when every source has ended, ctx is cancelled or a source or
// sink fails permanently.
func (p *pump) run(ctx context.Context) error {
	for _, sg := range p.groups {
		sg.health = p.health
		p.health.Running(sg.healthName())
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range p.sources {
		g.Go(func() error { return p.drive(gctx, h) })
	}
	for _, a := range p.acceptors {
		sub := p.ctrl.Subscribe()
		g.Go(func() error {
			defer sub.Close()
			if err := a.Acceptor.Accept(gctx, sub); err != nil && gctx.Err() == nil {
				return fmt.Errorf("acceptor %s: %w", a.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *pump) drive(ctx context.Context, h source.Handle) error {
	src := h.Source
	logger := p.logger.With("source", h.Meta.Name, "kind", h.Meta.Kind)
	name := "source/" + h.Meta.Name

	sub := p.ctrl.Subscribe()
	defer sub.Close()
	if err := src.Start(ctx, sub); err != nil {
		err = fmt.Errorf("start source %s: %w", h.Meta.Name, err)
		p.health.Failed(name, err)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := src.Close(closeCtx); err != nil {
			logger.Warn("source close failed", "error", err)
		}
	}()

	acks := src.Caps().Ack
	logger.Info("source running", "caps", src.Caps().String(), "try_receive", source.SupportsTryReceive(src))
	p.health.Running(name)

	for {
		batch, err := p.receive(ctx, src)
		switch {
		case err == nil:
		case errors.IsEOF(err):
			logger.Info("source finished")
			p.health.Finished(name)
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.IsDisconnected(err) || errors.IsTransient(err):
			logger.Warn("source disconnected, retrying", "error", err)
			p.health.Degrade(name, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay):
			}
			continue
		default:
			err = fmt.Errorf("receive from %s: %w", h.Meta.Name, err)
			p.health.Failed(name, err)
			return err
		}
		if len(batch) == 0 {
			continue
		}

		payloads := make([][]byte, len(batch))
		for i := range batch {
			batch[i].Prepare()
			payloads[i] = batch[i].Payload.Bytes()
		}
		if err := p.deliver(ctx, payloads); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.delivered.Add(int64(len(batch)))
		p.health.RecordEvents(name, len(batch))
		if st, ok := p.health.Get(name); ok && !st.IsHealthy() {
			p.health.Running(name)
		}

		if !acks {
			continue
		}
		if err := p.flush(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		token := source.Offset(batch[len(batch)-1].ID)
		if err := src.Ack(ctx, token); err != nil {
			if errors.IsUnsupported(err) {
				logger.Debug("source does not acknowledge, acks disabled", "error", err)
				acks = false
				continue
			}
			logger.Warn("ack failed", "token", token.String(), "error", err)
		}
	}
}

func (p *pump) receive(ctx context.Context, src source.Source) (source.Batch, error) {
	if batch, ok := source.TryReceive(src); ok {
		return batch, nil
	}
	start := time.Now()
	batch, err := src.Receive(ctx)
	if p.metrics != nil {
		code := ""
		if err != nil && !errors.IsEOF(err) {
			code = strconv.Itoa(errors.Code(err))
		}
		p.metrics.RecordReceive(src.Identifier(), len(batch), time.Since(start), code)
	}
	return batch, err
}

func (p *pump) deliver(ctx context.Context, payloads [][]byte) error {
	errs := make([]error, 0, len(p.groups))
	for _, g := range p.groups {
		errs = append(errs, g.write(ctx, payloads))
	}
	return stderrors.Join(errs...)
}

func (p *pump) flush(ctx context.Context) error {
	errs := make([]error, 0, len(p.groups))
	for _, g := range p.groups {
		errs = append(errs, g.flush(ctx))
	}
	return stderrors.Join(errs...)
}

// stop stops every sink group.
func (p *pump) stop(ctx context.Context) error {
	errs := make([]error, 0, len(p.groups))
	for _, g := range p.groups {
		errs = append(errs, g.stop(ctx))
	}
	p.ctrl.Close()
	return stderrors.Join(errs...)
}
