// Package natsclient manages the NATS connection shared by the NATS
// connectors and the control bridge.
//
// A Client wraps nats.go with a circuit breaker: after a threshold of
// consecutive failures (default 5) the circuit opens and operations fail fast
// with ErrCircuitOpen until the backoff elapses. The backoff doubles each
// round up to the configured maximum. Connection state moves through
// Disconnected, Connecting, Connected and Reconnecting, and every change is
// reported to the optional metric.Metrics gauges.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	    natsclient.WithConnectRetry(retry.DefaultConfig()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	_, err = client.Subscribe(ctx, "logs.>", "", func(ctx context.Context, msg *nats.Msg) {
//	    // ...
//	})
//
// # JetStream
//
// EnsureStream, PublishToStream and OrderedConsumer cover what the JetStream
// source needs: ordered delivery from an explicit start sequence. Positions
// acknowledged by that source are kept in a Checkpoints store, a KV bucket
// whose values only move forward unless Reset.
//
// # Errors
//
// Connection problems are transient (errors.IsTransient) and match
// errors.ErrNoConnection or errors.ErrCircuitOpen. Missing streams are
// invalid. Close is idempotent; Connect after Close is fatal.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers and skips under
// -short. Integration tests in this module carry the "integration" build tag.
package natsclient
