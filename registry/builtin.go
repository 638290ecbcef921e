package registry

import (
	"errors"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/connectors/amqp"
	"github.com/wp-labs/wp-open-api/connectors/file"
	"github.com/wp-labs/wp-open-api/connectors/httppost"
	"github.com/wp-labs/wp-open-api/connectors/kafka"
	"github.com/wp-labs/wp-open-api/connectors/memory"
	"github.com/wp-labs/wp-open-api/connectors/nats"
	"github.com/wp-labs/wp-open-api/connectors/sqlite"
	"github.com/wp-labs/wp-open-api/connectors/udp"
	"github.com/wp-labs/wp-open-api/connectors/websocket"
	pkgerrors "github.com/wp-labs/wp-open-api/errors"
)

// RegisterBuiltins registers every connector shipped with the module:
//
// Sources: memory, file, nats, kafka, amqp, udp.
// Sinks: memory, file, nats, nats-object, kafka, amqp, sqlite, http, websocket.
// Adapters: file.
//
// Factories receive deps at build time; connectors that need the NATS
// client or the metrics registry fail their own build when it is missing.
func RegisterBuiltins(r *Registry, deps connector.Dependencies) error {
	if r == nil {
		return pkgerrors.WrapFatal(errors.New("registry cannot be nil"), "Registry", "RegisterBuiltins", "registry validation")
	}

	sources := []source.Factory{
		memory.NewSourceFactory(deps),
		file.NewSourceFactory(deps),
		nats.NewSourceFactory(deps),
		kafka.NewSourceFactory(deps),
		amqp.NewSourceFactory(deps),
		udp.NewSourceFactory(deps),
	}
	for _, f := range sources {
		if err := r.RegisterSource(f); err != nil {
			return pkgerrors.WrapInvalid(err, "Registry", "RegisterBuiltins", f.Kind()+" source registration")
		}
	}

	sinks := []sink.Factory{
		memory.NewSinkFactory(deps),
		file.NewSinkFactory(deps),
		nats.NewSinkFactory(deps),
		nats.NewObjectSinkFactory(deps),
		kafka.NewSinkFactory(deps),
		amqp.NewSinkFactory(deps),
		sqlite.NewSinkFactory(deps),
		httppost.NewSinkFactory(deps),
		websocket.NewSinkFactory(deps),
	}
	for _, f := range sinks {
		if err := r.RegisterSink(f); err != nil {
			return pkgerrors.WrapInvalid(err, "Registry", "RegisterBuiltins", f.Kind()+" sink registration")
		}
	}

	if err := r.RegisterAdapter(file.Adapter{}); err != nil {
		return pkgerrors.WrapInvalid(err, "Registry", "RegisterBuiltins", "file adapter registration")
	}
	return nil
}
