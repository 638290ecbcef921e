// Package nats provides the NATS connectors and the control bridge.
//
// SubjectSource subscribes to a core subject, optionally in a queue group.
// StreamSource reads a JetStream stream through an ordered consumer; its
// event ids are stream sequences, acknowledged positions are kept in a KV
// checkpoint bucket and Seek restarts delivery at any sequence.
// PublishSink publishes each write as a message, through JetStream when
// storage acknowledgement is wanted.
//
// ControlBridge listens on a subject for JSON commands such as
//
//	{"action":"seek","position":42}
//
// and republishes them to a source.Broadcaster. SendControl is the client
// side used by the CLI.
package nats
