// Package config loads wpipe pipeline documents.
//
// A pipeline document names the sources to read, the sink groups to write
// to and the shared infrastructure (NATS, metrics). Documents are YAML
// (.yaml, .yml), TOML (.toml) or JSON (.json). Every document is checked
// against the embedded JSON schema before it is decoded.
//
// # Loading
//
// Loader merges layers in order, later files overriding earlier ones key by
// key, then applies WPIPE_* environment overrides:
//
//	loader := config.NewLoader()
//	loader.AddLayer("pipeline.yaml")
//	loader.AddLayer("pipeline.prod.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// # Endpoints
//
// A source or sink entry selects its connector in one of three ways:
//
//	kind: file                   params taken as written
//	connector: local-file        defaults from a connectors entry; params
//	                             may only override allow_override keys
//	url: file:///var/log/a.log   params from the kind's URL adapter
//
// SourceSpecs and ResolveSinkGroups resolve the entries into the specs handed to
// connector factories.
//
// # Environment
//
//	WPIPE_WORK_ROOT      work_root
//	WPIPE_NATS_URLS      nats.urls (comma separated)
//	WPIPE_NATS_USERNAME  nats.username
//	WPIPE_NATS_PASSWORD  nats.password
//	WPIPE_NATS_TOKEN     nats.token
//	WPIPE_METRICS_PORT   metrics.port
package config
