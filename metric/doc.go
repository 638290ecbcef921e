// Package metric provides the Prometheus registry, the shared connector
// metrics and an HTTP server exposing them.
//
// Every process owns one MetricsRegistry. Its Metrics field carries the
// source, sink, control and NATS metrics that the sink.Instrumented wrapper,
// the CLI receive loop and natsclient update. Connectors that need more
// register them through the MetricsRegistrar interface:
//
//	registry := metric.NewMetricsRegistry()
//	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "kafka_consumer_lag"})
//	if err := registry.RegisterGauge("kafka-in", "consumer_lag", lag); err != nil {
//		return err
//	}
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//		return err
//	}
//	defer server.Stop(context.Background())
//
// Registration errors are classified: duplicate keys and Prometheus
// descriptor conflicts are invalid-input errors, anything else is fatal.
package metric
