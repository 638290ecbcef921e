package connector

import (
	"log/slog"

	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// Dependencies are the process-wide services handed to connector factories.
// Every field may be nil; factories that need one fail their build with a
// startup error.
type Dependencies struct {
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// GetLogger returns the configured logger or slog.Default().
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger tagged with the component name.
func (d Dependencies) GetLoggerWithComponent(name string) *slog.Logger {
	return d.GetLogger().With("component", name)
}

// Metrics returns the shared connector metrics, nil without a registry.
func (d Dependencies) Metrics() *metric.Metrics {
	if d.MetricsRegistry == nil {
		return nil
	}
	return d.MetricsRegistry.CoreMetrics()
}
