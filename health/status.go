// Package health tracks the state of running pipeline components.
//
// Each source and sink group reports into a Monitor under a stable name
// ("source/<name>", "sink/<group>"). The monitor aggregates them into one
// pipeline status and serves it as JSON for probes:
//
//	monitor := health.NewMonitor()
//	monitor.Running("source/access-log")
//	monitor.Failed("sink/archive", err)
//	mux.Handle("/healthz", monitor.Handler("wpipe"))
//
// Error text is sanitized before it is stored: URLs, paths, addresses and
// credentials never leave the process through the health endpoint.
package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health of a component.
type State string

// States, best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

var (
	urlPattern         = regexp.MustCompile(`(?:https?|nats|tls|wss?|amqps?|kafka)://[^\s]+`)
	unixPathPattern    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathPattern = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrPattern      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portPattern        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialPattern  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is one component's health, or an aggregate over several.
type Status struct {
	Component   string    `json:"component"`
	State       State     `json:"state"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Activity    *Activity `json:"activity,omitempty"`
}

// Activity counts what a component has moved since it was first seen.
type Activity struct {
	Since        time.Time `json:"since"`
	Events       int64     `json:"events"`
	Errors       int       `json:"errors"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the component is fully operational.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the component works with reduced service,
// e.g. while reconnecting.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the component has failed.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

func newStatus(component string, state State, message string) Status {
	return Status{Component: component, State: state, Message: message, Timestamp: time.Now()}
}

// Healthy builds a healthy status.
func Healthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// Degraded builds a degraded status.
func Degraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Unhealthy builds an unhealthy status.
func Unhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// FromError builds a status of the given state whose message is the
// sanitized error text.
func FromError(component string, state State, err error) Status {
	msg := ""
	if err != nil {
		msg = Sanitize(err.Error())
	}
	return newStatus(component, state, msg)
}

// Aggregate folds sub-statuses into one: the worst state wins and an empty
// set is healthy.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return Healthy(component, "no components")
	}

	worst := StateHealthy
	for _, sub := range subs {
		if sub.State.rank() > worst.rank() {
			worst = sub.State
		}
	}

	var out Status
	switch worst {
	case StateHealthy:
		out = Healthy(component, "all components healthy")
	case StateDegraded:
		out = Degraded(component, "one or more components degraded")
	default:
		out = Unhealthy(component, "one or more components unhealthy")
	}
	out.SubStatuses = append([]Status(nil), subs...)
	return out
}

// Sanitize strips URLs, paths, addresses, ports and credentials from an
// error message.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	// URLs before paths, since URLs contain paths.
	out := urlPattern.ReplaceAllString(msg, "[URL]")
	out = unixPathPattern.ReplaceAllString(out, "[PATH]")
	out = windowsPathPattern.ReplaceAllString(out, "[PATH]")
	out = ipAddrPattern.ReplaceAllString(out, "[IP]")
	out = portPattern.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialPattern.ReplaceAllString(out, "[REDACTED]")
		}
	}
	return out
}
