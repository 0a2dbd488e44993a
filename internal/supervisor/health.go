package supervisor

import "fmt"

// Health is the collective state of every connection in the registry.
type Health int

const (
	HealthIdle          Health = iota // StartAll not called yet
	HealthStarting                    // at least one connection has not reported running, none failed
	HealthHealthy                     // every connection is running
	HealthDegraded                    // at least one connection failed and has not recovered
	HealthStopping                    // stop requested, waiting for the connections
	HealthStopped                     // every connection confirmed stopped
	HealthStopAbandoned               // stop timed out; connections may still be shutting down
)

func (h Health) String() string {
	switch h {
	case HealthIdle:
		return "idle"
	case HealthStarting:
		return "starting"
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthStopping:
		return "stopping"
	case HealthStopped:
		return "stopped"
	case HealthStopAbandoned:
		return "stop_abandoned"
	default:
		return fmt.Sprintf("health(%d)", int(h))
	}
}

// isShuttingDown reports whether h belongs to the shutdown half of the state machine.
func (h Health) isShuttingDown() bool {
	return h == HealthStopping || h == HealthStopped || h == HealthStopAbandoned
}
