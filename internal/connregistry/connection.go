package connregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabapcia/coinconn/internal/pkg/x/future"
)

// ErrNotConnected is returned by a Connection for requests issued while it
// has no live session with any of its endpoints.
var ErrNotConnected = errors.New("connection not established")

// State is the lifecycle state of a single Connection.
type State int

const (
	StateIdle       State = iota // created, Start not called yet
	StateConnecting              // dialing candidate endpoints
	StateRunning                 // session established, requests are served
	StateFailed                  // no endpoint reachable or session dropped; the connection keeps retrying
	StateStopping                // Stop requested, tearing down
	StateStopped                 // terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange is emitted by a Connection every time its State changes.
// Err is set for StateFailed and carries the failure cause.
type StateChange struct {
	State State
	Err   error
}

// RemoteError is a protocol-level error reported by the remote server.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error [%d]: %s", e.Code, e.Message)
}

// NotificationHandler receives the params of a push notification delivered
// for an active subscription.
type NotificationHandler func(params []json.RawMessage)

// Connection is one persistent request/response connection to the server pool
// of a single currency. Framing, encoding, connect and reconnect logic belong
// entirely to the implementation.
type Connection interface {
	// Start launches the connection-management loop and returns immediately.
	Start(ctx context.Context) error

	// Stop requests shutdown and returns immediately. Done is closed once the
	// connection reached StateStopped. Stopping a connection that was never
	// started moves it straight to StateStopped.
	Stop()

	// Done is closed when the connection reaches StateStopped.
	Done() <-chan struct{}

	// State returns the current state.
	State() State

	// StateChanges streams every state transition. The channel is closed after
	// StateStopped has been delivered. Consumers must drain it.
	StateChanges() <-chan StateChange

	// Call sends method with params and returns a future over the raw reply.
	// It never blocks; every failure is delivered through the future.
	Call(ctx context.Context, method string, params ...any) *future.Future[json.RawMessage]

	// Subscribe sends a subscription request and installs handler for the
	// push notifications matching method and the first param.
	Subscribe(ctx context.Context, method string, handler NotificationHandler, params ...any) *future.Future[json.RawMessage]
}

// Factory builds the Connection of a currency from its ordered candidate endpoints.
type Factory func(currency CurrencyID, endpoints []string) (Connection, error)
