package electrum

import (
	"context"
	"sync"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
)

// stateChangesBufferSize lets a connection stop cleanly even when nobody
// drains its state changes.
const stateChangesBufferSize = 32

// lifecycle tracks the state of a connection and publishes its changes.
type lifecycle struct {
	emitMu  sync.Mutex
	stateMu sync.Mutex
	state   connregistry.State
	closed  bool
	changes chan connregistry.StateChange
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	started     bool
	stopping    bool
	loopRunning bool
}

func (l *lifecycle) init() {
	l.state = connregistry.StateIdle
	l.changes = make(chan connregistry.StateChange, stateChangesBufferSize)
	l.done = make(chan struct{})
	l.ctx, l.cancel = context.WithCancel(context.Background())
}

// emit moves to state and publishes the change. Once a stop was requested
// only Stopping and Stopped are published. Emitting Stopped closes the change
// stream; anything emitted afterwards is dropped.
func (l *lifecycle) emit(state connregistry.State, err error) {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	l.stateMu.Lock()
	if l.closed || (l.stopping && state != connregistry.StateStopping && state != connregistry.StateStopped) {
		l.stateMu.Unlock()
		return
	}
	l.state = state
	if state == connregistry.StateStopped {
		l.closed = true
	}
	l.stateMu.Unlock()

	l.changes <- connregistry.StateChange{State: state, Err: err}

	if state == connregistry.StateStopped {
		close(l.changes)
		close(l.done)
	}
}

// begin marks the connection started. It reports false when the connection
// was already started, with ErrStopped when a stop was requested.
func (l *lifecycle) begin() (bool, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.stopping {
		return false, ErrStopped
	}

	if l.started {
		return false, nil
	}

	l.started = true
	l.loopRunning = true
	return true, nil
}

// wait pauses for d unless the connection is stopped first.
func (l *lifecycle) wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-l.ctx.Done():
	}
}

// requestStop cancels the connection context once. It reports whether the
// run loop is active and will emit Stopped on its own.
func (l *lifecycle) requestStop() (first, loopRunning bool) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.stopping {
		return false, l.loopRunning
	}

	l.stopping = true
	l.cancel()
	return true, l.loopRunning
}

// stop implements Connection.Stop for both transports.
func (l *lifecycle) stop(closeSession func()) {
	first, loopRunning := l.requestStop()
	if !first {
		return
	}

	l.emit(connregistry.StateStopping, nil)
	if closeSession != nil {
		closeSession()
	}

	if !loopRunning {
		l.emit(connregistry.StateStopped, nil)
	}
}

func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *lifecycle) State() connregistry.State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	return l.state
}

func (l *lifecycle) StateChanges() <-chan connregistry.StateChange {
	return l.changes
}
