// Package mocks provides test doubles for connregistry.
//
// Connection mixes a testify mock for the request side (Call and Subscribe,
// set up through EXPECT) with a scripted lifecycle the test drives with Emit.
package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"

	"github.com/stretchr/testify/mock"
)

const stateChangesBufferSize = 256

// Subscription is one Subscribe request seen by Connection.
type Subscription struct {
	Method  string
	Params  []any
	Handler connregistry.NotificationHandler
}

// Connection is a connregistry.Connection whose lifecycle is driven by the
// test and whose requests are answered by mock expectations.
type Connection struct {
	mock.Mock

	// AutoRun makes Start emit connecting and running.
	AutoRun bool
	// StartErr is returned by Start when set.
	StartErr error
	// StopDelay delays the stopped transition after Stop.
	StopDelay time.Duration
	// HangOnStop keeps the connection in stopping forever.
	HangOnStop bool

	mu        sync.Mutex
	state     connregistry.State
	started   int
	closed    bool
	stopOnce  sync.Once
	changes   chan connregistry.StateChange
	done      chan struct{}
	subs      []Subscription
	stopCalls int
}

var _ connregistry.Connection = (*Connection)(nil)

// NewConnection returns an idle connection whose expectations are asserted
// when the test ends.
func NewConnection(t interface {
	mock.TestingT
	Cleanup(func())
}) *Connection {
	c := &Connection{
		changes: make(chan connregistry.StateChange, stateChangesBufferSize),
		done:    make(chan struct{}),
	}
	c.Mock.Test(t)

	t.Cleanup(func() { c.AssertExpectations(t) })

	return c
}

// Emit moves the connection to state and publishes the change.
func (c *Connection) Emit(state connregistry.State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.state = state
	c.changes <- connregistry.StateChange{State: state, Err: err}

	if state == connregistry.StateStopped {
		c.closed = true
		close(c.changes)
		close(c.done)
	}
}

func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()

	if c.StartErr != nil {
		return c.StartErr
	}

	if c.AutoRun {
		c.Emit(connregistry.StateConnecting, nil)
		c.Emit(connregistry.StateRunning, nil)
	}

	return nil
}

func (c *Connection) Stop() {
	c.mu.Lock()
	c.stopCalls++
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		c.Emit(connregistry.StateStopping, nil)

		go func() {
			if c.HangOnStop {
				return
			}

			if c.StopDelay > 0 {
				time.Sleep(c.StopDelay)
			}
			c.Emit(connregistry.StateStopped, nil)
		}()
	})
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) State() connregistry.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Connection) StateChanges() <-chan connregistry.StateChange {
	return c.changes
}

// Call provides a mock function with given fields: ctx, method, params
func (c *Connection) Call(ctx context.Context, method string, params ...any) *future.Future[json.RawMessage] {
	args := append([]any{ctx, method}, params...)
	ret := c.Called(args...)

	if len(ret) == 0 {
		panic("no return value specified for Call")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, ...any) *future.Future[json.RawMessage]); ok {
		return rf(ctx, method, params...)
	}
	return ret.Get(0).(*future.Future[json.RawMessage])
}

// Subscribe provides a mock function with given fields: ctx, method, handler, params
func (c *Connection) Subscribe(ctx context.Context, method string, handler connregistry.NotificationHandler, params ...any) *future.Future[json.RawMessage] {
	c.mu.Lock()
	c.subs = append(c.subs, Subscription{Method: method, Params: params, Handler: handler})
	c.mu.Unlock()

	args := append([]any{ctx, method, handler}, params...)
	ret := c.Called(args...)

	if len(ret) == 0 {
		panic("no return value specified for Subscribe")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, connregistry.NotificationHandler, ...any) *future.Future[json.RawMessage]); ok {
		return rf(ctx, method, handler, params...)
	}
	return ret.Get(0).(*future.Future[json.RawMessage])
}

// Subscriptions returns the Subscribe requests seen so far.
func (c *Connection) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Subscription(nil), c.subs...)
}

// StartCount returns how many times Start was called.
func (c *Connection) StartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.started
}

// StopCount returns how many times Stop was called.
func (c *Connection) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopCalls
}

// Notify delivers a push notification to every handler subscribed with method
// whose first param equals key.
func (c *Connection) Notify(method string, key any, params ...json.RawMessage) int {
	var delivered int
	for _, sub := range c.Subscriptions() {
		if sub.Method != method || len(sub.Params) == 0 || sub.Params[0] != key {
			continue
		}

		sub.Handler(params)
		delivered++
	}

	return delivered
}

type Connection_Expecter struct {
	mock *mock.Mock
}

func (c *Connection) EXPECT() *Connection_Expecter {
	return &Connection_Expecter{mock: &c.Mock}
}

// Connection_Call_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Call'
type Connection_Call_Call struct {
	*mock.Call
}

// Call is a helper method to define mock.On call
//   - ctx context.Context
//   - method string
//   - params ...any
func (_e *Connection_Expecter) Call(ctx interface{}, method interface{}, params ...interface{}) *Connection_Call_Call {
	return &Connection_Call_Call{Call: _e.mock.On("Call", append([]interface{}{ctx, method}, params...)...)}
}

func (_c *Connection_Call_Call) Return(_a0 *future.Future[json.RawMessage]) *Connection_Call_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *Connection_Call_Call) RunAndReturn(run func(context.Context, string, ...any) *future.Future[json.RawMessage]) *Connection_Call_Call {
	_c.Call.Return(run)
	return _c
}

// Connection_Subscribe_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Subscribe'
type Connection_Subscribe_Call struct {
	*mock.Call
}

// Subscribe is a helper method to define mock.On call
//   - ctx context.Context
//   - method string
//   - handler connregistry.NotificationHandler
//   - params ...any
func (_e *Connection_Expecter) Subscribe(ctx interface{}, method interface{}, handler interface{}, params ...interface{}) *Connection_Subscribe_Call {
	return &Connection_Subscribe_Call{Call: _e.mock.On("Subscribe", append([]interface{}{ctx, method, handler}, params...)...)}
}

func (_c *Connection_Subscribe_Call) Return(_a0 *future.Future[json.RawMessage]) *Connection_Subscribe_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *Connection_Subscribe_Call) RunAndReturn(run func(context.Context, string, connregistry.NotificationHandler, ...any) *future.Future[json.RawMessage]) *Connection_Subscribe_Call {
	_c.Call.Return(run)
	return _c
}

// Factory returns a connregistry.Factory that hands out a fresh Connection per
// currency and records them in the returned map.
func Factory(t interface {
	mock.TestingT
	Cleanup(func())
}, configure func(currency connregistry.CurrencyID, c *Connection)) (connregistry.Factory, map[connregistry.CurrencyID]*Connection) {
	var (
		mu    sync.Mutex
		built = make(map[connregistry.CurrencyID]*Connection)
	)

	factory := func(currency connregistry.CurrencyID, endpoints []string) (connregistry.Connection, error) {
		conn := NewConnection(t)
		if configure != nil {
			configure(currency, conn)
		}

		mu.Lock()
		built[currency] = conn
		mu.Unlock()

		return conn, nil
	}

	return factory, built
}
