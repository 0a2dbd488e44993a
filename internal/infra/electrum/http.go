package electrum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/resilience/retry"
	"github.com/gabapcia/coinconn/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
)

// polledSubscription is a subscription emulated by polling its method.
type polledSubscription struct {
	method  string
	params  []any
	handler connregistry.NotificationHandler
	last    json.RawMessage
	primed  bool
}

// httpConn talks to an Electrum server exposing JSON-RPC over HTTP.
type httpConn struct {
	lifecycle

	currency  connregistry.CurrencyID
	endpoints []string
	clients   []jsonrpc.Client
	cfg       config
	retry     retry.Retry

	mu        sync.Mutex
	active    int
	connected bool
	subs      map[string]*polledSubscription
}

var _ connregistry.Connection = (*httpConn)(nil)

func newHTTPConn(currency connregistry.CurrencyID, endpoints []string, cfg config) *httpConn {
	clients := make([]jsonrpc.Client, 0, len(endpoints))
	for _, ep := range endpoints {
		clients = append(clients, jsonrpc.NewClient(ep, cfg.httpOpts...))
	}

	c := &httpConn{
		currency:  currency,
		endpoints: endpoints,
		clients:   clients,
		cfg:       cfg,
		retry:     dialRetry(currency, cfg),
		subs:      make(map[string]*polledSubscription),
	}
	c.init()

	return c
}

// Start launches the handshake and polling loop and returns immediately.
func (c *httpConn) Start(ctx context.Context) error {
	ok, err := c.begin()
	if !ok {
		return err
	}

	go c.run()
	return nil
}

func (c *httpConn) Stop() {
	c.stop(nil)
}

func (c *httpConn) run() {
	defer c.emit(connregistry.StateStopped, nil)

	for c.ctx.Err() == nil {
		c.emit(connregistry.StateConnecting, nil)

		err := c.handshake()
		if c.ctx.Err() != nil {
			return
		}

		if err == nil {
			c.setConnected(true)
			c.emit(connregistry.StateRunning, nil)

			err = c.pollLoop()
			c.setConnected(false)
			if c.ctx.Err() != nil {
				return
			}
		}

		logger.Warn(c.ctx, "electrum http endpoint failed",
			"connection.currency", c.currency,
			"error", err,
		)
		c.emit(connregistry.StateFailed, err)
		c.wait(c.cfg.reconnectDelay)
	}
}

// handshake finds the first endpoint answering server.version.
func (c *httpConn) handshake() error {
	return c.retry.Execute(c.ctx, func() error {
		var errs []error
		for i, client := range c.clients {
			reply, err := client.Fetch(c.ctx, MethodServerVersion, c.cfg.clientName, protocolVersion)
			if err == nil {
				c.mu.Lock()
				c.active = i
				c.mu.Unlock()

				logger.Info(c.ctx, "electrum http endpoint selected",
					"connection.currency", c.currency,
					"connection.endpoint", c.endpoints[i],
					"server.version", string(reply),
				)
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", c.endpoints[i], err))
		}
		return errors.Join(errs...)
	})
}

func (c *httpConn) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
}

func (c *httpConn) pollLoop() error {
	ticker := time.NewTicker(c.cfg.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-ticker.C:
			if err := c.pollOnce(); err != nil {
				return err
			}
		}
	}
}

// pollOnce refreshes every subscription and fires the handlers whose result
// changed. A transport error aborts the round; a server error only skips the
// subscription.
func (c *httpConn) pollOnce() error {
	c.mu.Lock()
	subs := make(map[string]*polledSubscription, len(c.subs))
	for key, sub := range c.subs {
		subs[key] = sub
	}
	c.mu.Unlock()

	for key, sub := range subs {
		reply, err := c.Call(c.ctx, sub.method, sub.params...).Await(c.ctx)
		if err != nil {
			var remoteErr *connregistry.RemoteError
			if errors.As(err, &remoteErr) {
				logger.Warn(c.ctx, "subscription poll rejected",
					"connection.currency", c.currency,
					"call.method", sub.method,
					"error", err,
				)
				continue
			}
			return err
		}

		if changed, params := c.record(key, reply); changed {
			sub.handler(params)
		}
	}

	return nil
}

// record stores reply as the latest result of the subscription under key.
// It reports whether a primed result changed and the notification params.
func (c *httpConn) record(key string, reply json.RawMessage) (bool, []json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[key]
	if !ok {
		return false, nil
	}

	if sub.primed && sameJSON(sub.last, reply) {
		return false, nil
	}

	wasPrimed := sub.primed
	sub.last = reply
	sub.primed = true
	if !wasPrimed {
		return false, nil
	}

	params := make([]json.RawMessage, 0, len(sub.params)+1)
	for _, p := range sub.params {
		b, err := json.Marshal(p)
		if err != nil {
			b = json.RawMessage("null")
		}
		params = append(params, b)
	}

	return true, append(params, reply)
}

func (c *httpConn) activeClient() (jsonrpc.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, false
	}
	return c.clients[c.active], true
}

// Call posts method to the selected endpoint. It fails with
// connregistry.ErrNotConnected until an endpoint answered the handshake.
func (c *httpConn) Call(ctx context.Context, method string, params ...any) *future.Future[json.RawMessage] {
	client, ok := c.activeClient()
	if !ok {
		return future.Failed[json.RawMessage](connregistry.ErrNotConnected)
	}

	result := future.New[json.RawMessage]()
	go func() {
		reqCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		reply, err := client.Fetch(reqCtx, method, params...)
		if err != nil {
			var rpcErr *jsonrpc.Error
			if errors.As(err, &rpcErr) {
				err = &connregistry.RemoteError{Code: rpcErr.Code, Message: rpcErr.Message}
			}
			result.Reject(err)
			return
		}

		if reply == nil {
			reply = json.RawMessage("null")
		}
		result.Resolve(reply)
	}()

	return result
}

// Subscribe registers a polled subscription and issues its first call. The
// handler fires when a later poll returns a different result, with the
// subscription params followed by the new result.
func (c *httpConn) Subscribe(ctx context.Context, method string, handler connregistry.NotificationHandler, params ...any) *future.Future[json.RawMessage] {
	key := subscriptionKey(method, params)

	c.mu.Lock()
	c.subs[key] = &polledSubscription{method: method, params: params, handler: handler}
	c.mu.Unlock()

	reply := c.Call(ctx, method, params...)
	reply.OnComplete(func(raw json.RawMessage, err error) {
		if err == nil {
			c.record(key, raw)
		}
	})

	return reply
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
