package electrum

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/resilience/retry"
	"github.com/gabapcia/coinconn/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/coinconn/internal/pkg/x/chflow"
	"github.com/gabapcia/coinconn/internal/pkg/x/future"
)

const readBufferSize = 64 * 1024

// subscription is an active subscription, replayed on every new session.
type subscription struct {
	method  string
	params  []any
	handler connregistry.NotificationHandler
}

// session is one established socket.
type session struct {
	conn      net.Conn
	outgoing  chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(parent context.Context, conn net.Conn, queueSize int) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		conn:     conn,
		outgoing: make(chan []byte, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	context.AfterFunc(ctx, s.close)

	return s
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

// socketConn talks to an Electrum server over a persistent tcp or tls socket.
type socketConn struct {
	lifecycle

	currency  connregistry.CurrencyID
	endpoints []*url.URL
	cfg       config
	retry     retry.Retry

	mu      sync.Mutex
	session *session
	pending map[string]*future.Future[json.RawMessage]
	subs    map[string]subscription
}

var _ connregistry.Connection = (*socketConn)(nil)

func newSocketConn(currency connregistry.CurrencyID, endpoints []*url.URL, cfg config) *socketConn {
	c := &socketConn{
		currency:  currency,
		endpoints: endpoints,
		cfg:       cfg,
		retry:     dialRetry(currency, cfg),
		pending:   make(map[string]*future.Future[json.RawMessage]),
		subs:      make(map[string]subscription),
	}
	c.init()

	return c
}

// Start launches the connection loop and returns immediately. Progress is
// reported through StateChanges.
func (c *socketConn) Start(ctx context.Context) error {
	ok, err := c.begin()
	if !ok {
		return err
	}

	go c.run()
	return nil
}

func (c *socketConn) Stop() {
	c.stop(func() {
		c.mu.Lock()
		sess := c.session
		c.mu.Unlock()

		if sess != nil {
			sess.close()
		}
	})
}

func (c *socketConn) run() {
	defer c.emit(connregistry.StateStopped, nil)

	for c.ctx.Err() == nil {
		c.emit(connregistry.StateConnecting, nil)

		conn, endpoint, err := c.dial()
		if c.ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}

		if err == nil {
			err = c.serve(newSession(c.ctx, conn, c.cfg.queueSize), endpoint)
			if c.ctx.Err() != nil {
				return
			}
		}

		logger.Warn(c.ctx, "electrum connection failed",
			"connection.currency", c.currency,
			"error", err,
		)
		c.emit(connregistry.StateFailed, err)
		c.wait(c.cfg.reconnectDelay)
	}
}

// dial walks the endpoints in order, retrying the whole round with backoff.
func (c *socketConn) dial() (net.Conn, *url.URL, error) {
	var (
		conn     net.Conn
		endpoint *url.URL
	)

	err := c.retry.Execute(c.ctx, func() error {
		var errs []error
		for _, ep := range c.endpoints {
			dialed, err := c.dialEndpoint(ep)
			if err == nil {
				conn, endpoint = dialed, ep
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", ep.Host, err))
		}
		return errors.Join(errs...)
	})

	return conn, endpoint, err
}

func (c *socketConn) dialEndpoint(ep *url.URL) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.dialTimeout}
	if ep.Scheme != "tls" {
		return dialer.DialContext(c.ctx, "tcp", ep.Host)
	}

	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName:         ep.Hostname(),
			InsecureSkipVerify: c.cfg.insecureTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return tlsDialer.DialContext(c.ctx, "tcp", ep.Host)
}

// serve runs a session until it drops and returns the cause.
func (c *socketConn) serve(sess *session, endpoint *url.URL) error {
	go c.writeLoop(sess)
	c.attach(sess)

	logger.Info(c.ctx, "electrum session established",
		"connection.currency", c.currency,
		"connection.endpoint", endpoint.Host,
	)

	if c.cfg.keepAlive > 0 {
		go c.keepAliveLoop(sess)
	}

	err := c.readLoop(sess)
	sess.close()
	c.detach(sess, err)

	return err
}

// attach makes sess the current session, sends the handshake, replays the
// active subscriptions and reports the connection as running.
func (c *socketConn) attach(sess *session) {
	c.mu.Lock()
	c.session = sess
	subs := slices.Collect(maps.Values(c.subs))
	c.mu.Unlock()

	c.Call(c.ctx, MethodServerVersion, c.cfg.clientName, protocolVersion).OnComplete(func(reply json.RawMessage, err error) {
		if err != nil {
			logger.Warn(c.ctx, "electrum handshake failed", "connection.currency", c.currency, "error", err)
			return
		}
		logger.Debug(c.ctx, "electrum handshake", "connection.currency", c.currency, "server.version", string(reply))
	})

	for _, sub := range subs {
		c.Call(c.ctx, sub.method, sub.params...).OnComplete(func(_ json.RawMessage, err error) {
			if err != nil {
				logger.Warn(c.ctx, "subscription replay failed",
					"connection.currency", c.currency,
					"call.method", sub.method,
					"error", err,
				)
			}
		})
	}

	if len(subs) > 0 {
		logger.Info(c.ctx, "subscriptions replayed", "connection.currency", c.currency, "subscriptions", len(subs))
	}

	c.emit(connregistry.StateRunning, nil)
}

// detach clears sess and fails every call still waiting for a reply.
func (c *socketConn) detach(sess *session, cause error) {
	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	pending := c.pending
	c.pending = make(map[string]*future.Future[json.RawMessage])
	c.mu.Unlock()

	for _, f := range pending {
		f.Reject(cause)
	}
}

func (c *socketConn) writeLoop(sess *session) {
	for {
		frame, ok := chflow.Receive(sess.ctx, sess.outgoing)
		if !ok {
			return
		}

		if _, err := sess.conn.Write(frame); err != nil {
			logger.Warn(c.ctx, "electrum write failed", "connection.currency", c.currency, "error", err)
			sess.close()
			return
		}
	}
}

func (c *socketConn) readLoop(sess *session) error {
	reader := bufio.NewReaderSize(sess.conn, readBufferSize)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			c.handleFrame(line)
		}

		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
	}
}

func (c *socketConn) keepAliveLoop(sess *session) {
	ticker := time.NewTicker(c.cfg.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			c.Call(sess.ctx, MethodServerPing).OnComplete(func(_ json.RawMessage, err error) {
				if err != nil {
					logger.Debug(c.ctx, "electrum ping failed", "connection.currency", c.currency, "error", err)
				}
			})
		}
	}
}

func (c *socketConn) handleFrame(line []byte) {
	var msg jsonrpc.Response
	if err := json.Unmarshal(line, &msg); err != nil {
		logger.Warn(c.ctx, "malformed electrum frame", "connection.currency", c.currency, "error", err)
		return
	}

	if msg.IsNotification() {
		c.dispatch(msg.Method, msg.Params)
		return
	}

	if msg.ID == nil {
		return
	}

	c.mu.Lock()
	f, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()

	if !ok {
		return
	}

	settle(f, msg)
}

// settle completes f from a reply.
func settle(f *future.Future[json.RawMessage], msg jsonrpc.Response) {
	if msg.Error != nil {
		f.Reject(&connregistry.RemoteError{Code: msg.Error.Code, Message: msg.Error.Message})
		return
	}

	if msg.Result == nil {
		msg.Result = json.RawMessage("null")
	}
	f.Resolve(msg.Result)
}

func (c *socketConn) dispatch(method string, params []json.RawMessage) {
	c.mu.Lock()
	sub, ok := c.subs[notificationKey(method, params)]
	if !ok {
		sub, ok = c.subs[method]
	}
	c.mu.Unlock()

	if !ok {
		logger.Debug(c.ctx, "notification without subscription", "connection.currency", c.currency, "call.method", method)
		return
	}

	sub.handler(params)
}

func (c *socketConn) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
}

// Call queues method on the current session. It fails with
// connregistry.ErrNotConnected while no session exists and with ErrQueueFull
// when the session cannot take more frames. Cancelling ctx rejects the call.
func (c *socketConn) Call(ctx context.Context, method string, params ...any) *future.Future[json.RawMessage] {
	req := jsonrpc.NewRequest(method, params...)
	frame, err := json.Marshal(req)
	if err != nil {
		return future.Failed[json.RawMessage](err)
	}
	frame = append(frame, '\n')

	result := future.New[json.RawMessage]()

	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return future.Failed[json.RawMessage](connregistry.ErrNotConnected)
	}
	c.pending[req.ID] = result
	c.mu.Unlock()

	if !chflow.TrySend(sess.outgoing, frame) {
		c.forget(req.ID)
		result.Reject(fmt.Errorf("%w: %s", ErrQueueFull, method))
		return result
	}

	stop := context.AfterFunc(ctx, func() {
		c.forget(req.ID)
		result.Reject(ctx.Err())
	})
	result.OnComplete(func(json.RawMessage, error) { stop() })

	return result
}

// Subscribe registers handler for the notifications of method keyed by its
// first param, then issues the subscription call. The subscription stays
// registered and is replayed on every new session.
func (c *socketConn) Subscribe(ctx context.Context, method string, handler connregistry.NotificationHandler, params ...any) *future.Future[json.RawMessage] {
	c.mu.Lock()
	c.subs[subscriptionKey(method, params)] = subscription{method: method, params: params, handler: handler}
	c.mu.Unlock()

	return c.Call(ctx, method, params...)
}

// subscriptionKey identifies a subscription by method and first param.
func subscriptionKey(method string, params []any) string {
	if len(params) == 0 {
		return method
	}

	b, err := json.Marshal(params[0])
	if err != nil {
		return method
	}
	return method + ":" + string(b)
}

// notificationKey is subscriptionKey for the params of a notification.
func notificationKey(method string, params []json.RawMessage) string {
	if len(params) == 0 {
		return method
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, params[0]); err != nil {
		return method
	}
	return method + ":" + buf.String()
}
