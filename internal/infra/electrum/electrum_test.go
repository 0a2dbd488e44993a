package electrum

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/transport/jsonrpc"

	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init(logger.WithLevel("error"))
}

const eventually = 3 * time.Second

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithReconnectDelay(20 * time.Millisecond),
		WithDialRetry(1, time.Millisecond),
		WithDialTimeout(time.Second),
		WithKeepAlive(0),
		WithPollInterval(10 * time.Millisecond),
	}, extra...)
}

func testConfig(extra ...Option) config {
	cfg := defaultConfig()
	for _, opt := range testOptions(extra...) {
		opt(&cfg)
	}
	return cfg
}

// stateRecorder drains the state changes of a connection.
type stateRecorder struct {
	mu     sync.Mutex
	states []connregistry.State
	errs   []error
}

func recordStates(conn connregistry.Connection) *stateRecorder {
	r := &stateRecorder{}
	go func() {
		for change := range conn.StateChanges() {
			r.mu.Lock()
			r.states = append(r.states, change.State)
			r.errs = append(r.errs, change.Err)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *stateRecorder) count(state connregistry.State) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func (r *stateRecorder) waitFor(t *testing.T, state connregistry.State, times int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(state) >= times }, eventually, time.Millisecond,
		"state %s not reached %d time(s)", state, times)
}

// fakeServer is a minimal Electrum server on a loopback listener.
type fakeServer struct {
	ln net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	requests []jsonrpc.Request
	replies  map[string]string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		ln: ln,
		replies: map[string]string{
			MethodServerVersion:                `"result":["FakeElectrum 1.0","1.2"]`,
			MethodServerPing:                   `"result":null`,
			"blockchain.address.subscribe":     `"result":"9f2c"`,
			"blockchain.address.listunspent":   `"result":[{"tx_hash":"` + hash64 + `","tx_pos":0,"value":1,"height":2}]`,
			"blockchain.transaction.broadcast": `"error":{"code":1,"message":"missing inputs"}`,
		},
	}
	go s.accept()
	t.Cleanup(s.close)

	return s
}

const hash64 = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func (s *fakeServer) endpoint() string {
	return "tcp://" + s.ln.Addr().String()
}

func (s *fakeServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req jsonrpc.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		body, ok := s.replies[req.Method]
		s.mu.Unlock()

		if !ok {
			continue
		}

		_, _ = conn.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `",` + body + "}\n"))
	}
}

func (s *fakeServer) push(method string, params ...any) {
	frame, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	frame = append(frame, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		_, _ = conn.Write(frame)
	}
}

func (s *fakeServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func (s *fakeServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, req := range s.requests {
		if req.Method == method {
			n++
		}
	}
	return n
}

// params returns the params of every request received for method.
func (s *fakeServer) params(method string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [][]any
	for _, req := range s.requests {
		if req.Method == method {
			out = append(out, req.Params)
		}
	}
	return out
}

func (s *fakeServer) close() {
	_ = s.ln.Close()
	s.dropAll()
}

// closedEndpoint returns a loopback endpoint nobody listens on.
func closedEndpoint(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return "tcp://" + addr
}
