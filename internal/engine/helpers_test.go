package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 3 * time.Second
	tickFor = 5 * time.Millisecond
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.TickRate = 100
	cfg.WriteTimeout = time.Second
	return cfg
}

func slaveConfig() Config {
	cfg := testConfig()
	cfg.Port = -1
	return cfg
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, testLogger())
	require.NoError(t, err)
	return s
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := newTestServer(t, cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		if s.Running() {
			_ = s.Stop()
		}
	})
	return s
}

type call struct {
	method string
	args   []string
	raw    string
	conn   *Client
}

// recorder captures calls to "Svc.*" and the connection hooks it sees.
type recorder struct {
	BaseService

	mu     sync.Mutex
	calls  []call
	hooks  []string
	ticks  []time.Duration
	events []string
}

func (r *recorder) ServiceName() string { return "Svc" }

func (r *recorder) OnEnable() error {
	for _, m := range []string{"Method", "Method2", "Bulk", "Ping"} {
		r.Handle(m, r.record)
	}
	return nil
}

func (r *recorder) record(msg *RPCMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{
		method: msg.Method(),
		args:   append([]string(nil), msg.Args()...),
		raw:    msg.Raw,
		conn:   msg.Conn,
	})
	return nil
}

func (r *recorder) hook(name string) {
	r.mu.Lock()
	r.hooks = append(r.hooks, name)
	r.mu.Unlock()
}

func (r *recorder) OnBeganConnected(c *Client)       { r.hook("began") }
func (r *recorder) OnConnected(c *Client)            { r.hook("connected") }
func (r *recorder) OnDisconnected(c *Client)         { r.hook("disconnected") }
func (r *recorder) OnFinishedDisconnected(c *Client) { r.hook("finished") }

func (r *recorder) OnTick(delta time.Duration) {
	r.mu.Lock()
	r.ticks = append(r.ticks, delta)
	r.mu.Unlock()
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) Hooks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.hooks...)
}

func (r *recorder) Ticks() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.ticks...)
}

func (r *recorder) waitCalls(t *testing.T, n int) []call {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.Calls()) >= n }, waitFor, tickFor)
	return r.Calls()
}

func addRecorder(t *testing.T, s *Server) *recorder {
	t.Helper()
	r, err := AddService[recorder](s)
	require.NoError(t, err)
	return r
}

func methods(calls []call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.method
	}
	return out
}
