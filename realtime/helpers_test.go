package realtime_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-auth-client/realtime"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsServer is a notification server used by the channel tests.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	received chan realtime.Frame
	release  chan struct{}

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
	dials  int
	reject bool
	stall  bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		t:        t,
		received: make(chan realtime.Frame, 64),
		release:  make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		close(s.release)
		s.closeAll()
		s.srv.Close()
	})
	return s
}

func (s *wsServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	reject, stall := s.reject, s.stall
	s.mu.Unlock()

	if stall {
		select {
		case <-s.release:
		case <-r.Context().Done():
		}
		return
	}
	if reject {
		http.Error(w, "nope", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go func() {
		for {
			var frame realtime.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			select {
			case s.received <- frame:
			default:
			}
		}
	}()
}

func (s *wsServer) set(fn func(s *wsServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *wsServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *wsServer) lastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return ""
	}
	return s.tokens[len(s.tokens)-1]
}

func (s *wsServer) latest() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.conns)
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) push(raw string) {
	s.t.Helper()
	require.NoError(s.t, s.latest().WriteMessage(websocket.TextMessage, []byte(raw)))
}

// drop kills the TCP connection without a close frame.
func (s *wsServer) drop() {
	_ = s.latest().UnderlyingConn().Close()
}

func (s *wsServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *wsServer) expectFrame(frameType string) realtime.Frame {
	s.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-s.received:
			if f.Type == frameType {
				return f
			}
		case <-timeout:
			s.t.Fatalf("no %s frame received", frameType)
			return realtime.Frame{}
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (l *eventLog) add(e realtime.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) last() realtime.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return realtime.Event{}
	}
	return l.events[len(l.events)-1]
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type countingMetrics struct {
	mu            sync.Mutex
	attempts      int
	connected     int
	reconnects    []int
	maxReached    int
	notifications map[string]int
}

func (m *countingMetrics) ConnectAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *countingMetrics) Connected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected++
}

func (m *countingMetrics) Reconnect(attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects = append(m.reconnects, attempt)
}

func (m *countingMetrics) MaxReconnectReached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxReached++
}

func (m *countingMetrics) NotificationReceived(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifications == nil {
		m.notifications = map[string]int{}
	}
	m.notifications[kind]++
}

func (m *countingMetrics) snapshot() (attempts, connected, maxReached int, reconnects []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts, m.connected, m.maxReached, append([]int(nil), m.reconnects...)
}
