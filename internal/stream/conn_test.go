package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/cogdash/internal/events"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferSize = 100
	cfg.PingInterval = 0
	return cfg
}

func TestWebSocketDialer_DialAndClose(t *testing.T) {
	sessions := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		sessions <- r.Header.Get("X-Client-Session")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	d := NewWebSocketDialer(dialConfig(), nil)
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if !conn.IsConnected() {
		t.Error("IsConnected should be true after Dial")
	}

	select {
	case got := <-sessions:
		if got != d.Session() || got == "" {
			t.Errorf("X-Client-Session = %q, want %q", got, d.Session())
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the handshake")
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if conn.IsConnected() {
		t.Error("IsConnected should be false after Close")
	}
	if err := conn.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send after Close = %v, want ErrNotConnected", err)
	}
}

func TestWebSocketDialer_Send(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	conn, err := NewWebSocketDialer(dialConfig(), nil).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	testMsg := []byte(`{"type":"query","timestamp":1,"data":null}`)
	if err := conn.Send(testMsg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(testMsg) {
			t.Errorf("received %q, want %q", got, testMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestWebSocketDialer_MessagesAndServerClose(t *testing.T) {
	frames := []string{
		`{"type":"knowledge_update","data":{"action":"added"}}`,
		`{"type":"knowledge_update","data":{"action":"removed"}}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "maintenance"),
			time.Now().Add(time.Second))
	})
	defer server.Close()

	conn, err := NewWebSocketDialer(dialConfig(), nil).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var got []string
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				done = true
				break
			}
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
			got = append(got, string(msg.Data))
		case <-timeout:
			t.Fatalf("timeout, received %d of %d frames", len(got), len(frames))
		}
	}

	if len(got) != len(frames) {
		t.Fatalf("received %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if got[i] != frames[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], frames[i])
		}
	}

	info := conn.CloseInfo()
	if info.Code != websocket.CloseTryAgainLater {
		t.Errorf("close code = %d, want %d", info.Code, websocket.CloseTryAgainLater)
	}
	if info.Reason != "maintenance" {
		t.Errorf("close reason = %q, want %q", info.Reason, "maintenance")
	}

	select {
	case err := <-conn.Errors():
		if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
			t.Errorf("unexpected transport error: %v", err)
		}
	default:
		t.Error("expected the abnormal close to be reported on Errors")
	}
}

func TestWebSocketDialer_DialFailure(t *testing.T) {
	_, err := NewWebSocketDialer(dialConfig(), nil).Dial(context.Background(), "ws://127.0.0.1:1/ws")
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestCloseInfoFrom(t *testing.T) {
	info := closeInfoFrom(&websocket.CloseError{Code: 4001, Text: "bye"})
	if info.Code != 4001 || info.Reason != "bye" {
		t.Errorf("closeInfoFrom(CloseError) = %+v", info)
	}

	info = closeInfoFrom(context.DeadlineExceeded)
	if info.Code != CloseAbnormal {
		t.Errorf("closeInfoFrom(other) code = %d, want %d", info.Code, CloseAbnormal)
	}
}

// TestManager_EndToEnd runs the manager against a real server that rejects
// the first handshake and accepts the second.
func TestManager_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var received []string
	accepted := 0

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		accepted++
		n := accepted
		mu.Unlock()

		if n == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"query_response","data":{"query_id":"q1","response":"hello"}}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var out events.OutboundMessage
			if json.Unmarshal(msg, &out) == nil {
				mu.Lock()
				received = append(received, out.Type)
				mu.Unlock()
			}
		}
	}))
	defer server.Close()

	cfg := dialConfig()
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond
	m := NewManager(cfg, nil)
	defer m.Disconnect()

	responses := make(chan events.QueryResponse, 1)
	Subscribe(m, func(qr events.QueryResponse) error {
		select {
		case responses <- qr:
		default:
		}
		return nil
	})

	if err := m.Send("subscribe", map[string]string{"topic": "reasoning"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := m.Send("query", map[string]string{"text": "hello?"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := m.Connect(wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case qr := <-responses:
		if qr.Response != "hello" {
			t.Errorf("Response = %q, want %q", qr.Response, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no query_response after reconnect")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != "subscribe" || received[1] != "query" {
		t.Errorf("server received %v, want [subscribe query]", received)
	}
	if m.State() != StateConnected {
		t.Errorf("State = %v, want connected", m.State())
	}
	if m.ReconnectAttempt() != 0 {
		t.Errorf("ReconnectAttempt = %d, want 0 after reconnect", m.ReconnectAttempt())
	}
	if m.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", m.Pending())
	}
}
