package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/alphatech-ng/alphatech-site/internal/agent"
	"github.com/alphatech-ng/alphatech-site/internal/chat"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req agent.GenerateRequest) (*agent.GenerateResponse, error) {
	return &agent.GenerateResponse{Text: "You asked about " + req.Prompt}, nil
}

func (echoGenerator) Close() error { return nil }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func withVisitor(visitorID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithVisitor(r.Context(), visitorID, r.URL.Query().Get("session_id"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func startChatSocket(t *testing.T, limiter Limiter) (*httptest.Server, *ConnManager, *chat.Registry) {
	t.Helper()
	chats := chat.NewRegistry(echoGenerator{}, chat.Options{RequestTimeout: time.Second})
	conns := NewConnManager()
	h := NewChatSocket(chats, conns, limiter, nil, []string{"https://alphatech.example"}, false)

	srv := httptest.NewServer(withVisitor("vis_test", h))
	t.Cleanup(srv.Close)
	return srv, conns, chats
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, tab string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?session_id=" + tab
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil reads server messages until match accepts one.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	for {
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func isState(pred func(chat.State) bool) func(serverMessage) bool {
	return func(m serverMessage) bool {
		return m.Type == "state" && m.State != nil && pred(*m.State)
	}
}

func TestChatSocketConversation(t *testing.T) {
	srv, conns, chats := startChatSocket(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "tab1")
	readUntil(t, ctx, conn, isState(func(st chat.State) bool { return len(st.Transcript) == 0 }))
	if conns.Count() != 1 || conns.GetActive("vis_test", "tab1") == nil {
		t.Fatalf("expected the socket to be registered, count=%d", conns.Count())
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "draft", Text: "Training Fees"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, isState(func(st chat.State) bool { return st.Draft == "Training Fees" }))

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "submit", Text: "Training Fees"}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, ctx, conn, isState(func(st chat.State) bool {
		return len(st.Transcript) == 2 && !st.AwaitingResponse
	}))
	if got := msg.State.Transcript[1].Text; got != "You asked about Training Fees" {
		t.Fatalf("unexpected reply %q", got)
	}
	if msg.State.Draft != "" {
		t.Fatalf("draft should be cleared, got %q", msg.State.Draft)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "submit", Text: "  "}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, func(m serverMessage) bool { return m.Type == "ignored" })

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, func(m serverMessage) bool { return m.Type == "pong" })

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "open"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ctx, conn, isState(func(st chat.State) bool { return len(st.Transcript) == 0 }))

	s, ok := chats.Get("vis_test", "tab1")
	if !ok || len(s.Snapshot().Transcript) != 0 {
		t.Fatal("open should replace the tab's session with an empty one")
	}
}

func TestChatSocketRateLimited(t *testing.T) {
	srv, _, chats := startChatSocket(t, denyAll{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "tab1")
	if err := wsjson.Write(ctx, conn, clientMessage{Type: "submit", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, ctx, conn, func(m serverMessage) bool { return m.Type == "error" })
	if msg.Error != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", msg.Error)
	}
	s, _ := chats.Get("vis_test", "tab1")
	if len(s.Snapshot().Transcript) != 0 {
		t.Fatal("rate limited submission should not reach the transcript")
	}
}

func TestChatSocketRejectsBadMessages(t *testing.T) {
	srv, _, _ := startChatSocket(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "tab1")
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, ctx, conn, func(m serverMessage) bool { return m.Type == "error" })
	if msg.Error != "invalid_message" {
		t.Fatalf("expected invalid_message, got %q", msg.Error)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "resize"}); err != nil {
		t.Fatal(err)
	}
	msg = readUntil(t, ctx, conn, func(m serverMessage) bool { return m.Type == "error" })
	if msg.Error != "unknown_type" {
		t.Fatalf("expected unknown_type, got %q", msg.Error)
	}
}

func TestChatSocketUnregistersOnClose(t *testing.T) {
	srv, conns, _ := startChatSocket(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "tab1")
	readUntil(t, ctx, conn, func(m serverMessage) bool { return m.Type == "state" })
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for conns.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewChatSocket(nil, NewConnManager(), nil, nil, []string{"https://alphatech.example"}, false)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://alphatech.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	dev := NewChatSocket(nil, NewConnManager(), nil, nil, nil, true)
	r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	r.Header.Set("Origin", "https://evil.example")
	if !dev.checkOrigin(r) {
		t.Fatal("development mode accepts any origin")
	}
}
