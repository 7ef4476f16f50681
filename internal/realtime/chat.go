package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/alphatech-ng/alphatech-site/internal/chat"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
)

// Limiter throttles submissions per visitor.
type Limiter interface {
	Allow(key string) bool
}

// LastSeenUpdater records visitor activity.
type LastSeenUpdater interface {
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error
}

// ChatSocket serves a tab's chat session over a WebSocket.
//
// Client messages are {"type": "submit"|"draft"|"open"|"ping", "text": ...}.
// The server pushes {"type": "state", "state": ...} after every change and
// answers ping with pong. A submit that is not accepted gets "ignored".
type ChatSocket struct {
	chats          *chat.Registry
	conns          *ConnManager
	limiter        Limiter
	visitors       LastSeenUpdater
	allowedOrigins []string
	isDev          bool
}

// NewChatSocket creates the handler. limiter and visitors may be nil.
func NewChatSocket(chats *chat.Registry, conns *ConnManager, limiter Limiter, visitors LastSeenUpdater, allowedOrigins []string, isDev bool) *ChatSocket {
	return &ChatSocket{
		chats:          chats,
		conns:          conns,
		limiter:        limiter,
		visitors:       visitors,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type serverMessage struct {
	Type  string      `json:"type"`
	State *chat.State `json:"state,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	tabID := identity.SessionIDFromContext(r.Context())
	slog.Info("Chat socket request", "visitor_id", visitorID, "session_id", tabID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	h.conns.Register(visitorID, tabID, ws)
	defer h.conns.Unregister(visitorID, tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &chatConn{
		h:         h,
		ws:        ws,
		visitorID: visitorID,
		tabID:     tabID,
		dirty:     make(chan struct{}, 1),
	}
	c.follow(h.chats.GetOrOpen(visitorID, tabID))
	defer c.unfollow()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		c.outputLoop(ctx)
	}()

	c.inputLoop(ctx)
	cancel()
	<-done
	slog.Info("Chat socket ended", "visitor_id", visitorID, "session_id", tabID)
}

func (h *ChatSocket) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// chatConn is one socket following the tab's current chat session.
type chatConn struct {
	h         *ChatSocket
	ws        *websocket.Conn
	visitorID string
	tabID     string

	session   atomic.Pointer[chat.Session]
	stopWatch func()
	dirty     chan struct{}
}

func (c *chatConn) signal() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// follow switches the socket to s and schedules a state push. Only the
// input loop calls it.
func (c *chatConn) follow(s *chat.Session) {
	c.unfollow()
	c.session.Store(s)
	c.stopWatch = s.Watch(func(chat.State) { c.signal() })
	c.signal()
}

func (c *chatConn) unfollow() {
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (c *chatConn) inputLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Chat socket closed by client", "visitor_id", c.visitorID)
			} else {
				slog.Warn("Chat socket read error", "error", err, "visitor_id", c.visitorID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.write(ctx, serverMessage{Type: "error", Error: "invalid_message"})
			continue
		}

		switch msg.Type {
		case "submit":
			if c.h.limiter != nil && !c.h.limiter.Allow(c.visitorID) {
				c.write(ctx, serverMessage{Type: "error", Error: "rate_limited"})
				continue
			}
			s := c.session.Load()
			go func(text string) {
				if !s.Submit(ctx, text) {
					c.write(ctx, serverMessage{Type: "ignored"})
				}
			}(msg.Text)
		case "draft":
			c.session.Load().SetDraft(msg.Text)
		case "open":
			c.follow(c.h.chats.Open(c.visitorID, c.tabID))
		case "ping":
			c.write(ctx, serverMessage{Type: "pong"})
		default:
			c.write(ctx, serverMessage{Type: "error", Error: "unknown_type"})
			continue
		}

		c.touch()
	}
}

// outputLoop pushes the latest state whenever the session changes.
// Bursts of changes collapse into one push.
func (c *chatConn) outputLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.dirty:
			st := c.session.Load().Snapshot()
			if err := c.write(ctx, serverMessage{Type: "state", State: &st}); err != nil {
				return
			}
		}
	}
}

func (c *chatConn) write(ctx context.Context, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() == nil {
			slog.Debug("Chat socket write error", "error", err, "visitor_id", c.visitorID)
		}
		return err
	}
	return nil
}

// touch refreshes the visitor's last-seen time in the background.
func (c *chatConn) touch() {
	if c.h.visitors == nil {
		return
	}
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.h.visitors.UpdateLastSeen(updateCtx, c.visitorID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "visitor_id", c.visitorID)
		}
	}()
}
