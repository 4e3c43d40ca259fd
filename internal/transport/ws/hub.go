// Package ws serves listener connections over websocket.
//
// A client authenticates with a token naming its school, receives that school's
// ring and alarm events as {"event":..., "data":...} frames, and may send
// emergency-alert / force-stop-all commands back.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"schoolbell/internal/auth"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/session"
	logx "schoolbell/pkg/logx"
)

// Inbound command names.
const (
	EmergencyAlert = "emergency-alert"
	ForceStopAll   = "force-stop-all"
)

// Controller is the dispatcher surface a connection needs.
type Controller interface {
	Subscribe(tenant string, buffer int) (<-chan eventbus.Event, func())
	ActivateAlarm(tenant, alertType string)
	DeactivateAlarm(tenant string)
}

type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Config struct {
	AllowedOrigins []string // empty allows any origin
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Handler struct {
	cfg      Config
	ctl      Controller
	verify   Verifier
	log      logx.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

type conn struct {
	ws   *websocket.Conn
	sess *session.Session
}

func NewHandler(cfg Config, ctl Controller, verify Verifier, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	h := &Handler{
		cfg:    cfg,
		ctl:    ctl,
		verify: verify,
		log:    log.With(logx.String("comp", "ws")),
		conns:  map[string]*conn{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verify.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	sess := session.New(claims.SchoolID, claims.UserID)
	c := &conn{ws: wsConn, sess: sess}
	if !h.register(c) {
		_ = wsConn.Close()
		return
	}

	// Subscribing may pre-queue a play-alert for a running alarm.
	events, unsub := h.ctl.Subscribe(sess.Tenant, h.cfg.SendBuffer)
	sess.OnEnd(func() { _ = wsConn.Close() })
	sess.OnEnd(unsub)
	sess.OnEnd(func() { h.unregister(sess.ID) })

	log := h.log.With(logx.Tenant(sess.Tenant), logx.String("user", sess.User), logx.String("session", sess.ID))
	log.Debug("listener connected")

	go h.writePump(c, events, log)
	h.readPump(c, log)
	sess.End()
	log.Debug("listener disconnected", logx.Int("actions", sess.Activity().Len()))
}

func (h *Handler) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.sess.ID] = c
	return true
}

func (h *Handler) unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

func (h *Handler) readPump(c *conn, log logx.Logger) {
	ws := c.ws
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("unexpected websocket close", logx.Err(err))
			}
			return
		}
		h.handleInbound(c.sess, msg, log)
	}
}

func (h *Handler) handleInbound(sess *session.Session, msg []byte, log logx.Logger) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Debug("bad inbound frame", logx.Err(err))
		return
	}
	switch f.Event {
	case EmergencyAlert:
		var data struct {
			AlertType string `json:"alertType"`
		}
		if len(f.Data) > 0 {
			_ = json.Unmarshal(f.Data, &data)
		}
		h.ctl.ActivateAlarm(sess.Tenant, data.AlertType)
		sess.Activity().Add("alarm activated: " + data.AlertType)
	case ForceStopAll:
		h.ctl.DeactivateAlarm(sess.Tenant)
		sess.Activity().Add("alarm stopped")
	default:
		log.Debug("unknown inbound event", logx.Event(f.Event))
	}
}

func (h *Handler) writePump(c *conn, events <-chan eventbus.Event, log logx.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	defer c.sess.End()

	ws := c.ws
	for {
		select {
		case e, ok := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			b, err := encodeEvent(e)
			if err != nil {
				log.Warn("encode event failed", logx.Event(e.Name), logx.Err(err))
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug("websocket write failed", logx.Err(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeEvent(e eventbus.Event) ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: e.Name, Data: data})
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close refuses new connections and ends every open one.
func (h *Handler) Close(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.sess.End()
	}
	for h.Count() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
