package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dollarnow/internal/bridge"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
)

// Message types exchanged with browser sessions, on top of the bridge types.
const (
	MsgVisibility        bridge.Type = "visibility"
	MsgPermission        bridge.Type = "permission"
	MsgNotificationClick bridge.Type = "notification-click"
	MsgFetchFailed       bridge.Type = "fetch-failed"
	MsgNotification      bridge.Type = "notification"
	MsgNotificationClose bridge.Type = "notification-close"
	MsgRequestPermission bridge.Type = "request-permission"
	MsgFocus             bridge.Type = "focus"
)

const (
	sessionBuffer  = 64
	pingInterval   = 45 * time.Second
	readDeadline   = 90 * time.Second
	permissionWait = 15 * time.Second
)

// ErrNoSessions is returned when a notification has nowhere to go.
var ErrNoSessions = errors.New("no attached sessions")

// Controller is what browser sessions drive on the page.
type Controller interface {
	Attach()
	Detach()
	SetVisible(visible bool)
	Refresh()
	ClickNotification(tag string) bool
}

type session struct {
	conn    *websocket.Conn
	out     chan bridge.Message
	done    chan struct{}
	visible atomic.Bool
}

// Hub fans messages out to browser sessions. It is also the web notification
// surface, with permission state reported by the browsers.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu         sync.RWMutex
	sessions   map[*session]struct{}
	controller Controller
	permission notify.PermissionState
	permNotify chan struct{}
	preview    func(q quote.Quote) QuoteView

	nextID atomic.Int64
}

// NewHub constructs a hub. An empty origin list accepts any origin.
func NewHub(allowedOrigins []string, logger zerolog.Logger) *Hub {
	h := &Hub{
		logger:     logger.With().Str("component", "ws_hub").Logger(),
		sessions:   make(map[*session]struct{}),
		permission: notify.PermissionDefault,
		permNotify: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:       originChecker(allowedOrigins),
		EnableCompression: true,
	}
	return h
}

// Bind attaches the controller driven by sessions and the view builder for quotes.
func (h *Hub) Bind(c Controller, view func(q quote.Quote) QuoteView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controller = c
	h.preview = view
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Sessions reports the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) broadcast(msg bridge.Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		select {
		case s.out <- msg:
		default:
			h.logger.Warn().Str("type", string(msg.Type)).Msg("session queue full, dropping message")
		}
	}
	return len(h.sessions)
}

func (h *Hub) publish(t bridge.Type, data any) int {
	msg, err := bridge.NewMessage(t, data)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode session message")
		return 0
	}
	return h.broadcast(msg)
}

// QuoteUpdated relays a page quote to every session.
func (h *Hub) QuoteUpdated(q quote.Quote) {
	h.mu.RLock()
	view := h.preview
	h.mu.RUnlock()
	if view == nil {
		h.publish(bridge.QuoteUpdated, q)
		return
	}
	h.publish(bridge.QuoteUpdated, view(q))
}

// Focus asks sessions to bring the page to the foreground.
func (h *Hub) Focus() {
	h.publish(MsgFocus, nil)
}

// FetchFailed tells sessions the quote could not be loaded.
func (h *Hub) FetchFailed(err error) {
	h.publish(MsgFetchFailed, map[string]string{"error": err.Error()})
}

// Show implements notify.Surface.
func (h *Hub) Show(_ context.Context, n notify.Notification) (notify.Handle, error) {
	id := h.nextID.Add(1)
	payload := struct {
		ID int64 `json:"id"`
		notify.Notification
	}{ID: id, Notification: n}
	if h.publish(MsgNotification, payload) == 0 {
		return nil, ErrNoSessions
	}
	return &webHandle{hub: h, id: id, tag: n.Tag}, nil
}

type webHandle struct {
	hub *Hub
	id  int64
	tag string
}

func (wh *webHandle) Close() error {
	if wh.hub.publish(MsgNotificationClose, map[string]any{"id": wh.id, "tag": wh.tag}) == 0 {
		return ErrNoSessions
	}
	return nil
}

// State implements notify.Permission with the last state a browser reported.
func (h *Hub) State() notify.PermissionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.permission
}

// Request asks the sessions for permission and waits for the first answer.
func (h *Hub) Request(ctx context.Context) (notify.PermissionState, error) {
	h.mu.RLock()
	wait := h.permNotify
	h.mu.RUnlock()

	if h.publish(MsgRequestPermission, nil) == 0 {
		return h.State(), nil
	}

	timer := time.NewTimer(permissionWait)
	defer timer.Stop()
	select {
	case <-wait:
	case <-timer.C:
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
	return h.State(), nil
}

func (h *Hub) setPermission(state notify.PermissionState) {
	switch state {
	case notify.PermissionGranted, notify.PermissionDenied, notify.PermissionDefault:
	default:
		return
	}
	h.mu.Lock()
	h.permission = state
	close(h.permNotify)
	h.permNotify = make(chan struct{})
	h.mu.Unlock()
}

func (h *Hub) anyVisible() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.visible.Load() {
			return true
		}
	}
	return false
}

func (h *Hub) getController() Controller {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controller
}

// ServeWS upgrades the request and runs the session until the socket closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s := &session{conn: conn, out: make(chan bridge.Message, sessionBuffer), done: make(chan struct{})}
	s.visible.Store(true)
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	ctrl := h.getController()
	if ctrl != nil {
		ctrl.SetVisible(true)
		ctrl.Attach()
	}

	go h.writeLoop(s)
	if h.State() == notify.PermissionDefault {
		if msg, err := bridge.NewMessage(MsgRequestPermission, nil); err == nil {
			s.out <- msg
		}
	}

	h.readLoop(s, ctrl)

	close(s.done)
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	if ctrl != nil {
		ctrl.SetVisible(h.anyVisible())
		ctrl.Detach()
	}
}

func (h *Hub) writeLoop(s *session) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-s.out:
			if err := s.conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("websocket write failed")
			}
		case <-ping.C:
			_ = s.conn.WriteMessage(websocket.PingMessage, nil)
		case <-s.done:
			return
		}
	}
}

func (h *Hub) readLoop(s *session, ctrl Controller) {
	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		if mt != websocket.TextMessage {
			continue
		}
		var msg bridge.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug().Err(err).Msg("invalid session message")
			continue
		}
		if err := h.handle(s, ctrl, msg); err != nil {
			h.logger.Debug().Err(err).Str("type", string(msg.Type)).Msg("session message rejected")
		}
	}
}

func (h *Hub) handle(s *session, ctrl Controller, msg bridge.Message) error {
	switch msg.Type {
	case MsgVisibility:
		var payload struct {
			Visible bool `json:"visible"`
		}
		if err := msg.Decode(&payload); err != nil {
			return err
		}
		s.visible.Store(payload.Visible)
		if ctrl != nil {
			ctrl.SetVisible(h.anyVisible())
		}
	case MsgPermission:
		var state string
		if err := msg.Decode(&state); err != nil {
			return err
		}
		h.setPermission(notify.PermissionState(state))
	case MsgNotificationClick:
		var payload struct {
			Tag string `json:"tag"`
		}
		if err := msg.Decode(&payload); err != nil {
			return err
		}
		if ctrl != nil {
			ctrl.ClickNotification(payload.Tag)
		}
	case bridge.ForceUpdate:
		if ctrl != nil {
			ctrl.Refresh()
		}
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

var (
	_ notify.Surface    = (*Hub)(nil)
	_ notify.Permission = (*Hub)(nil)
)
