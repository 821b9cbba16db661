package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pramodkumar0813/DI-Skill-Bridge/config"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/bus"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/logger"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
	"github.com/rs/zerolog"
)

const (
	maxFrameSize = 64 << 10
	// Close frame reasons are limited to 123 bytes by RFC 6455.
	maxCloseReason = 123
)

// Sessions authenticates connections.
type Sessions interface {
	Connect() string
	Authenticate(ctx context.Context, handle, credential string, claimedRole models.Role, displayName string) (models.Identity, error)
}

// Classroom is the set of room actions a connection can request.
type Classroom interface {
	Join(ctx context.Context, handle, roomID string) (models.RoomSnapshot, error)
	Leave(ctx context.Context, handle, roomID string) error
	SendMessage(ctx context.Context, handle string, msg models.Request) error
	RaiseHand(ctx context.Context, handle, roomID string, raised bool) error
	Mute(ctx context.Context, handle, roomID, target string) error
	Unmute(ctx context.Context, handle, roomID, target string) error
	Disconnect(ctx context.Context, handle string)
}

// Connections is where sockets are registered for event delivery.
type Connections interface {
	Register(handle string, s bus.Sender)
	Unregister(handle string)
}

// Handler serves classroom websocket connections.
type Handler struct {
	sessions Sessions
	rooms    Classroom
	conns    Connections
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

// NewHandler returns a Handler that authenticates through sessions, applies
// room actions through rooms and registers sockets with conns.
func NewHandler(sessions Sessions, rooms Classroom, conns Connections, cfg config.WebSocketConfig) *Handler {
	return &Handler{
		sessions: sessions,
		rooms:    rooms,
		conns:    conns,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
		log:     logger.Module("websocket"),
		clients: make(map[string]*Client),
	}
}

// Client is one websocket connection.
type Client struct {
	handle string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	authed bool
	log    zerolog.Logger
}

// Deliver queues frame for the write pump without blocking.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// HandleClassroom serves /ws/classroom. The room, if any, comes from the
// sessionId query parameter.
func (h *Handler) HandleClassroom(c *gin.Context) {
	h.serve(c, strings.TrimSpace(c.Query("sessionId")))
}

// HandleClass serves /ws/class/:roomId.
func (h *Handler) HandleClass(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}
	h.serve(c, roomID)
}

func (h *Handler) serve(c *gin.Context, roomID string) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	role := models.Role(c.Query("userRole"))
	name := c.Query("userName")

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	handle := h.sessions.Connect()
	client := &Client{
		handle: handle,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		log:    h.log.With().Str("handle", handle).Logger(),
	}
	h.conns.Register(handle, client)
	h.mu.Lock()
	h.clients[handle] = client
	h.mu.Unlock()
	client.log.Debug().Str("remote", c.ClientIP()).Msg("connection opened")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writePump(client)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(client, token, role, name, roomID)
	}()
}

// Shutdown closes every open connection with a going-away frame and waits
// for their cleanup to finish or ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	open := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		open = append(open, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range open {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
		c.conn.Close()
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump owns the connection's request stream. Requests are handled in
// arrival order and cleanup runs here once the stream ends.
func (h *Handler) readPump(c *Client, token string, role models.Role, name, roomID string) {
	ctx := context.Background()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.handle)
		h.mu.Unlock()
		h.conns.Unregister(c.handle)
		h.rooms.Disconnect(ctx, c.handle)
		close(c.done)
		c.conn.Close()
		c.log.Debug().Msg("connection closed")
	}()

	if token != "" {
		if !h.dispatch(ctx, c, models.Authenticate{Token: token, Role: role, UserName: name}) {
			return
		}
		if roomID != "" && !h.dispatch(ctx, c, models.JoinRoom{RoomID: roomID}) {
			return
		}
	}

	// An unauthenticated connection gets one ReadTimeout to authenticate;
	// pongs only extend the deadline after that.
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		if c.authed {
			c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		req, err := models.DecodeRequest(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		wasAuthed := c.authed
		if !h.dispatch(ctx, c, req) {
			return
		}

		// A room named at connect is joined once the connection authenticates.
		if !wasAuthed && c.authed {
			c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
			if roomID != "" && !h.dispatch(ctx, c, models.JoinRoom{RoomID: roomID}) {
				return
			}
		}
	}
}

// dispatch runs one request. It returns false when the connection has been
// closed as a result.
func (h *Handler) dispatch(ctx context.Context, c *Client, req models.Request) bool {
	if _, ok := req.(models.Authenticate); !ok && !c.authed {
		h.closeWith(c, models.ErrNotAuthenticated)
		return false
	}

	var err error
	switch r := req.(type) {
	case models.Authenticate:
		_, err = h.sessions.Authenticate(ctx, c.handle, r.Token, r.Role, r.UserName)
		if err != nil && !errors.Is(err, models.ErrAlreadyAuthenticated) {
			h.closeWith(c, err)
			return false
		}
		if err == nil {
			c.authed = true
			c.log.Info().Str("role", string(r.Role)).Msg("connection authenticated")
		}
	case models.JoinRoom:
		if _, err = h.rooms.Join(ctx, c.handle, r.RoomID); err != nil {
			h.closeWith(c, err)
			return false
		}
	case models.LeaveRoom:
		err = h.rooms.Leave(ctx, c.handle, r.RoomID)
	case models.Chat, models.Emoji, models.Signal:
		err = h.rooms.SendMessage(ctx, c.handle, req)
	case models.RaiseHand:
		err = h.rooms.RaiseHand(ctx, c.handle, r.RoomID, r.Raised)
	case models.Mute:
		err = h.rooms.Mute(ctx, c.handle, r.RoomID, r.Target)
	case models.Unmute:
		err = h.rooms.Unmute(ctx, c.handle, r.RoomID, r.Target)
	default:
		err = models.ErrUnknownRequest
	}

	h.report(c, req.Kind(), err)
	return true
}

// report tells the caller why an action failed. Invalid content is dropped
// without a reply.
func (h *Handler) report(c *Client, kind models.RequestType, err error) {
	if err == nil {
		return
	}
	category := models.KindOf(err)
	if category == models.KindValidation {
		c.log.Debug().Err(err).Str("request", string(kind)).Msg("request dropped")
		return
	}
	if category == models.KindInternal || category == models.KindTransient {
		c.log.Error().Err(err).Str("request", string(kind)).Msg("request failed")
	} else {
		c.log.Info().Err(err).Str("request", string(kind)).Msg("request rejected")
	}

	frame, mErr := json.Marshal(models.Event{
		Type: models.EventError,
		Payload: models.ErrorPayload{
			Code:    string(category),
			Message: models.Reason(err),
			Request: kind,
		},
	})
	if mErr != nil {
		return
	}
	if !c.Deliver(frame) {
		c.log.Warn().Msg("send buffer full, error reply dropped")
	}
}

// closeWith ends the connection with the close code for err.
func (h *Handler) closeWith(c *Client, err error) {
	code := models.CloseCode(err)
	reason := models.Reason(err)
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	c.log.Info().Err(err).Int("code", code).Msg("closing connection")

	msg := websocket.FormatCloseMessage(code, reason)
	if wErr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout)); wErr != nil {
		c.log.Debug().Err(wErr).Msg("close frame not sent")
	}
}

func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
