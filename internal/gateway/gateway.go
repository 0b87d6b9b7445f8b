package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aetherchat/aether/internal/auth"
	"github.com/aetherchat/aether/internal/metrics"
	"github.com/aetherchat/aether/internal/pipeline"
	"github.com/aetherchat/aether/internal/users"
)

// Handshake rejection errors. The exact messages are part of the
// client contract.
var (
	ErrNoToken          = errors.New("Authentication error: No token provided")
	ErrInvalidToken     = errors.New("Authentication error: Invalid token")
	ErrUnknownPrincipal = errors.New("Authentication error: User not found")
)

// Processor runs the message pipeline for one inbound message.
type Processor interface {
	Process(ctx context.Context, principalID, chatID uuid.UUID, content string, emit pipeline.Emitter)
}

// Gateway upgrades websocket connections, admits authenticated
// principals, and dispatches their messages into the pipeline.
type Gateway struct {
	authSvc   *auth.Service
	userSvc   *users.Service
	processor Processor
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	// inflight bounds concurrent pipeline work across all connections.
	inflight chan struct{}

	mu          sync.RWMutex
	connections map[string]*Connection
	draining    bool
}

// New creates a Gateway. allowedOrigins mirrors the HTTP CORS list; an
// empty list admits any origin.
func New(authSvc *auth.Service, userSvc *users.Service, processor Processor, maxInFlight int, allowedOrigins []string, logger *slog.Logger) *Gateway {
	g := &Gateway{
		authSvc:     authSvc,
		userSvc:     userSvc,
		processor:   processor,
		logger:      logger,
		inflight:    make(chan struct{}, maxInFlight),
		connections: make(map[string]*Connection),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return g
}

// Connect is the HTTP handler for the websocket endpoint.
func (g *Gateway) Connect(w http.ResponseWriter, r *http.Request) {
	principalID, err := g.admit(r)
	if err != nil {
		reason := "invalid_token"
		switch {
		case errors.Is(err, ErrNoToken):
			reason = "no_token"
		case errors.Is(err, ErrUnknownPrincipal):
			reason = "unknown_principal"
		}
		metrics.GatewayRejectionsTotal.WithLabelValues(reason).Inc()
		g.logger.Warn("websocket handshake rejected", "reason", reason)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newConnection(ws, principalID)
	if !g.register(conn) {
		ws.Close()
		return
	}

	g.logger.Info("websocket connected", "connection_id", conn.ID, "principal_id", principalID)
	metrics.GatewayConnections.Inc()

	go g.writePump(conn)
	go g.readPump(conn)
}

// admit authenticates the handshake from the access token cookie.
func (g *Gateway) admit(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(auth.TokenCookie)
	if err != nil || cookie.Value == "" {
		return uuid.Nil, ErrNoToken
	}

	claims, err := g.authSvc.ValidateAccessToken(cookie.Value)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	principalID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	user, err := g.userSvc.GetByID(r.Context(), principalID)
	if err != nil || user == nil {
		return uuid.Nil, ErrUnknownPrincipal
	}

	return principalID, nil
}

func (g *Gateway) register(conn *Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.connections[conn.ID] = conn
	return true
}

func (g *Gateway) unregister(conn *Connection) {
	g.mu.Lock()
	_, ok := g.connections[conn.ID]
	delete(g.connections, conn.ID)
	g.mu.Unlock()

	if ok {
		conn.shutdown()
		metrics.GatewayConnections.Dec()
		g.logger.Info("websocket disconnected", "connection_id", conn.ID)
	}
}

// Close rejects new connections and tears down existing ones. Called
// on server shutdown before the pipeline drains.
func (g *Gateway) Close(_ context.Context) {
	g.mu.Lock()
	g.draining = true
	conns := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		c.ws.Close()
	}
}

func (g *Gateway) readPump(conn *Connection) {
	defer func() {
		g.unregister(conn)
		conn.ws.Close()
	}()

	conn.ws.SetReadLimit(maxFrameBytes)
	conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Warn("websocket read failed", "connection_id", conn.ID, "error", err)
			}
			return
		}
		g.handleFrame(conn, frame)
	}
}

func (g *Gateway) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Warn("websocket write failed", "connection_id", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) handleFrame(conn *Connection, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		conn.enqueue(envelope(EventResponseError, ErrorPayload{Error: "invalid message frame"}))
		return
	}

	switch env.Event {
	case EventMessage:
		g.handleMessage(conn, env.Data)
	default:
		conn.enqueue(envelope(EventResponseError, ErrorPayload{Error: "unknown event: " + env.Event}))
	}
}

func (g *Gateway) handleMessage(conn *Connection, data json.RawMessage) {
	chatID, content, err := parseMessage(data)
	if err != nil {
		conn.enqueue(envelope(EventResponseError, ErrorPayload{Error: err.Error()}))
		return
	}

	emit := &connEmitter{conn: conn, chat: chatID.String()}

	select {
	case g.inflight <- struct{}{}:
	default:
		// The in-flight budget is spent. Refusing immediately keeps
		// the read loop responsive.
		emit.Error("Too many messages in flight, try again shortly")
		return
	}

	go func() {
		defer func() { <-g.inflight }()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		g.processor.Process(ctx, conn.PrincipalID, chatID, content, emit)
	}()
}

// connEmitter delivers one pipeline outcome onto a connection.
type connEmitter struct {
	conn *Connection
	chat string
}

func (e *connEmitter) Reply(content string) {
	e.conn.enqueue(envelope(EventResponse, ResponsePayload{Content: content, Chat: e.chat}))
}

func (e *connEmitter) Error(message string) {
	e.conn.enqueue(envelope(EventResponseError, ErrorPayload{Error: message}))
}

func (e *connEmitter) StreamStart() {
	e.conn.enqueue(envelope(EventStreamStart, StreamMarkerPayload{Chat: e.chat}))
}

func (e *connEmitter) StreamChunk(chunk string) {
	e.conn.enqueue(envelope(EventStreamChunk, ChunkPayload{Chunk: chunk, Chat: e.chat}))
}

func (e *connEmitter) StreamEnd(content string) {
	e.conn.enqueue(envelope(EventStreamEnd, ResponsePayload{Content: content, Chat: e.chat}))
}
