package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
	"playloop/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types sent by the media engine.
const (
	MessageTelemetry      = "telemetry"
	MessageTransfer       = "transfer"
	MessageNetwork        = "network"
	MessageLadder         = "ladder"
	MessageError          = "error"
	MessageRecoveryResult = "recovery_result"
)

var (
	ErrNotConnected  = errors.New("media engine not connected")
	ErrSendQueueFull = errors.New("send queue full")
	ErrNoResult      = errors.New("no recovery result received")
)

const sendQueueSize = 32

type HubConfig struct {
	PingInterval          time.Duration
	PongTimeout           time.Duration
	WriteTimeout          time.Duration
	RecoveryResultTimeout time.Duration
	AllowedOrigins        []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:          30 * time.Second,
		PongTimeout:           60 * time.Second,
		WriteTimeout:          10 * time.Second,
		RecoveryResultTimeout: 15 * time.Second,
		AllowedOrigins:        []string{"*"},
	}
}

// SignalMessage is an inbound message from a media engine.
type SignalMessage struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	AttemptID string           `json:"attempt_id,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Description string `json:"description"`
}

type RecoveryResultPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type outboundError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type client struct {
	sessionID domain.SessionID
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// CommandHub carries commands to remote media engines over WebSocket and
// relays their telemetry into the owning session. It implements
// ports.CommandSink and ports.RecoveryActionProvider.
type CommandHub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	clients map[domain.SessionID]*client
	pending map[string]chan RecoveryResultPayload
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewCommandHub(cfg HubConfig, logger *zap.SugaredLogger) *CommandHub {
	h := &CommandHub{
		cfg:     cfg,
		clients: make(map[domain.SessionID]*client),
		pending: make(map[string]chan RecoveryResultPayload),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *CommandHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeSession upgrades the request and attaches the connection to session
// until either side closes it.
func (h *CommandHub) ServeSession(w http.ResponseWriter, r *http.Request, session ports.PlaybackSession) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		sessionID: session.ID(),
		conn:      conn,
		send:      make(chan interface{}, sendQueueSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	existing, isReconnect := h.clients[c.sessionID]
	h.clients[c.sessionID] = c
	h.mu.Unlock()

	if isReconnect {
		existing.close()
		h.logger.Infow("replacing connection for reconnecting engine", "session_id", c.sessionID)
	}
	h.logger.Infow("media engine connected", "session_id", c.sessionID, "reconnect", isReconnect)

	go h.writePump(c)
	h.readPump(r.Context(), c, session)

	h.mu.Lock()
	if h.clients[c.sessionID] == c {
		delete(h.clients, c.sessionID)
	}
	h.mu.Unlock()
	c.close()

	h.logger.Infow("media engine disconnected", "session_id", c.sessionID)
}

func (h *CommandHub) readPump(ctx context.Context, c *client, session ports.PlaybackSession) {
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	for {
		var msg SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("error reading message from engine", "session_id", c.sessionID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		if err := h.handleMessage(ctx, session, msg); err != nil {
			h.logger.Debugw("error handling message", "session_id", c.sessionID, "type", msg.Type, "error", err)
			h.enqueue(c, outboundError{Type: "error", Message: err.Error()})
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (h *CommandHub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Infow("error writing to engine", "session_id", c.sessionID, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Infow("error sending ping", "session_id", c.sessionID, "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *CommandHub) handleMessage(ctx context.Context, session ports.PlaybackSession, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.SessionID != "" && msg.SessionID != session.ID() {
		return fmt.Errorf("session_id mismatch: expected %s, got %s", session.ID(), msg.SessionID)
	}

	ctx, span := tracing.TraceSignalMessage(ctx, msg.Type, string(session.ID()))
	defer span.End()

	switch msg.Type {
	case MessageTelemetry:
		var t domain.Telemetry
		if err := json.Unmarshal(msg.Payload, &t); err != nil {
			return fmt.Errorf("invalid telemetry payload: %w", err)
		}
		return session.PushTelemetry(t)

	case MessageTransfer:
		var obs domain.TransferObservation
		if err := json.Unmarshal(msg.Payload, &obs); err != nil {
			return fmt.Errorf("invalid transfer payload: %w", err)
		}
		return session.ObserveTransfer(obs)

	case MessageNetwork:
		var nc domain.NetworkClass
		if err := json.Unmarshal(msg.Payload, &nc); err != nil {
			return fmt.Errorf("invalid network payload: %w", err)
		}
		return session.UpdateNetworkClass(nc)

	case MessageLadder:
		var ladder []domain.StreamQuality
		if err := json.Unmarshal(msg.Payload, &ladder); err != nil {
			return fmt.Errorf("invalid ladder payload: %w", err)
		}
		return session.SetLadder(ladder)

	case MessageError:
		var payload ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid error payload: %w", err)
		}
		// Recovery may wait on a recovery_result read by this same loop.
		go func() {
			if err := session.ReportError(context.WithoutCancel(ctx), payload.Description); err != nil {
				h.logger.Debugw("recovery not started", "session_id", session.ID(), "error", err)
			}
		}()
		return nil

	case MessageRecoveryResult:
		var payload RecoveryResultPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid recovery_result payload: %w", err)
		}
		return h.resolveAttempt(msg.AttemptID, payload)

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (h *CommandHub) resolveAttempt(attemptID string, result RecoveryResultPayload) error {
	h.mu.Lock()
	ch, ok := h.pending[attemptID]
	delete(h.pending, attemptID)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown recovery attempt: %s", attemptID)
	}
	ch <- result
	return nil
}

// Deliver queues cmd for the session's engine. Commands for sessions without
// a connection, or with a full queue, are dropped.
func (h *CommandHub) Deliver(cmd domain.Command) {
	if err := h.send(cmd.SessionID, cmd); err != nil {
		h.logger.Warnw("command dropped",
			"session_id", cmd.SessionID,
			"type", cmd.Type,
			"quality_id", cmd.QualityID,
			"error", err,
		)
	}
}

func (h *CommandHub) send(sessionID domain.SessionID, msg interface{}) error {
	h.mu.RLock()
	c, ok := h.clients[sessionID]
	h.mu.RUnlock()

	if !ok {
		return ErrNotConnected
	}
	if !h.enqueue(c, msg) {
		return ErrSendQueueFull
	}
	return nil
}

func (h *CommandHub) enqueue(c *client, msg interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// RecoveryAction returns an action that sends a recover command to the
// session's engine and waits for the matching recovery_result.
func (h *CommandHub) RecoveryAction(sessionID domain.SessionID, reason string) ports.RecoveryAction {
	return func(ctx context.Context) error {
		attemptID := uuid.NewString()
		result := make(chan RecoveryResultPayload, 1)

		h.mu.Lock()
		h.pending[attemptID] = result
		h.mu.Unlock()

		defer func() {
			h.mu.Lock()
			delete(h.pending, attemptID)
			h.mu.Unlock()
		}()

		cmd := domain.Command{
			Type:      domain.CommandRecover,
			SessionID: sessionID,
			Reason:    reason,
			AttemptID: attemptID,
			Timestamp: time.Now(),
		}
		if err := h.send(sessionID, cmd); err != nil {
			return fmt.Errorf("send recover command: %w", err)
		}

		timer := time.NewTimer(h.cfg.RecoveryResultTimeout)
		defer timer.Stop()

		select {
		case res := <-result:
			if !res.Success {
				return fmt.Errorf("engine reported recovery failure: %s", res.Error)
			}
			return nil
		case <-timer.C:
			return ErrNoResult
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsConnected reports whether an engine is attached to the session.
func (h *CommandHub) IsConnected(sessionID domain.SessionID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[sessionID]
	return ok
}

func (h *CommandHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// CloseSession disconnects the session's engine, if any.
func (h *CommandHub) CloseSession(sessionID domain.SessionID) {
	h.mu.Lock()
	c, ok := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	if ok {
		c.close()
	}
}

// CloseAll disconnects every engine.
func (h *CommandHub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[domain.SessionID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
