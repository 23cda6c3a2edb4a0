package http

import (
	"context"
	"net/http"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
	"playloop/internal/core/services"
	"playloop/internal/infrastructure/middleware"
	"playloop/pkg/errors"
	"playloop/pkg/validation"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// CommandConnector attaches a remote media engine to its session.
type CommandConnector interface {
	ServeSession(w http.ResponseWriter, r *http.Request, session ports.PlaybackSession)
	CloseSession(sessionID domain.SessionID)
}

// MediaNegotiator accepts WebRTC media for a session.
type MediaNegotiator interface {
	Negotiate(ctx context.Context, session ports.PlaybackSession, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	Close(sessionID domain.SessionID)
}

type SessionHandler struct {
	sessions  ports.SessionService
	auth      services.AuthService
	connector CommandConnector
	media     MediaNegotiator
	logger    *zap.SugaredLogger
}

func NewSessionHandler(
	sessions ports.SessionService,
	auth services.AuthService,
	connector CommandConnector,
	media MediaNegotiator,
	logger *zap.SugaredLogger,
) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		auth:      auth,
		connector: connector,
		media:     media,
		logger:    logger,
	}
}

// SetupRoutes registers the session API. ingest is applied to the
// high-frequency telemetry routes only.
func (h *SessionHandler) SetupRoutes(router *gin.Engine, ingest ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)

		session := api.Group("/sessions/:id", middleware.SessionAuthMiddleware(h.auth))
		{
			session.GET("", h.GetSnapshot)
			session.DELETE("", h.CloseSession)
			session.POST("/token", h.RefreshToken)

			session.PUT("/network", h.UpdateNetwork)
			session.PUT("/ladder", h.SetLadder)
			session.PUT("/quality", h.SetQuality)
			session.POST("/errors", h.ReportError)
			session.POST("/recovery/reset", h.ResetRecovery)

			session.GET("/ws", h.Connect)
			session.POST("/webrtc/offer", h.NegotiateMedia)

			telemetry := session.Group("", ingest...)
			telemetry.POST("/telemetry", h.PushTelemetry)
			telemetry.POST("/transfers", h.ObserveTransfers)
		}
	}
}

type CreateSessionRequest struct {
	Ladder       []domain.StreamQuality `json:"ladder"`
	Capabilities domain.Capabilities    `json:"capabilities"`
}

type CreateSessionResponse struct {
	SessionID domain.SessionID       `json:"session_id"`
	Token     string                 `json:"token"`
	Snapshot  domain.SessionSnapshot `json:"snapshot"`
}

func validateLadder(ladder []domain.StreamQuality) error {
	if err := validation.ValidateLadderSize(len(ladder)); err != nil {
		return err
	}
	for _, q := range ladder {
		if err := validation.ValidateQualityID(q.ID); err != nil {
			return err
		}
	}
	return nil
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validateLadder(req.Ladder); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateEffectiveType(req.Capabilities.Network.EffectiveType); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	created, err := h.sessions.CreateSession(c.Request.Context(), req.Ladder, req.Capabilities)
	if err != nil {
		c.Error(err)
		return
	}

	snap, err := created.Session.Snapshot()
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: created.Session.ID(),
		Token:     created.Token,
		Snapshot:  snap,
	})
}

// session resolves the session admitted by the auth middleware. On failure
// the error is attached to c.
func (h *SessionHandler) session(c *gin.Context) (ports.PlaybackSession, bool) {
	id, ok := middleware.SessionID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("session not authorized"))
		return nil, false
	}
	session, err := h.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := session.Snapshot()
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	id, ok := middleware.SessionID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("session not authorized"))
		return
	}
	if err := h.sessions.CloseSession(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	if h.connector != nil {
		h.connector.CloseSession(id)
	}
	if h.media != nil {
		h.media.Close(id)
	}

	h.logger.Infow("playback session closed", "session_id", id)
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) PushTelemetry(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var t domain.Telemetry
	if err := c.ShouldBindJSON(&t); err != nil {
		c.Error(errors.NewInvalidInputError("invalid telemetry format"))
		return
	}
	if err := session.PushTelemetry(t); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ObserveTransfers accepts a batch of completed fetches.
func (h *SessionHandler) ObserveTransfers(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var batch []domain.TransferObservation
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.Error(errors.NewInvalidInputError("expected an array of transfers"))
		return
	}
	for _, obs := range batch {
		if obs.Bytes < 0 {
			c.Error(errors.NewInvalidInputError("transfer bytes must be >= 0"))
			return
		}
	}
	for _, obs := range batch {
		if err := session.ObserveTransfer(obs); err != nil {
			c.Error(err)
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(batch)})
}

func (h *SessionHandler) UpdateNetwork(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var nc domain.NetworkClass
	if err := c.ShouldBindJSON(&nc); err != nil {
		c.Error(errors.NewInvalidInputError("invalid network class format"))
		return
	}
	if err := validation.ValidateEffectiveType(nc.EffectiveType); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := session.UpdateNetworkClass(nc); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) SetLadder(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var ladder []domain.StreamQuality
	if err := c.ShouldBindJSON(&ladder); err != nil {
		c.Error(errors.NewInvalidInputError("expected an array of qualities"))
		return
	}
	if err := validateLadder(ladder); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := session.SetLadder(ladder); err != nil {
		c.Error(err)
		return
	}
	snap, err := session.Snapshot()
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ladder": snap.Ladder, "abr": snap.ABR})
}

type SetQualityRequest struct {
	QualityID string `json:"quality_id" binding:"required"`
}

func (h *SessionHandler) SetQuality(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req SetQualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("quality_id is required"))
		return
	}
	if err := validation.ValidateQualityID(req.QualityID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := session.SetManualQuality(req.QualityID); err != nil {
		c.Error(err)
		return
	}
	snap, err := session.Snapshot()
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap.ABR)
}

type ReportErrorRequest struct {
	Description string `json:"description" binding:"required"`
}

// ReportError records a playback error and schedules a recovery attempt.
func (h *SessionHandler) ReportError(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req ReportErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("description is required"))
		return
	}
	if err := validation.ValidateDescription(req.Description); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	// Recovery outlives the request.
	if err := session.ReportError(context.WithoutCancel(c.Request.Context()), req.Description); err != nil {
		c.Error(err)
		return
	}
	snap, err := session.Snapshot()
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, snap.Recovery)
}

func (h *SessionHandler) ResetRecovery(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.ResetRecovery(); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Connect upgrades to the command WebSocket.
func (h *SessionHandler) Connect(c *gin.Context) {
	if h.connector == nil {
		c.Error(errors.NewServiceUnavailableError("command channel not available"))
		return
	}
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.connector.ServeSession(c.Writer, c.Request, session)
}

func (h *SessionHandler) NegotiateMedia(c *gin.Context) {
	if h.media == nil {
		c.Error(errors.NewServiceUnavailableError("webrtc ingest not available"))
		return
	}
	session, ok := h.session(c)
	if !ok {
		return
	}
	var offer webrtc.SessionDescription
	if err := c.ShouldBindJSON(&offer); err != nil || offer.Type != webrtc.SDPTypeOffer {
		c.Error(errors.NewInvalidInputError("expected an SDP offer"))
		return
	}

	answer, err := h.media.Negotiate(c.Request.Context(), session, offer)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, "webrtc negotiation failed", http.StatusBadRequest))
		return
	}
	c.JSON(http.StatusOK, answer)
}
