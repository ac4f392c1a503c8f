// Package server exposes the device-to-device sync endpoints: pairing,
// health probing, inbound event delivery, and a status view.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/sync"
)

const deviceIDContextKey = "cadence_device_id"

var (
	errMissingPairingManager = errors.New("pairing manager dependency required")
	errMissingSyncEngine     = errors.New("sync engine dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// PairingManager validates pairing secrets and manages session tokens.
type PairingManager interface {
	VerifySecret(presented string) error
	IssuePairingToken(deviceID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// SyncEngine is the subset of the engine the transport surface needs.
type SyncEngine interface {
	HandleInbound(ctx context.Context, event sync.Event) error
	Role() sync.Role
	Reachable() bool
	ActivationState() sync.ActivationState
	QueueDepth(ctx context.Context) (int, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	Pairing PairingManager
	Engine  SyncEngine
	Logger  *zap.Logger
}

// NewHTTPHandler builds the gin router for the sync agent.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Pairing == nil {
		return nil, errMissingPairingManager
	}
	if deps.Engine == nil {
		return nil, errMissingSyncEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		pairing: deps.Pairing,
		engine:  deps.Engine,
		logger:  logger,
	}

	router.GET("/v1/healthz", handler.handleHealthz)
	router.POST("/v1/pair", handler.handlePair)

	protected := router.Group("/v1")
	protected.Use(handler.authorizeRequest)
	protected.POST("/events", handler.handleEvent)
	protected.GET("/status", handler.handleStatus)

	return router, nil
}

type httpHandler struct {
	pairing PairingManager
	engine  SyncEngine
	logger  *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"role":   string(h.engine.Role()),
	})
}

type pairRequestPayload struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

type pairResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handlePair(c *gin.Context) {
	var request pairRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.pairing.VerifySecret(request.Secret); err != nil {
		h.logger.Warn("pairing secret rejected",
			zap.String("device_id", request.DeviceID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.pairing.IssuePairingToken(request.DeviceID)
	if err != nil {
		h.logger.Error("failed to issue pairing token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, pairResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := sync.DecodeEvent(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}

	if err := h.engine.HandleInbound(c.Request.Context(), event); err != nil {
		h.logger.Error("inbound event rejected",
			zap.String("event_type", string(event.Type)),
			zap.String("peer_device", c.GetString(deviceIDContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply_failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type statusResponsePayload struct {
	Role       string `json:"role"`
	Reachable  bool   `json:"reachable"`
	Activation string `json:"activation"`
	QueueDepth int    `json:"queue_depth"`
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	depth, err := h.engine.QueueDepth(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read queue depth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	c.JSON(http.StatusOK, statusResponsePayload{
		Role:       string(h.engine.Role()),
		Reachable:  h.engine.Reachable(),
		Activation: h.engine.ActivationState().String(),
		QueueDepth: depth,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	deviceID, err := h.pairing.ValidateToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, deviceID)
	c.Next()
}
