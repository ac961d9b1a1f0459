package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"policycopilot/internal/auth"
	"policycopilot/internal/conversation"
	"policycopilot/internal/flow"
	"policycopilot/internal/logger"
	"policycopilot/internal/models"
	"policycopilot/internal/service/assistant"
	"policycopilot/internal/service/library"
	"policycopilot/internal/service/security"
	"policycopilot/internal/worker"
	"policycopilot/internal/workspace"
)

// Workspaces is the workspace and profile state the handlers read and change.
type Workspaces interface {
	Available() []models.Workspace
	Current() models.Workspace
	Switch(ctx context.Context, id string) (models.Workspace, error)
	Profile(ctx context.Context) (models.UserProfile, error)
	UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.UserProfile, error)
}

// Conversations owns the live inquiry session.
type Conversations interface {
	Active() (*conversation.Session, error)
	Submit(text string, src flow.Source) (*conversation.Session, *conversation.Turn, error)
	Reset() (*conversation.Session, error)
}

// Deps groups the services the HTTP layer is built on.
type Deps struct {
	Workspaces    Workspaces
	Conversations Conversations
	Transcripts   *assistant.Service
	Library       *library.Service
	Security      *security.Service
	Auth          *auth.Service
	Log           *zap.Logger
}

// Handler wires HTTP routes to the copilot services.
type Handler struct {
	workspaces    Workspaces
	conversations Conversations
	transcripts   *assistant.Service
	library       *library.Service
	security      *security.Service
	auth          *auth.Service
	log           *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		workspaces:    d.Workspaces,
		conversations: d.Conversations,
		transcripts:   d.Transcripts,
		library:       d.Library,
		security:      d.Security,
		auth:          d.Auth,
		log:           log,
	}
}

// NewRouter builds a gin engine with request logging, panic recovery and all routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(logger.GinMiddleware(h.log.Named("http")), gin.Recovery())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.GET("/flows", h.listFlows)
	api.GET("/workspaces", h.listWorkspaces)
	api.POST("/workspaces/switch", h.switchWorkspace)
	api.GET("/profile", h.getProfile)
	api.PATCH("/profile", h.updateProfile)

	api.GET("/conversation", h.getConversation)
	api.POST("/conversation/messages", h.sendMessage)
	api.POST("/conversation/suggestions", h.sendSuggestion)
	api.POST("/conversation/stream", h.streamTurn)
	api.POST("/conversation/reset", h.resetConversation)

	api.GET("/conversations", h.listTranscripts)
	api.GET("/conversations/:id/messages", h.getTranscript)
	api.DELETE("/conversations/:id", h.deleteTranscript)

	api.GET("/documents", h.listDocuments)
	api.POST("/documents", h.uploadDocument)
	api.DELETE("/documents", h.deleteDocuments)
	api.GET("/evidence", h.getEvidence)

	admin := api.Group("/admin", h.auth.Middleware())
	admin.GET("/security/settings", h.listSettings)
	admin.PUT("/security/settings/:name", h.updateSetting)
	admin.GET("/security/events", h.listEvents)
	admin.POST("/security/audits", h.startAudit)
	admin.GET("/security/audits/current", h.currentAudit)
	admin.GET("/apikey", h.getAPIKey)
	admin.POST("/apikey/rotate", h.rotateAPIKey)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ruleView struct {
	Key  flow.Key `json:"key"`
	Any  []string `json:"any"`
	None []string `json:"none,omitempty"`
}

func (h *Handler) listFlows(c *gin.Context) {
	rules := flow.Rules()
	views := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, ruleView{Key: r.Key, Any: r.Any, None: r.None})
	}
	c.JSON(http.StatusOK, gin.H{
		"flows": flow.Table(),
		"rules": views,
	})
}

func (h *Handler) listWorkspaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"workspaces": h.workspaces.Available(),
		"current":    h.workspaces.Current(),
	})
}

func (h *Handler) switchWorkspace(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace id is required"})
		return
	}
	ws, err := h.workspaces.Switch(c.Request.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		h.fail(c, err)
		return
	}
	// subscribers run synchronously, so the active session already belongs to ws
	session, err := h.conversations.Active()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current":      ws,
		"conversation": session.Snapshot(),
	})
}

func (h *Handler) getProfile(c *gin.Context) {
	profile, err := h.workspaces.Profile(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace": h.workspaces.Current().ID,
		"profile":   profile,
	})
}

func (h *Handler) updateProfile(c *gin.Context) {
	var patch models.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	profile, err := h.workspaces.UpdateProfile(c.Request.Context(), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace": h.workspaces.Current().ID,
		"profile":   profile,
	})
}

// actor names the current user in audit records.
func (h *Handler) actor(c *gin.Context) string {
	profile, err := h.workspaces.Profile(c.Request.Context())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(profile.FirstName + " " + profile.LastName)
}

// fail maps service errors to status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrEmptyInput),
		errors.Is(err, security.ErrInvalidFilter),
		errors.Is(err, library.ErrNoDocuments),
		errors.Is(err, library.ErrNoFileName),
		errors.Is(err, library.ErrUnsupportedType),
		errors.Is(err, library.ErrPageRange):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidKey):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "not found"
	case errors.Is(err, workspace.ErrUnknownWorkspace),
		errors.Is(err, security.ErrUnknownSetting),
		errors.Is(err, library.ErrNoEvidence):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conversation.ErrTurnPending),
		errors.Is(err, conversation.ErrSessionClosed),
		errors.Is(err, security.ErrScanRunning):
		return http.StatusConflict, err.Error()
	case errors.Is(err, library.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
