package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"policycopilot/internal/auth"
	"policycopilot/internal/service/security"
)

func (h *Handler) listSettings(c *gin.Context) {
	settings, err := h.security.Settings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *Handler) updateSetting(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	setting, err := h.security.SetSetting(c.Request.Context(), c.Param("name"), *req.Enabled, h.actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

func (h *Handler) listEvents(c *gin.Context) {
	filter, err := security.ParseFilter(c.Query("filter"))
	if err != nil {
		h.fail(c, err)
		return
	}
	events, err := h.security.Events(c.Request.Context(), c.Query("q"), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) startAudit(c *gin.Context) {
	scan, err := h.security.StartAudit(h.actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, scan)
}

func (h *Handler) currentAudit(c *gin.Context) {
	scan, ok := h.security.CurrentAudit()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no audit has run"})
		return
	}
	c.JSON(http.StatusOK, scan)
}

func (h *Handler) getAPIKey(c *gin.Context) {
	key, err := h.auth.CurrentKey(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	reveal, _ := strconv.ParseBool(c.Query("reveal"))
	if !reveal {
		key = auth.Mask(key)
	}
	c.JSON(http.StatusOK, gin.H{
		"key":      key,
		"revealed": reveal,
	})
}

func (h *Handler) rotateAPIKey(c *gin.Context) {
	presented, _ := auth.AdminKeyFromContext(c)
	key, err := h.auth.Rotate(c.Request.Context(), h.actor(c), presented)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}
