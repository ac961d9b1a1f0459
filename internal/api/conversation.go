package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"policycopilot/internal/conversation"
	"policycopilot/internal/flow"
	"policycopilot/internal/models"
)

// waitTimeout bounds how long a request may block on a pending turn.
const waitTimeout = 2 * time.Minute

type turnRequest struct {
	Content string `json:"content"`
	Label   string `json:"label"`
	Source  string `json:"source"`
	Wait    bool   `json:"wait"`
}

type turnResponse struct {
	ConversationID string             `json:"conversationId"`
	TurnID         string             `json:"turnId"`
	Source         string             `json:"source"`
	Flow           flow.Key           `json:"flow,omitempty"`
	State          conversation.State `json:"state"`
	UserMessage    models.Message     `json:"userMessage"`
	Reply          *models.Message    `json:"reply,omitempty"`
}

func (h *Handler) getConversation(c *gin.Context) {
	session, err := h.conversations.Active()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (h *Handler) resetConversation(c *gin.Context) {
	session, err := h.conversations.Reset()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.submit(c, req.Content, flow.SourceTyped, req.Wait)
}

func (h *Handler) sendSuggestion(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.submit(c, req.Label, flow.SourceSuggestion, req.Wait)
}

// submit starts a turn. Without wait the response is 202 with the turn still
// pending; with wait it blocks until the reply lands.
func (h *Handler) submit(c *gin.Context, text string, src flow.Source, wait bool) {
	session, turn, err := h.conversations.Submit(text, src)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := turnResponse{
		ConversationID: session.ID(),
		TurnID:         turn.ID,
		Source:         src.String(),
		Flow:           turn.Flow,
		State:          conversation.Pending,
		UserMessage:    turn.User,
	}
	if !wait {
		c.JSON(http.StatusAccepted, resp)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), waitTimeout)
	defer cancel()
	reply, err := turn.Wait(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.State = conversation.Idle
	resp.Reply = &reply
	c.JSON(http.StatusOK, resp)
}

// streamTurn submits a turn and streams its lifecycle as server-sent events:
// ack, pending, then done or error.
func (h *Handler) streamTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	text := req.Content
	src := flow.ParseSource(req.Source)
	if strings.TrimSpace(text) == "" && req.Label != "" {
		text = req.Label
		if req.Source == "" {
			src = flow.SourceSuggestion
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	session, turn, err := h.conversations.Submit(text, src)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{
		"conversationId": session.ID(),
		"turnId":         turn.ID,
		"message":        turn.User,
	}); err != nil {
		return
	}
	if err := sendEvent("pending", gin.H{
		"state":  conversation.Pending,
		"source": src.String(),
		"flow":   turn.Flow,
	}); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), waitTimeout)
	defer cancel()
	reply, err := turn.Wait(ctx)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, conversation.ErrSessionClosed) {
			msg = "conversation was reset before the reply arrived"
		}
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}
	_ = sendEvent("done", gin.H{
		"conversationId": session.ID(),
		"turnId":         turn.ID,
		"flow":           turn.Flow,
		"message":        reply,
	})
}

func (h *Handler) listTranscripts(c *gin.Context) {
	workspaceID := strings.TrimSpace(c.Query("workspace"))
	if workspaceID == "" {
		workspaceID = h.workspaces.Current().ID
	}
	list, err := h.transcripts.ListConversations(c.Request.Context(), workspaceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = make([]models.Conversation, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace":     workspaceID,
		"conversations": list,
	})
}

func (h *Handler) getTranscript(c *gin.Context) {
	conv, messages, err := h.transcripts.GetConversationWithMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

func (h *Handler) deleteTranscript(c *gin.Context) {
	if err := h.transcripts.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
