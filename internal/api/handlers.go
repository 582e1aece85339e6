package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clinicgo/internal/clinical"
	"clinicgo/internal/models"
	"clinicgo/internal/reconciler"
	"clinicgo/internal/session"
)

// searchRequestTimeout bounds the whole SSE request, engine call included.
// It is transport policy for the HTTP boundary: the engine owns its own
// provider timeouts and retry is always user-initiated, so this only stops
// a dead connection from pinning the pass forever.
const searchRequestTimeout = 2 * time.Minute

// Reconciling runs one reconciliation pass per trigger.
type Reconciling interface {
	Resolve(ctx context.Context, trig models.Trigger, hooks reconciler.StreamHooks) (*reconciler.Outcome, error)
}

// Handler wires HTTP routes to the composer, the conversation store and the
// reconciler.
type Handler struct {
	composer *clinical.Composer
	store    *session.Store
	rec      Reconciling
}

// NewHandler constructs a Handler instance.
func NewHandler(composer *clinical.Composer, store *session.Store, rec Reconciling) *Handler {
	return &Handler{composer: composer, store: store, rec: rec}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/actions/quick", h.quickAction)
	api.POST("/actions/dosing", h.dosingAction)
	api.POST("/actions/differential", h.differentialAction)
	api.POST("/history/click", h.historyClick)
	api.GET("/conversation", h.getConversation)
	api.GET("/history", h.getHistory)
	api.POST("/conversation/reset", h.resetConversation)
	api.POST("/crcl", h.calculateCrCl)
}

type quickActionRequest struct {
	Kind    models.ActionKind `json:"kind"`
	Disease string            `json:"disease"`
}

func (h *Handler) quickAction(c *gin.Context) {
	var req quickActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prompt, err := h.composer.QuickAction(req.Kind, req.Disease)
	if err != nil {
		h.rejectCompose(c, err)
		return
	}
	h.runSearch(c, prompt)
}

type dosingActionRequest struct {
	Drug       string               `json:"drug"`
	Indication string               `json:"indication"`
	Patient    models.PatientParams `json:"patient"`
}

func (h *Handler) dosingAction(c *gin.Context) {
	var req dosingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prompt, err := h.composer.DrugDosing(req.Drug, req.Indication, req.Patient)
	if err != nil {
		h.rejectCompose(c, err)
		return
	}
	h.runSearch(c, prompt)
}

type differentialActionRequest struct {
	Symptoms    string `json:"symptoms"`
	LabFindings string `json:"lab_findings"`
}

func (h *Handler) differentialAction(c *gin.Context) {
	var req differentialActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prompt, err := h.composer.Differential(req.Symptoms, req.LabFindings)
	if err != nil {
		h.rejectCompose(c, err)
		return
	}
	h.runSearch(c, prompt)
}

// rejectCompose maps composition failures to an inline warning. Validation
// errors never mutate state and never reach the engine.
func (h *Handler) rejectCompose(c *gin.Context, err error) {
	if errors.Is(err, clinical.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// runSearch resolves a NewSearch trigger and streams the pass over SSE:
// ack with the appended user turn, stream events with accumulated engine
// output, then done (or error) with the render plan.
func (h *Handler) runSearch(c *gin.Context, prompt models.Prompt) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), searchRequestTimeout)
	defer cancel()

	trig := models.Trigger{Type: models.TriggerNewSearch, Label: prompt.Label, Query: prompt.Query}
	hooks := reconciler.StreamHooks{
		OnUser: func(m models.Message) error {
			return sendEvent("ack", gin.H{"message": m})
		},
		OnChunk: func(chunk string) error {
			return sendEvent("stream", gin.H{"content": chunk})
		},
	}

	outcome, err := h.rec.Resolve(ctx, trig, hooks)
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	if outcome.EngineErr != nil {
		_ = sendEvent("error", gin.H{
			"message": outcome.EngineErr.Error(),
			"render":  renderPayload(outcome.Plan),
		})
		return
	}
	_ = sendEvent("done", gin.H{
		"user_message": outcome.User,
		"ai_message":   outcome.Assistant,
		"cached":       outcome.Cached,
		"render":       renderPayload(outcome.Plan),
	})
}

type historyClickRequest struct {
	ID string `json:"id"`
}

func (h *Handler) historyClick(c *gin.Context) {
	var req historyClickRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	trig := models.Trigger{Type: models.TriggerHistoryClick, ID: req.ID}
	outcome, err := h.rec.Resolve(c.Request.Context(), trig, reconciler.StreamHooks{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if outcome.Plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history entry not replayable"})
		return
	}
	payload := gin.H{"render": renderPayload(outcome.Plan)}
	if outcome.User != nil {
		payload["user_message"] = outcome.User
		payload["ai_message"] = outcome.Assistant
	}
	c.JSON(http.StatusOK, payload)
}

func (h *Handler) getConversation(c *gin.Context) {
	messages, err := h.store.Messages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) getHistory(c *gin.Context) {
	entries, err := h.store.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Sidebar contract: newest first.
	items := make([]gin.H, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		items = append(items, gin.H{
			"id":           e.ID,
			"label":        e.Label,
			"has_response": e.Response != "",
			"created_at":   e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": items})
}

func (h *Handler) resetConversation(c *gin.Context) {
	if err := h.store.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) calculateCrCl(c *gin.Context) {
	var params models.PatientParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, clinical.Calculate(params))
}

func renderPayload(plan *models.RenderPlan) gin.H {
	if plan == nil {
		return nil
	}
	return gin.H{
		"scroll_target":   plan.ScrollTarget,
		"settle_delay_ms": plan.SettleDelay.Milliseconds(),
	}
}
