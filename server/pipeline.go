package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/router"
	"github.com/kbukum/stagepipe/scheduler"
)

// Pipeline is the part of an executor the HTTP API drives.
type Pipeline interface {
	Routes() router.Table
	Stats() scheduler.Stats
	GetInputMap(name string) (int, string, error)
	GetParamsGroupMap(name string) (int, error)
	SetParam(ctx context.Context, group, key string, data []byte) error
	PushInputs(ctx context.Context, values map[string]any) (scheduler.ItemID, error)
	PullOutputs(ctx context.Context) (scheduler.Result, error)
	TryPullOutputs() (scheduler.Result, bool)
	Await(ctx context.Context, id scheduler.ItemID) (scheduler.Result, error)
	TryGet(id scheduler.ItemID) (scheduler.Result, bool, error)
	Discard(id scheduler.ItemID) error
}

// Item states reported by the API.
const (
	ItemPending   = "pending"
	ItemCompleted = "completed"
	ItemFailed    = "failed"
)

// ItemResult is the JSON view of one item.
type ItemResult struct {
	ID      uint64               `json:"id"`
	Status  string               `json:"status"`
	Outputs map[string]any       `json:"outputs,omitempty"`
	Stages  []scheduler.Status   `json:"stages,omitempty"`
	Error   *apperrors.ErrorBody `json:"error,omitempty"`
}

// NewItemResult renders a resolved item. A failed item carries its error
// body, with the failing stage in the details, and no outputs.
func NewItemResult(res scheduler.Result) ItemResult {
	out := ItemResult{
		ID:      uint64(res.ID),
		Status:  ItemCompleted,
		Outputs: res.Outputs,
		Stages:  res.Stages,
	}
	if res.Err != nil {
		body := apperrors.Wrap(res.Err).ToResponse().Error
		out.Status = ItemFailed
		out.Outputs = nil
		out.Error = &body
	}
	return out
}

func pendingItem(id scheduler.ItemID) ItemResult {
	return ItemResult{ID: uint64(id), Status: ItemPending}
}

// PipelineHandler serves the /v1 pipeline API.
type PipelineHandler struct {
	pipeline Pipeline
	log      *logger.Logger
}

// NewPipelineHandler returns handlers over p.
func NewPipelineHandler(p Pipeline, log *logger.Logger) *PipelineHandler {
	return &PipelineHandler{pipeline: p, log: log.WithComponent("pipeline-api")}
}

// RegisterPipeline mounts the pipeline API under /v1.
func (s *Server) RegisterPipeline(p Pipeline) {
	h := NewPipelineHandler(p, s.log)
	h.Register(s.engine.Group("/v1"))
}

// Register adds the pipeline routes to g.
func (h *PipelineHandler) Register(g gin.IRoutes) {
	g.GET("/pipeline", h.describe)
	g.GET("/inputs/:name", h.input)
	g.GET("/params/:group", h.paramGroup)
	g.PUT("/params/:group/:key", h.setParam)
	g.POST("/items", h.push)
	g.GET("/items/next", h.next)
	g.GET("/items/:id", h.get)
	g.DELETE("/items/:id", h.discard)
}

func (h *PipelineHandler) describe(c *gin.Context) {
	RespondOK(c, gin.H{
		"routes": h.pipeline.Routes(),
		"stats":  h.pipeline.Stats(),
	})
}

func (h *PipelineHandler) input(c *gin.Context) {
	name := c.Param("name")
	st, port, err := h.pipeline.GetInputMap(name)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, router.Route{Name: name, Stage: st, Port: port})
}

func (h *PipelineHandler) paramGroup(c *gin.Context) {
	group := c.Param("group")
	st, err := h.pipeline.GetParamsGroupMap(group)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, router.Route{Name: group, Stage: st})
}

func (h *PipelineHandler) setParam(c *gin.Context) {
	group, key := c.Param("group"), c.Param("key")
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			appErr := apperrors.InvalidRequest("parameter blob exceeds %d bytes", tooLarge.Limit)
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			RespondWithError(c, appErr)
			return
		}
		RespondWithError(c, apperrors.InvalidRequest("reading parameter blob: %v", err))
		return
	}

	if err := h.pipeline.SetParam(c.Request.Context(), group, key, data); err != nil {
		RespondWithError(c, err)
		return
	}
	h.log.WithContext(c.Request.Context()).Info("parameters loaded", logger.Fields(
		"group", group, "key", key, "bytes", len(data),
	))
	RespondNoContent(c)
}

func (h *PipelineHandler) push(c *gin.Context) {
	var values map[string]any
	if err := c.ShouldBindJSON(&values); err != nil {
		RespondWithError(c, apperrors.InvalidRequest("inputs must be a JSON object: %v", err))
		return
	}
	wait, block, err := parseWait(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}

	id, err := h.pipeline.PushInputs(c.Request.Context(), values)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	h.log.WithContext(logger.ContextWithItemID(c.Request.Context(), uint64(id))).Debug("item pushed")

	if !block {
		c.Header("Location", "/v1/items/"+strconv.FormatUint(uint64(id), 10))
		RespondAccepted(c, pendingItem(id))
		return
	}
	h.await(c, id, wait)
}

func (h *PipelineHandler) next(c *gin.Context) {
	wait, block, err := parseWait(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if !block {
		res, ok := h.pipeline.TryPullOutputs()
		if !ok {
			RespondNoContent(c)
			return
		}
		RespondOK(c, NewItemResult(res))
		return
	}

	ctx, cancel := withWait(c.Request.Context(), wait)
	defer cancel()
	res, err := h.pipeline.PullOutputs(ctx)
	switch {
	case err == nil:
		RespondOK(c, NewItemResult(res))
	case ctx.Err() != nil:
		RespondNoContent(c)
	default:
		RespondWithError(c, err)
	}
}

func (h *PipelineHandler) get(c *gin.Context) {
	id, err := parseItemID(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	wait, block, err := parseWait(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if block {
		h.await(c, id, wait)
		return
	}

	res, ok, err := h.pipeline.TryGet(id)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if !ok {
		RespondAccepted(c, pendingItem(id))
		return
	}
	RespondOK(c, NewItemResult(res))
}

func (h *PipelineHandler) discard(c *gin.Context) {
	id, err := parseItemID(c)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	if err := h.pipeline.Discard(id); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondNoContent(c)
}

// await blocks on one item. Running out of wait time answers 202 so the
// caller can poll again; the item stays in flight.
func (h *PipelineHandler) await(c *gin.Context, id scheduler.ItemID, wait time.Duration) {
	ctx, cancel := withWait(c.Request.Context(), wait)
	defer cancel()

	res, err := h.pipeline.Await(ctx, id)
	switch {
	case err == nil:
		RespondOK(c, NewItemResult(res))
	case ctx.Err() != nil:
		RespondAccepted(c, pendingItem(id))
	default:
		RespondWithError(c, err)
	}
}

func parseItemID(c *gin.Context) (scheduler.ItemID, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidRequest("item id %q is not a number", raw)
	}
	return scheduler.ItemID(id), nil
}

// parseWait reads ?wait=. A duration bounds the wait; a true boolean waits
// until the request ends. Zero duration means block with no bound.
func parseWait(c *gin.Context) (time.Duration, bool, error) {
	raw := c.Query("wait")
	if raw == "" {
		return 0, false, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d, true, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return 0, b, nil
	}
	return 0, false, apperrors.InvalidRequest("wait must be a duration or a boolean, got %q", raw)
}

func withWait(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait > 0 {
		return context.WithTimeout(ctx, wait)
	}
	return context.WithCancel(ctx)
}
