// Package server exposes the refresh service over HTTP.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/therealityreport/trr-app-sub006/internal/export"
	"github.com/therealityreport/trr-app-sub006/internal/logging"
	"github.com/therealityreport/trr-app-sub006/internal/progress"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
	"github.com/therealityreport/trr-app-sub006/internal/service"
)

// Handler serves the HTTP API for one Service.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New builds the gin engine. mcp, when non-nil, is mounted at /mcp.
func New(svc *service.Service, mcp http.Handler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.L()
	}
	h := &Handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		api.GET("/profiles", h.ListProfiles)
		api.POST("/runs", h.StartRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/:id/cancel", h.CancelRun)
		api.GET("/runs/:id/events", h.StreamRun)
		api.GET("/runs/:id/diagram", h.RunDiagram)
		api.POST("/progress/classify", h.Classify)
	}

	if mcp != nil {
		r.Any("/mcp", gin.WrapH(mcp))
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("server: request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Health answers liveness checks.
func (h *Handler) Health(c *gin.Context) {
	success(c, http.StatusOK, gin.H{"status": "ok"})
}

// ListProfiles returns the configured refresh profiles.
func (h *Handler) ListProfiles(c *gin.Context) {
	success(c, http.StatusOK, h.svc.Profiles())
}

// StartRunRequest is the body of POST /api/runs.
type StartRunRequest struct {
	Profile string `json:"profile" binding:"required"`
	Target  string `json:"target" binding:"required"`
}

// StartRun launches a run and answers 202 with its id.
func (h *Handler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, CodeInvalidParams, "invalid parameters: "+err.Error())
		return
	}
	id, err := h.svc.Start(c.Request.Context(), req.Profile, req.Target)
	if err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("server: run accepted", zap.String("run", id), zap.String("profile", req.Profile))
	success(c, http.StatusAccepted, gin.H{"id": id})
}

// ListRuns pages through runs, optionally filtered by profile and state.
func (h *Handler) ListRuns(c *gin.Context) {
	filter := runstore.Filter{
		Profile:   c.Query("profile"),
		State:     runstore.State(c.Query("state")),
		PageToken: c.Query("pageToken"),
	}
	if raw := c.Query("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			failure(c, http.StatusBadRequest, CodeInvalidParams, "pageSize must be a non-negative integer")
			return
		}
		filter.PageSize = n
	}
	page, err := h.svc.List(filter)
	if err != nil {
		failure(c, http.StatusBadRequest, CodeInvalidParams, err.Error())
		return
	}
	success(c, http.StatusOK, page)
}

// GetRun returns one run record.
func (h *Handler) GetRun(c *gin.Context) {
	rec, err := h.svc.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, rec)
}

// CancelRun requests cancellation of a running run.
func (h *Handler) CancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Cancel(id); err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusAccepted, gin.H{"id": id})
}

// StreamRun streams a run's snapshots as Server-Sent Events. The stream
// ends with a "done" event carrying the final record.
func (h *Handler) StreamRun(c *gin.Context) {
	id := c.Param("id")
	ch, unsubscribe, err := h.svc.Store().Subscribe(id)
	if err != nil {
		fail(c, err)
		return
	}
	defer unsubscribe()

	sw := newSSEWriter(c.Writer)
	sw.init()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				rec, err := h.svc.Get(id)
				if err != nil {
					return
				}
				if err := sw.event("done", rec); err != nil {
					h.logger.Debug("server: stream closed", zap.String("run", id), zap.Error(err))
				}
				return
			}
			if err := sw.event("snapshot", snap); err != nil {
				h.logger.Debug("server: stream closed", zap.String("run", id), zap.Error(err))
				return
			}
		}
	}
}

// RunDiagram renders a run's phases as a Mermaid diagram.
func (h *Handler) RunDiagram(c *gin.Context) {
	rec, err := h.svc.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.String(http.StatusOK, export.Mermaid(rec))
}

// ClassifyResult answers POST /api/progress/classify.
type ClassifyResult struct {
	Topic      progress.Topic  `json:"topic,omitempty"`
	Classified bool            `json:"classified"`
	Source     progress.Source `json:"source,omitempty"`
	Terminal   bool            `json:"terminal"`
}

// Classify reports the topic and terminal state of one progress entry.
func (h *Handler) Classify(c *gin.Context) {
	var e progress.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		failure(c, http.StatusBadRequest, CodeInvalidParams, "invalid parameters: "+err.Error())
		return
	}
	topic, src := progress.Explain(e)
	success(c, http.StatusOK, ClassifyResult{
		Topic:      topic,
		Classified: src != progress.SourceNone,
		Source:     src,
		Terminal:   progress.IsTerminalSuccess(e),
	})
}
