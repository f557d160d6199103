package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/garyjia/receipt-pipeline/internal/application/export"
	"github.com/garyjia/receipt-pipeline/internal/application/pipeline"
	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/pkg/utils"
)

// DefaultSource labels runs submitted without a source
const DefaultSource = "api"

// ReceiptProcessor is the part of the receipt service served over HTTP
type ReceiptProcessor interface {
	ProcessText(ctx context.Context, source, rawText string, seed uint64) (*service.RunResult, error)
	ResumeRun(ctx context.Context, id int64) (*service.RunResult, error)
	GetRun(ctx context.Context, id int64) (*service.RunDetail, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*entity.PipelineRun, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	receipts ReceiptProcessor
	city     string
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(receipts ReceiptProcessor, city string, logger Logger) *Handlers {
	return &Handlers{receipts: receipts, city: city, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ProcessReceiptRequest is the body of POST /api/receipts. Seed may be a
// JSON number or a string of digits.
type ProcessReceiptRequest struct {
	Text   string          `json:"text" binding:"required"`
	Source string          `json:"source"`
	Seed   json.RawMessage `json:"seed"`
}

// RunResponse is a pipeline run with its record versions
type RunResponse struct {
	Run      *entity.PipelineRun    `json:"run"`
	Final    *entity.BillingRecord  `json:"final,omitempty"`
	History  []entity.BillingRecord `json:"history"`
	Timings  []pipeline.Timing      `json:"timings"`
	Form     []string               `json:"form,omitempty"`
	Duration string                 `json:"duration"`
}

// ListRunsRequest represents query parameters for listing runs
type ListRunsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// ProcessReceipt handles POST /api/receipts
func (h *Handlers) ProcessReceipt(c *gin.Context) {
	var req ProcessReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if err := utils.ValidateReceiptText(req.Text); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}
	if req.Source == "" {
		req.Source = DefaultSource
	}
	if err := utils.ValidateSource(req.Source); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}
	seed, err := parseSeed(req.Seed)
	if err != nil {
		h.badRequest(c, "invalid seed", err)
		return
	}

	result, err := h.receipts.ProcessText(c.Request.Context(), req.Source, utils.SanitizeString(req.Text), seed)
	h.writeRunResult(c, result, err)
}

// ResumeRun handles POST /api/runs/:id/resume
func (h *Handlers) ResumeRun(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}

	h.logger.Info("Resuming run", "run_id", id)
	result, err := h.receipts.ResumeRun(c.Request.Context(), id)
	switch {
	case errors.Is(err, port.ErrRunNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "run not found"})
		return
	case errors.Is(err, service.ErrRunCompleted):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
		return
	}
	h.writeRunResult(c, result, err)
}

// ListRuns handles GET /api/runs
func (h *Handlers) ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	// Set defaults
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	runs, err := h.receipts.ListRuns(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve runs",
		})
		return
	}
	if runs == nil {
		runs = []*entity.PipelineRun{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: runs})
}

// GetRun handles GET /api/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}

	detail, err := h.receipts.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, port.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "run not found"})
			return
		}
		h.logger.Error("Failed to get run", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve run"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: detail})
}

// writeRunResult answers with the run and its versions. A run that failed on
// the submitted receipt is 422 with its partial history.
func (h *Handlers) writeRunResult(c *gin.Context, result *service.RunResult, err error) {
	if result == nil {
		h.logger.Error("Receipt run failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: errorText(err)})
		return
	}

	resp := h.toRunResponse(result)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, Response{Success: true, Data: resp})
	case service.IsClientError(err):
		c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Data: resp, Error: err.Error()})
	default:
		h.logger.Error("Receipt run failed", "run_id", result.Run.ID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Data: resp, Error: err.Error()})
	}
}

func (h *Handlers) toRunResponse(result *service.RunResult) RunResponse {
	resp := RunResponse{
		Run:      result.Run,
		History:  result.History.All(),
		Timings:  result.History.Timings(),
		Duration: result.History.TotalDuration().String(),
	}
	if result.Err == nil {
		if final, ok := result.Final(); ok {
			resp.Final = &final
			resp.Form = export.FormLines(final, h.city)
		}
	}
	return resp
}

func (h *Handlers) runID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.badRequest(c, "invalid run ID", err)
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Bad request", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// parseSeed reads an optional seed; an absent seed draws a fresh one
func parseSeed(raw json.RawMessage) (uint64, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		return service.NewSeed(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	switch v.(type) {
	case json.Number, string:
	default:
		return 0, fmt.Errorf("seed must be a number or a string, got %s", raw)
	}
	return cast.ToUint64E(fmt.Sprint(v))
}

func errorText(err error) string {
	if err == nil {
		return "internal error"
	}
	return err.Error()
}
