package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"GraderUsageETL/internal/extract"
	"GraderUsageETL/internal/middleware"
	"GraderUsageETL/internal/models"
	"GraderUsageETL/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRunsLimit = 500

// RunsResponse wraps the run journal listing.
type RunsResponse struct {
	Runs []models.Run `json:"runs"`
}

// TriggerRequest optionally overrides the window; empty fields fall back to
// the incremental window.
type TriggerRequest struct {
	Start string `json:"start" example:"2023-04-01 12:00:00.000000"`
	End   string `json:"end" example:"2023-04-02 12:00:00.000000"`
}

type TriggerResponse struct {
	RunID  string        `json:"run_id" example:"0b6f8d3c-3f0e-4d7e-9d55-4f8f7f1d2a10"`
	Window models.Window `json:"window"`
}

// GetStats godoc
// @Summary      Warehouse statistics
// @Description  Aggregates over every attempt stored in PostgreSQL.
// @Tags         API (Protected)
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} models.TableStats
// @Failure      401 {object} handler.ErrorResponse "missing or invalid token"
// @Failure      500 {object} handler.ErrorResponse "database error"
// @Router       /api/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.deps.Stats.TableStats(c.Request.Context())
	if err != nil {
		h.log.Error("GetStats(): TableStats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListRuns godoc
// @Summary      Run history
// @Description  Returns the run journal, newest first.
// @Tags         API (Protected)
// @Produce      json
// @Security     BearerAuth
// @Param        limit query int false "maximum number of runs (default 50)"
// @Success      200 {object} handler.RunsResponse
// @Failure      400 {object} handler.ErrorResponse "invalid limit"
// @Failure      401 {object} handler.ErrorResponse "missing or invalid token"
// @Failure      500 {object} handler.ErrorResponse "journal error"
// @Router       /api/runs [get]
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRunsLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	runs, err := h.deps.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("ListRuns(): journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch runs"})
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

// GetRun godoc
// @Summary      One run
// @Tags         API (Protected)
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "run id"
// @Success      200 {object} models.Run
// @Failure      401 {object} handler.ErrorResponse "missing or invalid token"
// @Failure      404 {object} handler.ErrorResponse "run not found"
// @Failure      500 {object} handler.ErrorResponse "journal error"
// @Router       /api/runs/{id} [get]
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.deps.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Run not found"})
			return
		}
		h.log.Error("GetRun(): journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// TriggerRun godoc
// @Summary      Start a run
// @Description  Starts an ETL run in the background. Progress is streamed on /ws/runs.
// @Tags         API (Protected)
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body handler.TriggerRequest false "optional window"
// @Success      202 {object} handler.TriggerResponse
// @Failure      400 {object} handler.ErrorResponse "invalid window"
// @Failure      401 {object} handler.ErrorResponse "missing or invalid token"
// @Failure      409 {object} handler.ErrorResponse "a run is already in progress"
// @Failure      500 {object} handler.ErrorResponse "run journal unavailable"
// @Router       /api/runs [post]
func (h *Handler) TriggerRun(c *gin.Context) {
	var req TriggerRequest
	rawData, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read request body"})
		return
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "JSON parsing error: " + err.Error()})
			return
		}
	}

	if !h.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "A run is already in progress"})
		return
	}

	w, err := h.deps.Resolve(c.Request.Context(), req.Start, req.End)
	if err != nil {
		h.running.Store(false)
		if isBadWindow(err) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error("failed to resolve run window", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to resolve run window"})
		return
	}

	id := uuid.NewString()
	h.log.Info("run triggered via API",
		zap.String("run_id", id),
		zap.String("username", middleware.Admin(c)))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.running.Store(false)
		if _, err := h.deps.Runner.RunWithID(h.ctx, id, w); err != nil {
			h.log.Error("triggered run failed", zap.String("run_id", id), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, TriggerResponse{RunID: id, Window: w})
}

// isBadWindow reports whether a resolve error comes from the request itself.
func isBadWindow(err error) bool {
	var parseErr *time.ParseError
	return errors.Is(err, extract.ErrInvalidWindow) || errors.As(err, &parseErr)
}
