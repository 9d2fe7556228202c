package handlers

import (
	"errors"
	"net/http"

	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/scheduler"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetStats returns store statistics and the last fetch run
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"store": stats}
	if h.scheduler != nil {
		resp["last_run"] = h.scheduler.LastRun()
		resp["fetch_running"] = h.scheduler.Running()
	}
	c.JSON(http.StatusOK, resp)
}

// TriggerFetch starts a fetch run in the background
func (h *Handler) TriggerFetch(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Fetching is not available in this process",
		})
		return
	}
	err := h.scheduler.Trigger(func(summary *scheduler.RunSummary, err error) {
		if err != nil {
			logger.Error(err, zap.String("trigger", "api"))
			return
		}
		logger.Info("Manual fetch completed",
			zap.String("run_id", summary.RunID),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed))
	})
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	logger.Info("Manual fetch started")
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Fetch run started",
		"status":  "running",
	})
}

// GetFetchStatus reports whether a run is in progress and the last summary
func (h *Handler) GetFetchStatus(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"status": "unavailable"})
		return
	}

	status := "idle"
	if h.scheduler.Running() {
		status = "running"
	}
	resp := gin.H{
		"status":   status,
		"last_run": h.scheduler.LastRun(),
	}
	if h.breaker != nil {
		resp["breaker"] = h.breaker.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// GetRateLimitStats returns current rate limiter statistics
func (h *Handler) GetRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.GetStats())
}
