package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/EvgenyQA404/perfume/internal/database"
	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/report"
	"github.com/EvgenyQA404/perfume/internal/search"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ListProducts returns the current snapshot; ?drops=true keeps price drops only
func (h *Handler) ListProducts(c *gin.Context) {
	var (
		rows []snapshot.Row
		err  error
	)
	if c.Query("drops") == "true" {
		rows, err = h.snapshots.Drops(c.Request.Context())
	} else {
		rows, err = h.snapshots.Current(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}

	products := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		products = append(products, gin.H{
			"product_id":           r.ProductID,
			"name":                 r.Name,
			"currency":             r.Currency,
			"latest":               r.Latest,
			"previous":             r.Previous,
			"delta":                r.Delta,
			"delta_pct":            r.DeltaPct,
			"direction":            r.Direction(),
			"observed_at":          r.ObservedAt,
			"previous_observed_at": r.PreviousObservedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
	})
}

// GetLatest returns the two most recent prices of one product
func (h *Handler) GetLatest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	ctx := c.Request.Context()
	product, err := h.store.GetProduct(ctx, uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	latest, previous, err := h.store.LatestTwo(ctx, product.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": product.ID,
		"name":       product.Name,
		"latest":     latest,
		"previous":   previous,
	})
}

// GetHistory returns every observation in report order
func (h *Handler) GetHistory(c *gin.Context) {
	history, err := h.store.FullHistory(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"count":   len(history),
	})
}

// ObservationRequest is the body of POST /api/observations
type ObservationRequest struct {
	Name     string `json:"name" binding:"required"`
	Amount   *int64 `json:"amount" binding:"required"`
	Currency string `json:"currency"`
}

// RecordObservation stores a price reported by a client
func (h *Handler) RecordObservation(c *gin.Context) {
	var req ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.store.Ingest(c.Request.Context(), req.Name, *req.Amount, req.Currency)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// DownloadReport streams a freshly built workbook
func (h *Handler) DownloadReport(c *gin.Context) {
	f, err := h.reports.Build(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", `attachment; filename="price_report.xlsx"`)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		logger.Error(err, zap.String("handler", "DownloadReport"))
	}
}

// GenerateReport writes the report file on the server
func (h *Handler) GenerateReport(c *gin.Context) {
	if err := h.reports.Generate(c.Request.Context(), h.reportPath); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": h.reportPath})
}

// Search queries the product index
func (h *Handler) Search(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search is not configured"})
		return
	}

	params := search.FilterParams{
		Query:     c.Query("q"),
		Currency:  c.Query("currency"),
		OnlyDrops: c.Query("drops") == "true",
		SortBy:    c.Query("sort"),
	}
	if v, err := strconv.ParseInt(c.Query("min"), 10, 64); err == nil {
		params.MinAmount = &v
	}
	if v, err := strconv.ParseInt(c.Query("max"), 10, 64); err == nil {
		params.MaxAmount = &v
	}
	if v, err := strconv.ParseInt(c.Query("limit"), 10, 64); err == nil {
		params.Limit = v
	}

	docs, err := h.search.Search(params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hits":  docs,
		"count": len(docs),
	})
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, report.ErrResourceBusy):
		status = http.StatusLocked
	case errors.Is(err, search.ErrDisabled):
		status = http.StatusServiceUnavailable
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
