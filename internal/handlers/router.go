package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/database"
	"github.com/EvgenyQA404/perfume/internal/models"
	"github.com/EvgenyQA404/perfume/internal/ratelimit"
	"github.com/EvgenyQA404/perfume/internal/report"
	"github.com/EvgenyQA404/perfume/internal/scheduler"
	"github.com/EvgenyQA404/perfume/internal/scraper"
	"github.com/EvgenyQA404/perfume/internal/search"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Store is the part of the observation store the API uses
type Store interface {
	Ingest(ctx context.Context, name string, amount int64, currency string) (*database.IngestResult, error)
	LatestTwo(ctx context.Context, productID uint) (latest, previous *int64, err error)
	GetProduct(ctx context.Context, id uint) (*models.Product, error)
	FullHistory(ctx context.Context) ([]models.HistoryRow, error)
	Stats(ctx context.Context) (*database.Stats, error)
}

// Handler serves the HTTP API
type Handler struct {
	store      Store
	snapshots  *snapshot.Service
	reports    *report.Generator
	reportPath string
	scheduler  *scheduler.Scheduler
	breaker    *scraper.CircuitBreaker
	search     *search.SearchClient
	limiter    *ratelimit.RateLimiter
}

// Deps are the collaborators of the API. Scheduler, Breaker and Search may be nil.
type Deps struct {
	Store      Store
	Reports    report.Options
	ReportPath string
	Scheduler  *scheduler.Scheduler
	Breaker    *scraper.CircuitBreaker
	Search     *search.SearchClient
	Limiter    *ratelimit.RateLimiter
}

// NewHandler creates a new API handler
func NewHandler(d Deps) *Handler {
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.NewRateLimiter(0, 0, false)
	}
	return &Handler{
		store:      d.Store,
		snapshots:  snapshot.NewService(d.Store),
		reports:    report.NewGenerator(d.Store, d.Reports),
		reportPath: d.ReportPath,
		scheduler:  d.Scheduler,
		breaker:    d.Breaker,
		search:     d.Search,
		limiter:    limiter,
	}
}

// Router builds the gin engine with all routes registered
func (h *Handler) Router(cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())

	if len(cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowOrigins,
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", healthCheck)

	api := r.Group("/api")
	{
		api.GET("/products", h.ListProducts)
		api.GET("/products/:id/latest", h.GetLatest)
		api.GET("/history", h.GetHistory)
		api.POST("/observations", h.rateLimitMiddleware(), h.RecordObservation)

		api.GET("/report", h.DownloadReport)
		api.POST("/report/generate", h.rateLimitMiddleware(), h.GenerateReport)

		api.POST("/fetch/run", h.rateLimitMiddleware(), h.TriggerFetch)
		api.GET("/fetch/status", h.GetFetchStatus)

		api.GET("/search", h.Search)

		api.GET("/stats", h.GetStats)
		api.GET("/ratelimit/stats", h.GetRateLimitStats)
	}

	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
