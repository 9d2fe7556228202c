package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/database"
	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/scraper"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoURLs marks a link group without any URL to try
var ErrNoURLs = errors.New("no URLs in group")

// Fetcher loads one product page
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scraper.Listing, error)
}

// Ingester records one fetched price
type Ingester interface {
	Ingest(ctx context.Context, name string, amount int64, currency string) (*database.IngestResult, error)
}

// Waiter paces outgoing requests
type Waiter interface {
	Wait(ctx context.Context) error
}

// GroupResult is the outcome of one link group
type GroupResult struct {
	Group    config.LinkGroup       `json:"group"`
	URL      string                 `json:"url,omitempty"` // URL that produced the price
	Attempts int                    `json:"attempts"`
	Result   *database.IngestResult `json:"result,omitempty"`
	Err      error                  `json:"-"`
	Error    string                 `json:"error,omitempty"`
}

// OK reports whether the group produced an observation
func (g GroupResult) OK() bool {
	return g.Result != nil
}

// RunSummary describes one pass over all link groups
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Results    []GroupResult `json:"results"`
}

// Runner fetches every link group once and stores what it finds
type Runner struct {
	fetcher  Fetcher
	store    Ingester
	pacer    Waiter
	onResult func(GroupResult)
}

// NewRunner creates a runner. pacer may be nil.
func NewRunner(fetcher Fetcher, store Ingester, pacer Waiter) *Runner {
	return &Runner{fetcher: fetcher, store: store, pacer: pacer}
}

// OnResult registers a callback invoked after each group
func (r *Runner) OnResult(fn func(GroupResult)) {
	r.onResult = fn
}

// Run processes groups in order. For each group the URLs are tried in order
// and the first one that yields a storable listing wins; the others are not
// fetched. A failing group never stops the run. Store failures other than
// rejected input abort the run and are returned with the partial summary.
func (r *Runner) Run(ctx context.Context, groups []config.LinkGroup) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make([]GroupResult, 0, len(groups)),
	}
	log := logger.Named("runner").With(zap.String("run_id", summary.RunID))
	log.Info("Run started", zap.Int("groups", len(groups)))

	finish := func(err error) (*RunSummary, error) {
		summary.FinishedAt = time.Now().UTC()
		log.Info("Run finished",
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
		return summary, err
	}

	for i, group := range groups {
		res, err := r.runGroup(ctx, log, group)
		if err != nil {
			return finish(err)
		}

		if res.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
			log.Warn("Group failed",
				zap.Int("index", i),
				zap.String("group", group.Label()),
				zap.Error(res.Err))
		}
		summary.Results = append(summary.Results, res)
		if r.onResult != nil {
			r.onResult(res)
		}
	}

	return finish(nil)
}

func (r *Runner) runGroup(ctx context.Context, log *zap.Logger, group config.LinkGroup) (GroupResult, error) {
	res := GroupResult{Group: group}
	if len(group.URLs) == 0 {
		res.Err = ErrNoURLs
		res.Error = ErrNoURLs.Error()
		return res, nil
	}

	for _, url := range group.URLs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if r.pacer != nil {
			if err := r.pacer.Wait(ctx); err != nil {
				return res, err
			}
		}

		res.Attempts++
		listing, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Debug("Fetch failed", zap.String("url", url), zap.Error(err))
			res.Err = err
			continue
		}

		stored, err := r.store.Ingest(ctx, listing.Name, listing.Amount, listing.Currency)
		if errors.Is(err, database.ErrInvalidInput) {
			// rejected input counts as a failed attempt
			res.Err = fmt.Errorf("unusable listing from %s: %w", url, err)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to store price for %q: %w", listing.Name, err)
		}

		res.URL = url
		res.Result = stored
		res.Err = nil
		log.Info("Price recorded",
			zap.String("name", stored.Name),
			zap.Int64("amount", stored.Amount),
			zap.String("url", url))
		break
	}

	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	return res, nil
}
