package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/report"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a run is requested while one is in progress
var ErrAlreadyRunning = errors.New("a fetch run is already in progress")

// ReportWriter regenerates the spreadsheet report
type ReportWriter interface {
	Generate(ctx context.Context, path string) error
}

// Indexer refreshes the search index
type Indexer interface {
	Reindex(ctx context.Context) error
}

// Scheduler handles scheduled fetch runs
type Scheduler struct {
	cron    *cron.Cron
	config  *config.Config
	runner  *Runner
	report  ReportWriter
	indexer Indexer

	// LoadGroups reads the link groups for each run
	LoadGroups func(path string) ([]config.LinkGroup, error)

	// ctx bounds scheduled and triggered runs; Stop cancels it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	isStarted bool
	lastRun   *RunSummary
}

// NewScheduler creates a new scheduler. report and indexer may be nil.
func NewScheduler(cfg *config.Config, runner *Runner, report ReportWriter, indexer Indexer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(),
		config:     cfg,
		runner:     runner,
		report:     report,
		indexer:    indexer,
		LoadGroups: config.LoadLinkGroups,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// CronSpec returns the schedule: the explicit cron spec, or daily at daily_run_time
func (s *Scheduler) CronSpec() (string, error) {
	if s.config.Schedule.CronSpec != "" {
		return s.config.Schedule.CronSpec, nil
	}
	hour, minute, err := config.ParseDailyRunTime(s.config.Schedule.DailyRunTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	if !s.config.Schedule.Enabled {
		logger.Info("Scheduler disabled in configuration")
		return nil
	}

	spec, err := s.CronSpec()
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(spec, func() {
		if _, err := s.RunNow(s.ctx); err != nil {
			logger.Error(err, zap.String("component", "scheduler"))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.cron.Start()
	s.isStarted = true
	logger.Info("Scheduler started", zap.String("cron", spec))
	return nil
}

// Stop cancels in-flight runs and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	if s.isStarted {
		<-s.cron.Stop().Done()
		s.isStarted = false
		logger.Info("Scheduler stopped")
	}
}

// Running reports whether a run is in progress
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns the summary of the most recent finished run
func (s *Scheduler) LastRun() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// RunNow fetches all link groups, then refreshes the report and the search
// index. Only one run executes at a time.
func (s *Scheduler) RunNow(ctx context.Context) (*RunSummary, error) {
	if err := s.claim(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.run(ctx)
}

// Trigger claims the run slot and starts a run in the background. It returns
// ErrAlreadyRunning without starting anything when a run is in progress. done,
// if set, receives the outcome. The run is cancelled by Stop.
func (s *Scheduler) Trigger(done func(*RunSummary, error)) error {
	if err := s.claim(); err != nil {
		return err
	}

	go func() {
		defer s.release()
		summary, err := s.run(s.ctx)
		if done != nil {
			done(summary, err)
		}
	}()
	return nil
}

func (s *Scheduler) claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler stopped: %w", s.ctx.Err())
	}
	s.running = true
	s.wg.Add(1)
	return nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Scheduler) run(ctx context.Context) (*RunSummary, error) {
	groups, err := s.LoadGroups(s.config.Scraper.LinksFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	if len(groups) == 0 {
		logger.Warn("No links to fetch", zap.String("links_file", s.config.Scraper.LinksFile))
	}

	summary, err := s.runner.Run(ctx, groups)

	s.mu.Lock()
	s.lastRun = summary
	s.mu.Unlock()

	if err != nil {
		return summary, err
	}

	s.afterRun(ctx)
	return summary, nil
}

// afterRun refreshes derived artifacts. Failures are logged; the observations
// are already stored.
func (s *Scheduler) afterRun(ctx context.Context) {
	if s.config.Schedule.ReportAfterFetch && s.report != nil {
		err := s.report.Generate(ctx, s.config.Report.OutputPath)
		switch {
		case errors.Is(err, report.ErrResourceBusy):
			logger.Warn("Report not updated", zap.Error(err))
		case err != nil:
			logger.Error(err, zap.String("step", "report"))
		}
	}

	if s.indexer != nil {
		if err := s.indexer.Reindex(ctx); err != nil {
			logger.Error(err, zap.String("step", "reindex"))
		}
	}
}
