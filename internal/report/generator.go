package report

import (
	"context"
	"fmt"

	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Generator turns the stored history into a report workbook
type Generator struct {
	History snapshot.HistorySource
	Opts    Options
}

// NewGenerator creates a generator reading from src
func NewGenerator(src snapshot.HistorySource, opts Options) *Generator {
	return &Generator{History: src, Opts: opts}
}

// Build reads the history once and renders both tables from it
func (g *Generator) Build(ctx context.Context) (*excelize.File, error) {
	history, err := g.History.FullHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return Render(snapshot.Derive(history), history, g.Opts)
}

// Generate builds the workbook and writes it to path
func (g *Generator) Generate(ctx context.Context, path string) error {
	f, err := g.Build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteFile(f, path); err != nil {
		return err
	}

	logger.Info("Report written", zap.String("path", path))
	return nil
}
