package report

import (
	"github.com/EvgenyQA404/perfume/internal/models"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/shopspring/decimal"
)

const (
	CurrentSheet = "Current prices"
	HistorySheet = "History"
	LegendSheet  = "Legend"
)

// Table is one logical sheet: a header and rows of cells. A nil cell is empty.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Options control how amounts are presented
type Options struct {
	// MinorUnitExponent converts stored minor units to major units (2 means cents)
	MinorUnitExponent int32
	// IncludeLegend adds a sheet explaining the columns
	IncludeLegend bool
}

// DefaultOptions returns options for two-decimal currencies
func DefaultOptions() Options {
	return Options{MinorUnitExponent: 2, IncludeLegend: true}
}

// CurrentTable shapes snapshot rows into the current prices table
func CurrentTable(rows []snapshot.Row, opts Options) Table {
	withCurrency := false
	for _, r := range rows {
		if r.Currency != "" {
			withCurrency = true
			break
		}
	}

	header := []string{"Name", "Latest price", "Previous price", "Change", "Change %"}
	if withCurrency {
		header = append(header, "Currency")
	}
	header = append(header, "Observed at")

	t := Table{Name: CurrentSheet, Header: header, Rows: make([][]any, 0, len(rows))}
	for _, r := range rows {
		cells := []any{
			r.Name,
			opts.major(r.Latest),
			opts.majorPtr(r.Previous),
			opts.majorPtr(r.Delta),
			pctCell(r.DeltaPct),
		}
		if withCurrency {
			cells = append(cells, textOrNil(r.Currency))
		}
		cells = append(cells, r.ObservedAt)
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// HistoryTable shapes the full history, keeping its order
func HistoryTable(history []models.HistoryRow, opts Options) Table {
	withCurrency := false
	for _, h := range history {
		if h.CurrencyOr("") != "" {
			withCurrency = true
			break
		}
	}

	header := []string{"Name", "Price"}
	if withCurrency {
		header = append(header, "Currency")
	}
	header = append(header, "Observed at")

	t := Table{Name: HistorySheet, Header: header, Rows: make([][]any, 0, len(history))}
	for _, h := range history {
		cells := []any{h.Name, opts.major(h.Amount)}
		if withCurrency {
			cells = append(cells, textOrNil(h.CurrencyOr("")))
		}
		cells = append(cells, h.ObservedAt)
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// LegendTable describes the columns of the other sheets
func LegendTable() Table {
	return Table{
		Name:   LegendSheet,
		Header: []string{"Column", "Meaning"},
		Rows: [][]any{
			{"Latest price", "Most recent observed price"},
			{"Previous price", "Price observed just before the latest one; empty when only one observation exists"},
			{"Change", "Latest price minus previous price"},
			{"Change %", "Change relative to the previous price; empty when the previous price is zero or missing"},
			{"Currency", "Currency tag recorded with the observation"},
			{"Observed at", "Time of the observation (UTC)"},
			{"Green row", "Price dropped"},
			{"Pink row", "Price rose"},
		},
	}
}

func (o Options) major(minor int64) decimal.Decimal {
	return decimal.New(minor, -o.MinorUnitExponent)
}

func (o Options) majorPtr(minor *int64) any {
	if minor == nil {
		return nil
	}
	return o.major(*minor)
}

func pctCell(p *decimal.Decimal) any {
	if p == nil {
		return nil
	}
	return *p
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
