package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/EvgenyQA404/perfume/internal/models"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type columnKind int

const (
	kindText columnKind = iota
	kindAmount
	kindPercent
	kindTime
)

type fill int

const (
	fillNone fill = iota
	fillDrop
	fillRise
)

var fillColors = map[fill]string{
	fillDrop: "#C6EFCE",
	fillRise: "#FFC7CE",
}

type styleKey struct {
	kind columnKind
	fill fill
}

// renderer caches the styles of one workbook
type renderer struct {
	f        *excelize.File
	opts     Options
	header   int
	styles   map[styleKey]int
	amountFm string
}

// Render builds the workbook: current prices, full history and an optional legend
func Render(rows []snapshot.Row, history []models.HistoryRow, opts Options) (*excelize.File, error) {
	f := excelize.NewFile()
	r := &renderer{f: f, opts: opts, styles: make(map[styleKey]int), amountFm: amountFormat(opts.MinorUnitExponent)}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Vertical: "center"},
		Border:    []excelize.Border{{Type: "bottom", Color: "#000000", Style: 1}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	r.header = headerStyle

	fills := make([]fill, len(rows))
	for i, row := range rows {
		switch row.Direction() {
		case snapshot.DirectionDown:
			fills[i] = fillDrop
		case snapshot.DirectionUp:
			fills[i] = fillRise
		}
	}

	// the default sheet becomes the first table
	if err := f.SetSheetName("Sheet1", CurrentSheet); err != nil {
		f.Close()
		return nil, err
	}

	tables := []struct {
		table Table
		fills []fill
	}{
		{CurrentTable(rows, opts), fills},
		{HistoryTable(history, opts), nil},
	}
	if opts.IncludeLegend {
		tables = append(tables, struct {
			table Table
			fills []fill
		}{LegendTable(), nil})
	}

	for _, t := range tables {
		if err := r.writeTable(t.table, t.fills); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write sheet %q: %w", t.table.Name, err)
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func (r *renderer) writeTable(t Table, fills []fill) error {
	if idx, _ := r.f.GetSheetIndex(t.Name); idx < 0 {
		if _, err := r.f.NewSheet(t.Name); err != nil {
			return err
		}
	}

	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := r.f.SetSheetRow(t.Name, "A1", &header); err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(t.Header))
	if err != nil {
		return err
	}
	if err := r.f.SetCellStyle(t.Name, "A1", lastCol+"1", r.header); err != nil {
		return err
	}

	kinds := make([]columnKind, len(t.Header))
	for i, h := range t.Header {
		kinds[i] = kindFor(h)
	}

	for i, cells := range t.Rows {
		rowFill := fillNone
		if i < len(fills) {
			rowFill = fills[i]
		}
		for j, v := range cells {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if v != nil {
				if err := r.f.SetCellValue(t.Name, cell, cellValue(v)); err != nil {
					return err
				}
			}
			style, err := r.style(kinds[j], rowFill)
			if err != nil {
				return err
			}
			if style != 0 {
				if err := r.f.SetCellStyle(t.Name, cell, cell, style); err != nil {
					return err
				}
			}
		}
	}

	for i, k := range kinds {
		col, _ := excelize.ColumnNumberToName(i + 1)
		width := 16.0
		switch {
		case i == 0:
			width = 48
		case k == kindTime:
			width = 20
		case t.Name == LegendSheet:
			width = 90
		}
		if err := r.f.SetColWidth(t.Name, col, col, width); err != nil {
			return err
		}
	}

	return r.f.SetPanes(t.Name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (r *renderer) style(kind columnKind, fl fill) (int, error) {
	if kind == kindText && fl == fillNone {
		return 0, nil
	}
	key := styleKey{kind: kind, fill: fl}
	if id, ok := r.styles[key]; ok {
		return id, nil
	}

	s := &excelize.Style{}
	switch kind {
	case kindAmount:
		s.CustomNumFmt = &r.amountFm
	case kindPercent:
		pct := `0.00"%"`
		s.CustomNumFmt = &pct
	case kindTime:
		ts := "yyyy-mm-dd hh:mm:ss"
		s.CustomNumFmt = &ts
	}
	if color, ok := fillColors[fl]; ok {
		s.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
	}

	id, err := r.f.NewStyle(s)
	if err != nil {
		return 0, err
	}
	r.styles[key] = id
	return id, nil
}

func kindFor(header string) columnKind {
	switch {
	case header == "Change %":
		return kindPercent
	case header == "Observed at":
		return kindTime
	case strings.Contains(header, "price"), header == "Price", header == "Change":
		return kindAmount
	default:
		return kindText
	}
}

func amountFormat(exponent int32) string {
	if exponent <= 0 {
		return "#,##0"
	}
	return "#,##0." + strings.Repeat("0", int(exponent))
}

func cellValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case time.Time:
		// spreadsheets have no zone; timestamps are UTC
		return x.UTC()
	default:
		return v
	}
}
