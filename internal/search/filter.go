package search

import (
	"fmt"
	"strings"
)

type FilterParams struct {
	Query     string
	MinAmount *int64
	MaxAmount *int64
	Currency  string
	OnlyDrops bool
	SortBy    string // latest, delta, delta_pct or observed_at, optional ":desc"
	Limit     int64
}

var sortable = map[string]bool{
	"latest":      true,
	"delta":       true,
	"delta_pct":   true,
	"observed_at": true,
}

// BuildFilter compiles params into a Meilisearch filter expression
func BuildFilter(params FilterParams) string {
	var filters []string

	if params.MinAmount != nil {
		filters = append(filters, fmt.Sprintf("latest >= %d", *params.MinAmount))
	}
	if params.MaxAmount != nil {
		filters = append(filters, fmt.Sprintf("latest <= %d", *params.MaxAmount))
	}
	if params.Currency != "" {
		filters = append(filters, fmt.Sprintf("currency = '%s'", escapeQuoted(strings.ToUpper(params.Currency))))
	}
	if params.OnlyDrops {
		filters = append(filters, "direction = 'down'")
	}

	return strings.Join(filters, " AND ")
}

func escapeQuoted(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

func (p FilterParams) limit() int64 {
	if p.Limit <= 0 {
		return 20
	}
	return p.Limit
}

// sort validates SortBy; unknown fields are ignored
func (p FilterParams) sort() []string {
	if p.SortBy == "" {
		return nil
	}
	field, dir, _ := strings.Cut(p.SortBy, ":")
	if !sortable[field] {
		return nil
	}
	if dir != "desc" {
		dir = "asc"
	}
	return []string{field + ":" + dir}
}
