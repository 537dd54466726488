package domain

import (
	"sort"
	"time"
)

// Row is one record of a fetched dataset. Numeric fields live in Values;
// a missing key means the source reported null for that field. Filings may
// carry multiple tickers, in which case Symbol holds the first.
type Row struct {
	Symbol  string             `json:"symbol"`
	Date    time.Time          `json:"date"`
	Values  map[string]float64 `json:"values"`
	Tickers []string           `json:"tickers,omitempty"`
}

// Value returns the named numeric field and whether the source reported it.
func (r Row) Value(field string) (float64, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// Dataset is the unit of work handed to the rule set: the rows inside the
// requested range plus reference rows needed by cross-table rules (for
// example daily closes joined against filings). Range carries the resolved
// window the rows were requested for and FetchedAt the retrieval time, so
// rules can flag rows the source returned outside the window or dated in
// the future.
type Dataset struct {
	Kind      TableKind `json:"kind"`
	Rows      []Row     `json:"rows"`
	Reference []Row     `json:"reference,omitempty"`
	Range     DateRange `json:"range"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BySymbol groups rows per symbol, each group sorted by ascending date.
// Rule evaluation depends on this ordering for change and outlier windows.
func (d Dataset) BySymbol() map[string][]Row {
	groups := make(map[string][]Row)
	for _, row := range d.Rows {
		groups[row.Symbol] = append(groups[row.Symbol], row)
	}
	for sym := range groups {
		rows := groups[sym]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
		groups[sym] = rows
	}
	return groups
}

// Symbols returns the distinct symbols in the dataset, sorted. Rules iterate
// this instead of ranging over the BySymbol map so anomaly order is stable.
func (d Dataset) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range d.Rows {
		if _, ok := seen[row.Symbol]; ok {
			continue
		}
		seen[row.Symbol] = struct{}{}
		out = append(out, row.Symbol)
	}
	sort.Strings(out)
	return out
}

// ReferenceBySymbolDate indexes reference rows by symbol and calendar day.
func (d Dataset) ReferenceBySymbolDate() map[string]map[string]Row {
	idx := make(map[string]map[string]Row)
	for _, row := range d.Reference {
		day := row.Date.Format("2006-01-02")
		if idx[row.Symbol] == nil {
			idx[row.Symbol] = make(map[string]Row)
		}
		idx[row.Symbol][day] = row
	}
	return idx
}
