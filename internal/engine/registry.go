// Package engine runs validation: it resolves the rule set per table,
// fetches the dataset, evaluates rules, persists results and decides on
// notification. The transport layer only sees the Orchestrator.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "idxwatch/internal/errors"
	"idxwatch/internal/rules"
	"idxwatch/pkg/contracts/domain"
)

// tableLabels are the human-readable dataset names shown in the catalog.
var tableLabels = map[domain.TableKind]string{
	domain.TableFinancialsAnnual:    "Annual financial statements",
	domain.TableFinancialsQuarterly: "Quarterly financial statements",
	domain.TableDailyPrices:         "Daily stock prices",
	domain.TableDividends:           "Dividend history",
	domain.TableAllTimePrice:        "All-time price extremes",
	domain.TableFilings:             "Insider and shareholder filings",
	domain.TableStockSplits:         "Stock split history",
}

type tableEntry struct {
	label string
	rules []rules.Rule

	// stateMu protects only the in-memory bookkeeping below. Validation
	// runs themselves are never serialized; concurrent runs of the same
	// table are allowed and each persists its own result.
	stateMu       sync.RWMutex
	lastValidated time.Time
}

// Registry holds the closed set of validated tables with their rule sets
// and last-run bookkeeping.
type Registry struct {
	entries map[domain.TableKind]*tableEntry
}

// NewRegistry resolves the rule set of every table kind once.
func NewRegistry(params rules.Params) *Registry {
	entries := make(map[domain.TableKind]*tableEntry, len(tableLabels))
	for _, kind := range domain.AllTableKinds() {
		entries[kind] = &tableEntry{
			label: tableLabels[kind],
			rules: rules.ForKind(kind, params),
		}
	}
	return &Registry{entries: entries}
}

// Rules returns the resolved rule set for kind.
func (r *Registry) Rules(kind domain.TableKind) ([]rules.Rule, error) {
	entry, ok := r.entries[kind]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", kind, apperrors.ErrUnknownTable)
	}
	return entry.rules, nil
}

// Descriptors returns the table catalog in canonical order.
func (r *Registry) Descriptors() []domain.TableDescriptor {
	out := make([]domain.TableDescriptor, 0, len(r.entries))
	for _, kind := range domain.AllTableKinds() {
		entry := r.entries[kind]

		names := make([]string, 0, len(entry.rules))
		for _, rule := range entry.rules {
			names = append(names, rule.Name())
		}

		entry.stateMu.RLock()
		last := entry.lastValidated
		entry.stateMu.RUnlock()

		out = append(out, domain.TableDescriptor{
			Kind:          kind,
			Label:         entry.label,
			RuleSynopsis:  strings.Join(names, ", "),
			LastValidated: last,
		})
	}
	return out
}

// markValidated records a completed run.
func (r *Registry) markValidated(kind domain.TableKind, at time.Time) {
	entry, ok := r.entries[kind]
	if !ok {
		return
	}
	entry.stateMu.Lock()
	entry.lastValidated = at
	entry.stateMu.Unlock()
}
