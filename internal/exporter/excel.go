// Package exporter renders validation results for download, either as an
// Excel workbook with a run summary sheet and an anomaly detail sheet, or
// as a flat anomaly CSV.
package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"idxwatch/pkg/contracts/domain"
)

const (
	summarySheet = "Runs"
	detailSheet  = "Anomalies"
)

var summaryHeader = []string{
	"Run ID", "Table", "Executed At", "Range", "Status", "Rows", "Anomalies",
	"Critical", "Warning", "Info", "Duration", "Degraded", "Error",
}

var detailHeader = []string{
	"Run ID", "Table", "Rule", "Severity", "Symbol", "Date", "Field", "Value", "Threshold", "Message",
}

// WriteWorkbook renders results into an xlsx workbook on w. Results are
// written in the order given; callers pass them newest first.
func WriteWorkbook(w io.Writer, results []*domain.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("renaming summary sheet: %w", err)
	}
	if _, err := f.NewSheet(detailSheet); err != nil {
		return fmt.Errorf("creating detail sheet: %w", err)
	}

	if err := writeRow(f, summarySheet, 1, toCells(summaryHeader)); err != nil {
		return err
	}
	if err := writeRow(f, detailSheet, 1, toCells(detailHeader)); err != nil {
		return err
	}

	detailRow := 2
	for i, res := range results {
		counts := res.CountBySeverity()
		cells := []any{
			res.ID.String(),
			string(res.Table),
			res.ExecutedAt.Format(time.RFC3339),
			res.Range.String(),
			string(res.Status),
			res.RowCount,
			len(res.Anomalies),
			counts[domain.SeverityCritical],
			counts[domain.SeverityWarning],
			counts[domain.SeverityInfo],
			res.Duration.String(),
			res.DegradedPersistence,
			res.Error,
		}
		if err := writeRow(f, summarySheet, i+2, cells); err != nil {
			return err
		}

		for _, a := range res.Anomalies {
			cells := []any{
				res.ID.String(),
				string(res.Table),
				a.Rule,
				string(a.Severity),
				a.Symbol,
				formatDate(a.Date),
				a.Field,
				a.Value,
				a.Threshold,
				a.Message,
			}
			if err := writeRow(f, detailSheet, detailRow, cells); err != nil {
				return err
			}
			detailRow++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	for col, v := range cells {
		name, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("cell coordinates (%d,%d): %w", col+1, row, err)
		}
		if err := f.SetCellValue(sheet, name, v); err != nil {
			return fmt.Errorf("setting %s!%s: %w", sheet, name, err)
		}
	}
	return nil
}

func toCells(header []string) []any {
	out := make([]any, len(header))
	for i, h := range header {
		out[i] = h
	}
	return out
}
