package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"idxwatch/pkg/contracts/domain"
)

// utf8BOM lets Excel detect the encoding when the file is opened directly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV streams the anomaly rows of results to w as a flat CSV file,
// one record per anomaly in the order the results are given. The columns
// match the detail sheet of the Excel workbook.
func WriteCSV(w io.Writer, results []*domain.Result) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("writing BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(detailHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, res := range results {
		for _, a := range res.Anomalies {
			record := []string{
				res.ID.String(),
				string(res.Table),
				a.Rule,
				string(a.Severity),
				a.Symbol,
				formatDate(a.Date),
				a.Field,
				formatFloat(a.Value),
				formatFloat(a.Threshold),
				a.Message,
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("writing anomaly row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// formatFloat keeps a fixed two-decimal representation so values like 13.4
// appear as 13.40 across exports.
func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
