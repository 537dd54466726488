package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxwatch/pkg/contracts/domain"
)

func TestWriteCSV(t *testing.T) {
	res := &domain.Result{
		ID:    uuid.New(),
		Table: domain.TableDailyPrices,
		Anomalies: []domain.Anomaly{
			{
				Rule:     "daily_change",
				Severity: domain.SeverityWarning,
				Symbol:   "BBCA",
				Date:     time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
				Field:    "close",
				Value:    -0.583,
				Message:  "close moved -58.3% in one session",
			},
			{
				Rule:     "range",
				Severity: domain.SeverityCritical,
				Symbol:   "SUSP",
				Message:  "close=0 outside sane range [1, 1e+07]",
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*domain.Result{res}))

	raw := buf.Bytes()
	require.True(t, bytes.HasPrefix(raw, utf8BOM), "output must start with a UTF-8 BOM")

	records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, detailHeader, records[0])
	assert.Equal(t, "daily_change", records[1][2])
	assert.Equal(t, "BBCA", records[1][4])
	assert.Equal(t, "2024-06-02", records[1][5])
	assert.Equal(t, "-0.58", records[1][7])
	assert.Equal(t, "critical", records[2][3])
	assert.Empty(t, records[2][5], "zero date renders empty")
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}
