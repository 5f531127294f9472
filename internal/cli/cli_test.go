package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

type stubHistory struct {
	metrics  []domain.SLAMetric
	episodes []domain.BreachEpisode
	err      error

	from, to time.Time
}

func (s *stubHistory) Metrics(ctx context.Context, orgID string, from, to time.Time) ([]domain.SLAMetric, error) {
	s.from, s.to = from, to
	return s.metrics, s.err
}

func (s *stubHistory) Episodes(ctx context.Context, orgID string, from, to time.Time) ([]domain.BreachEpisode, error) {
	return s.episodes, nil
}

var fixedNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func TestWriteReport(t *testing.T) {
	reader := &stubHistory{
		metrics: []domain.SLAMetric{{
			OrgID:      "org-1",
			EndpointID: "eth-1",
			Type:       domain.MetricUptime,
			Value:      50,
			Threshold:  100,
			Compliance: 50,
			Status:     domain.StatusBreach,
			Timestamp:  fixedNow.Add(-time.Hour),
		}},
		episodes: []domain.BreachEpisode{{
			ID:       "ep-1",
			OrgID:    "org-1",
			Type:     domain.MetricUptime,
			Start:    fixedNow.Add(-time.Hour),
			End:      fixedNow.Add(-time.Hour),
			Severity: domain.SeverityCritical,
		}},
	}

	var out bytes.Buffer
	require.NoError(t, writeReport(context.Background(), &out, reader, "org-1", 7, fixedNow))

	assert.Equal(t, fixedNow.AddDate(0, 0, -7), reader.from)
	assert.Equal(t, fixedNow, reader.to)

	var report domain.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "org-1", report.OrgID)
	assert.Equal(t, 50.0, report.OverallCompliance)
	require.Len(t, report.Breaches, 1)
	assert.Equal(t, "ep-1", report.Breaches[0].ID)
	assert.True(t, strings.HasPrefix(out.String(), "{\n  "), "report is indented")
}

func TestWriteReport_ReadError(t *testing.T) {
	reader := &stubHistory{err: errors.New("connection refused")}

	var out bytes.Buffer
	err := writeReport(context.Background(), &out, reader, "org-1", 30, fixedNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read metrics")
	assert.Empty(t, out.String())
}

func TestWriteAlerts(t *testing.T) {
	var out bytes.Buffer
	writeAlerts(&out, []domain.SLAAlert{
		{ID: "a-1", OrgID: "org-1", EndpointID: "eth-1", Type: domain.MetricErrorRate, Severity: domain.AlertCritical, Compliance: 12.5, CreatedAt: fixedNow},
		{ID: "a-2", OrgID: "org-1", Type: domain.MetricUptime, Severity: domain.AlertWarning, Compliance: 97, Acknowledged: true, CreatedAt: fixedNow},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SEVERITY")
	assert.Contains(t, lines[1], "eth-1")
	assert.Contains(t, lines[1], "12.50")
	assert.Contains(t, lines[2], "*")
	assert.Contains(t, lines[2], "true")
}

func TestWriteSample(t *testing.T) {
	var out bytes.Buffer
	writeSample(&out, "https://eth.example.com", domain.HealthSample{
		Online:      true,
		ChainID:     1,
		BlockNumber: 19000000,
		GasPrice:    big.NewInt(30000000000),
	})
	assert.Contains(t, out.String(), "https://eth.example.com")
	assert.Contains(t, out.String(), "30000000000")
	assert.NotContains(t, out.String(), "error")

	out.Reset()
	writeSample(&out, "https://down.example.com", domain.HealthSample{
		Error:     "connection refused",
		ErrorKind: domain.ErrorKindConnectivity,
	})
	assert.Contains(t, out.String(), "connection refused (connectivity)")
	assert.NotContains(t, out.String(), "gas_price")
}
