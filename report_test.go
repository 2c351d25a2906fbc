package bulkingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAccounting(t *testing.T) {
	report := NewReport()

	report.Observe(OperationCreateNode, 2*time.Second)
	report.Observe(OperationCreateNode, 4*time.Second)
	report.Observe(OperationCreateFile, time.Second)
	report.Observe(OperationKind("delete_node"), 10*time.Second)

	report.AddProcessed(ProcessedEntry{TempID: "A", UUID: "u1"})
	report.AddProcessed(ProcessedEntry{TempID: "B", UUID: "u2"})
	report.AddError(OperationCreateFile, "F", errors.New("uri is required"))
	report.AddError(OperationKind("delete_node"), "", errors.New("unknown operation: delete_node"))

	report.Finalize(20 * time.Second)

	stats := report.Stats
	assert.Equal(t, 4, stats.TotalOperations, "every attempt counts toward the total")
	assert.Equal(t, 2, stats.CreateNode.Count)
	assert.InDelta(t, 6.0, stats.CreateNode.TotalTime, 1e-9)
	assert.InDelta(t, 3.0, stats.CreateNode.AvgTime, 1e-9)
	assert.Equal(t, 1, stats.CreateFile.Count)
	assert.Zero(t, stats.UpdateNode.Count)
	assert.Zero(t, stats.UpdateNode.AvgTime)
	assert.InDelta(t, 20.0, stats.TotalTime, 1e-9)

	assert.Equal(t, UnknownTempID, report.Errors[1].TempID)
	assert.Equal(t, "delete_node", report.Errors[1].Op)
	assert.Equal(t, len(report.Processed)+len(report.Errors), stats.TotalOperations)
	assert.False(t, report.Succeeded())
	assert.True(t, NewReport().Succeeded())
}

func TestReportJSON(t *testing.T) {
	vid := int64(5)
	report := NewReport()
	report.AddProcessed(ProcessedEntry{TempID: "A", UUID: "u1", RevisionID: &vid})
	report.AddProcessed(ProcessedEntry{TempID: "F", UUID: "u2"})
	report.Finalize(0)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	processed := decoded["processed"].([]any)
	assert.Equal(t, map[string]any{"temp_id": "A", "uuid": "u1", "vid": float64(5)}, processed[0])
	assert.Equal(t, map[string]any{"temp_id": "F", "uuid": "u2"}, processed[1])
	assert.Equal(t, []any{}, decoded["errors"])

	stats := decoded["stats"].(map[string]any)
	assert.Equal(t, map[string]any{"count": float64(0), "total_time": float64(0), "avg_time": float64(0)}, stats["create_media"])
}
