package influxdb

import (
	"testing"
	"time"

	lp "github.com/influxdata/line-protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

func tagMap(tags []*lp.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(fields []*lp.Field) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

func TestReconciliationPoints(t *testing.T) {
	root := int64(1)
	end := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)
	snap := models.Snapshot{
		ScopeRoot: 1,
		WindowEnd: end,
		Tree: models.Tree{
			Root: &root,
			Nodes: []models.Node{
				{ID: 1, Name: "Main Feeder", Actual: 50, HasData: true, Comparison: &models.Comparison{
					Expected: 40, DiscrepancyPct: 25, Defined: true, Classification: models.Surplus,
				}},
				{ID: 2, Name: "Load A", Actual: 40, HasData: true},
			},
			Edges: []models.Edge{{Parent: 1, Child: 2}},
		},
	}

	points := reconciliationPoints([]models.Snapshot{snap})
	require.Len(t, points, 2)

	internal := points[0]
	assert.Equal(t, "reconciliation", internal.Name())
	assert.Equal(t, end, internal.Time())
	assert.Equal(t, map[string]string{
		"meter_id":       "1",
		"scope_root":     "1",
		"kind":           "internal",
		"classification": "surplus",
	}, tagMap(internal.TagList()))
	assert.Equal(t, map[string]interface{}{
		"actual":              50.0,
		"has_data":            true,
		"expected":            40.0,
		"discrepancy_pct":     25.0,
		"discrepancy_defined": true,
	}, fieldMap(internal.FieldList()))

	leaf := points[1]
	assert.Equal(t, map[string]string{
		"meter_id":   "2",
		"scope_root": "1",
		"kind":       "leaf",
	}, tagMap(leaf.TagList()))
	assert.NotContains(t, fieldMap(leaf.FieldList()), "expected")
}

func TestReconciliationPointsEmptyTree(t *testing.T) {
	assert.Empty(t, reconciliationPoints([]models.Snapshot{{ScopeRoot: 3}}))
	assert.Empty(t, reconciliationPoints(nil))
}
