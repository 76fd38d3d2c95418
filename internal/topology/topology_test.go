package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogResolvesAndNames(t *testing.T) {
	c, err := LoadCatalog([]CatalogRow{
		{MeterID: 1, ExternalID: 5001, Name: "Main Feeder"},
		{MeterID: 2, ExternalID: 5002, Name: " Load A "},
		{MeterID: 3, ExternalID: 5003},
	})
	require.NoError(t, err)

	id, ok := c.Resolve(5002)
	require.True(t, ok)
	assert.Equal(t, int64(2), id)

	_, ok = c.Resolve(9999)
	assert.False(t, ok)

	assert.Equal(t, "Main Feeder", c.Name(1))
	assert.Equal(t, "Load A", c.Name(2))
	assert.Equal(t, "Meter 3", c.Name(3))
	assert.Equal(t, "Meter 42", c.Name(42))
	assert.Equal(t, 3, c.Len())
}

func TestLoadCatalogDuplicateExternalIDIsReported(t *testing.T) {
	c, err := LoadCatalog([]CatalogRow{
		{MeterID: 1, ExternalID: 5001, Name: "A"},
		{MeterID: 2, ExternalID: 5001, Name: "B"},
		{MeterID: 1, ExternalID: 5003, Name: "C"},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 2)

	require.NotNil(t, c)
	id, ok := c.Resolve(5001)
	require.True(t, ok)
	assert.Equal(t, int64(1), id, "first row wins")
	_, ok = c.Resolve(5003)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestHierarchyRootsChildrenInternal(t *testing.T) {
	h, err := LoadHierarchy([]EdgeRow{
		{Parent: 1, Child: 3},
		{Parent: 1, Child: 2},
		{Parent: 2, Child: 4},
		{Parent: 10, Child: 11},
		{Parent: 1, Child: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 10}, h.Roots())
	assert.Equal(t, []int64{2, 3}, h.Children(1))
	assert.Empty(t, h.Children(4))
	assert.True(t, h.IsInternal(2))
	assert.False(t, h.IsInternal(4))
	assert.Equal(t, []int64{1, 2, 10}, h.Parents())
	assert.Equal(t, []int64{1, 2, 3, 4, 10, 11}, h.Nodes())
	assert.Len(t, h.Edges(), 4)

	p, ok := h.Parent(4)
	require.True(t, ok)
	assert.Equal(t, int64(2), p)
}

func TestHierarchyChildrenIsACopy(t *testing.T) {
	h, err := LoadHierarchy([]EdgeRow{{Parent: 1, Child: 2}, {Parent: 1, Child: 3}})
	require.NoError(t, err)

	kids := h.Children(1)
	kids[0] = 99
	assert.Equal(t, []int64{2, 3}, h.Children(1))
}

func TestHierarchyRejectsCyclesSelfLoopsAndSecondParents(t *testing.T) {
	h, err := LoadHierarchy([]EdgeRow{
		{Parent: 1, Child: 2},
		{Parent: 2, Child: 3},
		{Parent: 3, Child: 1}, // closes 1 -> 2 -> 3 -> 1
		{Parent: 4, Child: 4},
		{Parent: 5, Child: 3},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 3)

	assert.Equal(t, []int64{1}, h.Roots())
	assert.Empty(t, h.Children(3))
	assert.False(t, h.Contains(4))
	assert.False(t, h.Contains(5))
}

func TestValidateReportsNodesMissingFromCatalog(t *testing.T) {
	c, err := LoadCatalog([]CatalogRow{{MeterID: 1, ExternalID: 5001}})
	require.NoError(t, err)
	h, err := LoadHierarchy([]EdgeRow{{Parent: 1, Child: 2}})
	require.NoError(t, err)

	err = Validate(c, h)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"hierarchy node 2 missing from catalog"}, verr.Issues)
}

func TestLoadCSVFiles(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "meters.csv")
	hierarchyPath := filepath.Join(dir, "mapping.csv")

	require.NoError(t, os.WriteFile(catalogPath, []byte(
		"MeterID,AMR_MeterID,Name\n"+
			"1,5001,Main Feeder\n"+
			"2.0,5002,Load A\n"+
			"x,5003,Broken\n"), 0o644))
	require.NoError(t, os.WriteFile(hierarchyPath, []byte(
		"Parent Node ID,Child Node ID\n"+
			"1,2\n"), 0o644))

	c, err := LoadCatalogCSV(catalogPath)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 1)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "Load A", c.Name(2))

	h, err := LoadHierarchyCSV(hierarchyPath)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, h.Children(1))
}

func TestLoadCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.csv")
	require.NoError(t, os.WriteFile(path, []byte("parent,other\n1,2\n"), 0o644))

	_, err := LoadHierarchyCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing child column")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
meters:
  - id: 1
    external_id: 5001
    name: Main Feeder
  - id: 2
    external_id: 5002
    name: Load A
edges:
  - parent: 1
    child: 2
`), 0o644))

	c, h, err := LoadYAML(path)
	require.NoError(t, err)
	require.NoError(t, Validate(c, h))

	id, ok := c.Resolve(5001)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, []int64{1}, h.Roots())
}
