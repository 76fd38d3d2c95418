package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// CatalogRow is one row of the meter catalog input table
type CatalogRow struct {
	MeterID    int64
	ExternalID int64
	Name       string
}

// Catalog maps external device identifiers to canonical meter nodes.
// It is read-only after LoadCatalog returns.
type Catalog struct {
	byID       map[int64]models.MeterNode
	byExternal map[int64]int64
}

// LoadCatalog builds a catalog from rows. Duplicate canonical or external
// ids keep the first row; every skipped row is reported in the returned
// *ValidationError while the catalog stays usable.
func LoadCatalog(rows []CatalogRow) (*Catalog, error) {
	c := &Catalog{
		byID:       make(map[int64]models.MeterNode, len(rows)),
		byExternal: make(map[int64]int64, len(rows)),
	}
	verr := &ValidationError{Source: "catalog"}

	for i, row := range rows {
		if _, dup := c.byID[row.MeterID]; dup {
			verr.add("row %d: duplicate meter id %d", i+1, row.MeterID)
			continue
		}
		if owner, dup := c.byExternal[row.ExternalID]; dup {
			verr.add("row %d: external id %d already mapped to meter %d", i+1, row.ExternalID, owner)
			continue
		}
		c.byID[row.MeterID] = models.MeterNode{
			ID:         row.MeterID,
			ExternalID: row.ExternalID,
			Name:       strings.TrimSpace(row.Name),
		}
		c.byExternal[row.ExternalID] = row.MeterID
	}

	return c, verr.err()
}

// Resolve maps an external device identifier to its canonical meter id
func (c *Catalog) Resolve(externalID int64) (int64, bool) {
	id, ok := c.byExternal[externalID]
	return id, ok
}

// Lookup returns the catalog entry for a canonical id
func (c *Catalog) Lookup(id int64) (models.MeterNode, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Known reports whether the canonical id is in the catalog
func (c *Catalog) Known(id int64) bool {
	_, ok := c.byID[id]
	return ok
}

// Name returns the display name of a meter, or "Meter {id}" when the meter
// is missing or unnamed.
func (c *Catalog) Name(id int64) string {
	if m, ok := c.byID[id]; ok && m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("Meter %d", id)
}

// Meters returns every catalog entry ordered by canonical id
func (c *Catalog) Meters() []models.MeterNode {
	out := make([]models.MeterNode, 0, len(c.byID))
	for _, m := range c.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of meters in the catalog
func (c *Catalog) Len() int {
	return len(c.byID)
}
