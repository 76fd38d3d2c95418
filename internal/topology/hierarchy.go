package topology

import (
	"sort"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// EdgeRow is one row of the parent/child mapping table
type EdgeRow struct {
	Parent int64
	Child  int64
}

// Hierarchy is a forest over canonical meter ids. It is read-only after
// LoadHierarchy returns.
type Hierarchy struct {
	children map[int64][]int64
	parent   map[int64]int64
	nodes    map[int64]struct{}
	edges    []models.Edge
}

// LoadHierarchy builds the forest from parent/child rows. Self loops, a
// second parent for a node and edges that would close a cycle are skipped
// and reported in the returned *ValidationError; repeated edges are ignored.
func LoadHierarchy(rows []EdgeRow) (*Hierarchy, error) {
	h := &Hierarchy{
		children: make(map[int64][]int64),
		parent:   make(map[int64]int64),
		nodes:    make(map[int64]struct{}),
	}
	verr := &ValidationError{Source: "hierarchy"}

	for i, row := range rows {
		switch {
		case row.Parent == row.Child:
			verr.add("row %d: self loop on node %d", i+1, row.Parent)
			continue
		case h.hasEdge(row.Parent, row.Child):
			continue
		}
		if p, ok := h.parent[row.Child]; ok {
			verr.add("row %d: node %d already has parent %d, ignoring parent %d", i+1, row.Child, p, row.Parent)
			continue
		}
		if h.isAncestor(row.Child, row.Parent) {
			verr.add("row %d: edge %d -> %d would create a cycle", i+1, row.Parent, row.Child)
			continue
		}

		h.children[row.Parent] = append(h.children[row.Parent], row.Child)
		h.parent[row.Child] = row.Parent
		h.nodes[row.Parent] = struct{}{}
		h.nodes[row.Child] = struct{}{}
		h.edges = append(h.edges, models.Edge{Parent: row.Parent, Child: row.Child})
	}

	for id := range h.children {
		kids := h.children[id]
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
	}

	return h, verr.err()
}

func (h *Hierarchy) hasEdge(parent, child int64) bool {
	p, ok := h.parent[child]
	return ok && p == parent
}

// isAncestor walks up from node looking for candidate
func (h *Hierarchy) isAncestor(candidate, node int64) bool {
	for cur, ok := node, true; ok; cur, ok = h.parent[cur] {
		if cur == candidate {
			return true
		}
	}
	return false
}

// Children returns the direct children of id in ascending order
func (h *Hierarchy) Children(id int64) []int64 {
	kids := h.children[id]
	out := make([]int64, len(kids))
	copy(out, kids)
	return out
}

// Parent returns the parent of id; false for roots and unknown ids
func (h *Hierarchy) Parent(id int64) (int64, bool) {
	p, ok := h.parent[id]
	return p, ok
}

// IsInternal reports whether id is the parent in at least one edge
func (h *Hierarchy) IsInternal(id int64) bool {
	return len(h.children[id]) > 0
}

// Contains reports whether id appears in any edge
func (h *Hierarchy) Contains(id int64) bool {
	_, ok := h.nodes[id]
	return ok
}

// Roots returns every node that never appears as a child, ascending
func (h *Hierarchy) Roots() []int64 {
	var roots []int64
	for id := range h.nodes {
		if _, hasParent := h.parent[id]; !hasParent {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// Parents returns every internal node, ascending
func (h *Hierarchy) Parents() []int64 {
	out := make([]int64, 0, len(h.children))
	for id := range h.children {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Nodes returns every node referenced by an edge, ascending
func (h *Hierarchy) Nodes() []int64 {
	out := make([]int64, 0, len(h.nodes))
	for id := range h.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns the accepted edges in load order
func (h *Hierarchy) Edges() []models.Edge {
	out := make([]models.Edge, len(h.edges))
	copy(out, h.edges)
	return out
}

// Validate checks that every hierarchy node resolves in the catalog. The
// mismatch is reported but is never fatal: live data for orphaned nodes is
// simply not nameable.
func Validate(c *Catalog, h *Hierarchy) error {
	verr := &ValidationError{Source: "topology"}
	for _, id := range h.Nodes() {
		if !c.Known(id) {
			verr.add("hierarchy node %d missing from catalog", id)
		}
	}
	return verr.err()
}
