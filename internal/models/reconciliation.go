package models

// Classification is the reconciliation state of an internal node
type Classification string

const (
	Balanced Classification = "balanced"
	Surplus  Classification = "surplus"
	Deficit  Classification = "deficit"
)

// WarningKind identifies a non-fatal reconciliation anomaly
type WarningKind string

const (
	// WarnChildrenWithoutData: internal node whose children reported nothing in the window
	WarnChildrenWithoutData WarningKind = "children_without_data"
	// WarnUnknownMeter: node referenced by the hierarchy but absent from the catalog
	WarnUnknownMeter WarningKind = "unknown_meter"
)

// Comparison is the parent-versus-children result for an internal node
type Comparison struct {
	Expected       float64        `json:"expected"`
	DiscrepancyPct float64        `json:"discrepancyPct"`
	Defined        bool           `json:"defined"` // false when expected is zero
	Classification Classification `json:"classification"`
}

// Node is one annotated meter in a reconciled tree
type Node struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Actual     float64     `json:"actual"`
	HasData    bool        `json:"hasData"`
	Comparison *Comparison `json:"comparison,omitempty"` // nil for leaves
}

// Internal reports whether the node carries a children comparison
func (n Node) Internal() bool {
	return n.Comparison != nil
}

// Warning is an observable anomaly found while reconciling
type Warning struct {
	MeterID int64       `json:"meterId"`
	Kind    WarningKind `json:"kind"`
}

// Tree is the annotated subtree produced by a reconciliation
type Tree struct {
	Root     *int64    `json:"root,omitempty"`
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Node returns the annotated node with the given id
func (t Tree) Node(id int64) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Empty reports whether the tree has no elements
func (t Tree) Empty() bool {
	return len(t.Nodes) == 0
}
