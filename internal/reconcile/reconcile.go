package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// Topology exposes the parent -> child edges of the meter forest
type Topology interface {
	Children(id int64) []int64
}

// Namer resolves display names for canonical meter ids
type Namer interface {
	Name(id int64) string
	Known(id int64) bool
}

// comparePlaces is the rounding applied before classifying, so float noise
// below a hundredth of a unit never flips a balanced node
const comparePlaces = 2

// Reconcile annotates the subtree rooted at scope with each node's windowed
// consumption and, for internal nodes, the comparison against the sum of
// their children. A nil scope yields an empty tree.
//
// The result depends only on the inputs: nodes are listed in depth-first
// preorder and children in the order the topology returns them.
func Reconcile(agg models.Aggregation, topo Topology, names Namer, scope *int64) models.Tree {
	tree := models.Tree{
		Nodes: []models.Node{},
		Edges: []models.Edge{},
	}
	if scope == nil {
		return tree
	}
	root := *scope
	tree.Root = &root

	edges, order := walk(topo, root)
	if len(edges) == 0 {
		return tree
	}
	tree.Edges = edges

	children := make(map[int64][]int64, len(order))
	for _, e := range edges {
		children[e.Parent] = append(children[e.Parent], e.Child)
	}

	for _, id := range order {
		actual, hasData := agg.Value(id)
		node := models.Node{
			ID:      id,
			Name:    names.Name(id),
			Actual:  actual,
			HasData: hasData,
		}
		if !names.Known(id) {
			tree.Warnings = append(tree.Warnings, models.Warning{MeterID: id, Kind: models.WarnUnknownMeter})
		}

		if kids := children[id]; len(kids) > 0 {
			cmp, childData := compare(agg, actual, kids)
			node.Comparison = &cmp
			if !childData {
				tree.Warnings = append(tree.Warnings, models.Warning{MeterID: id, Kind: models.WarnChildrenWithoutData})
			}
		}
		tree.Nodes = append(tree.Nodes, node)
	}

	return tree
}

// walk collects the edges reachable from root in depth-first order. Each
// edge is followed at most once, so a malformed topology containing a
// cycle still terminates.
func walk(topo Topology, root int64) ([]models.Edge, []int64) {
	type frame struct {
		id   int64
		kids []int64
		next int
	}

	visited := make(map[models.Edge]struct{})
	seen := map[int64]struct{}{root: {}}
	order := []int64{root}
	var edges []models.Edge

	stack := []*frame{{id: root, kids: topo.Children(root)}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.kids) {
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.kids[top.next]
		top.next++

		edge := models.Edge{Parent: top.id, Child: child}
		if _, ok := visited[edge]; ok {
			continue
		}
		visited[edge] = struct{}{}
		edges = append(edges, edge)

		if _, ok := seen[child]; !ok {
			seen[child] = struct{}{}
			order = append(order, child)
		}
		stack = append(stack, &frame{id: child, kids: topo.Children(child)})
	}

	return edges, order
}

// compare sums the children's windowed values and classifies the parent.
// The second result is false when none of the children reported data.
func compare(agg models.Aggregation, actual float64, kids []int64) (models.Comparison, bool) {
	var expected float64
	childData := false
	for _, k := range kids {
		if v, ok := agg.Value(k); ok {
			expected += v
			childData = true
		}
	}

	cmp := models.Comparison{
		Expected:       expected,
		Classification: Classify(actual, expected),
	}
	if expected != 0 {
		cmp.DiscrepancyPct = (actual - expected) / expected * 100
		cmp.Defined = true
	}
	return cmp, childData
}

// Classify compares actual against expected after rounding both to two
// decimal places
func Classify(actual, expected float64) models.Classification {
	a := decimal.NewFromFloat(actual).Round(comparePlaces)
	e := decimal.NewFromFloat(expected).Round(comparePlaces)
	switch a.Cmp(e) {
	case 1:
		return models.Surplus
	case -1:
		return models.Deficit
	default:
		return models.Balanced
	}
}
