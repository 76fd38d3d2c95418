package topology

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// Accepted header spellings, normalized by normalizeHeader
var (
	meterIDHeaders    = []string{"meterid", "id"}
	externalIDHeaders = []string{"amrmeterid", "externalid"}
	nameHeaders       = []string{"name", "metername"}
	parentHeaders     = []string{"parentnodeid", "parentid", "parent"}
	childHeaders      = []string{"childnodeid", "childid", "child"}
)

// Document is the YAML topology layout
type Document struct {
	Meters []models.MeterNode `yaml:"meters"`
	Edges  []models.Edge      `yaml:"edges"`
}

// LoadCatalogCSV reads catalog rows from a CSV file with a header line.
// Rows that cannot be parsed are skipped and reported as validation issues.
func LoadCatalogCSV(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file '%s': %w", path, err)
	}
	defer f.Close()

	rows, verr, err := readCatalogRows(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file '%s': %w", path, err)
	}

	catalog, loadErr := LoadCatalog(rows)
	return catalog, mergeValidation(verr, loadErr)
}

// LoadHierarchyCSV reads parent/child rows from a CSV file with a header line
func LoadHierarchyCSV(path string) (*Hierarchy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hierarchy file '%s': %w", path, err)
	}
	defer f.Close()

	rows, verr, err := readEdgeRows(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy file '%s': %w", path, err)
	}

	hierarchy, loadErr := LoadHierarchy(rows)
	return hierarchy, mergeValidation(verr, loadErr)
}

// LoadYAML reads a combined meters/edges document
func LoadYAML(path string) (*Catalog, *Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read topology file '%s': %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse topology from YAML: %w", err)
	}

	meterRows := make([]CatalogRow, 0, len(doc.Meters))
	for _, m := range doc.Meters {
		meterRows = append(meterRows, CatalogRow{MeterID: m.ID, ExternalID: m.ExternalID, Name: m.Name})
	}
	edgeRows := make([]EdgeRow, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		edgeRows = append(edgeRows, EdgeRow{Parent: e.Parent, Child: e.Child})
	}

	catalog, catErr := LoadCatalog(meterRows)
	hierarchy, hierErr := LoadHierarchy(edgeRows)
	return catalog, hierarchy, errors.Join(catErr, hierErr)
}

func readCatalogRows(r io.Reader) ([]CatalogRow, *ValidationError, error) {
	records, header, err := readTable(r)
	if err != nil {
		return nil, nil, err
	}

	idCol, ok := header.find(meterIDHeaders)
	if !ok {
		return nil, nil, fmt.Errorf("missing meter id column")
	}
	extCol, ok := header.find(externalIDHeaders)
	if !ok {
		return nil, nil, fmt.Errorf("missing external id column")
	}
	nameCol, hasName := header.find(nameHeaders)

	verr := &ValidationError{Source: "catalog"}
	rows := make([]CatalogRow, 0, len(records))
	for i, rec := range records {
		line := i + 2 // header is line 1
		id, err := parseID(field(rec, idCol))
		if err != nil {
			verr.add("line %d: meter id: %v", line, err)
			continue
		}
		ext, err := parseID(field(rec, extCol))
		if err != nil {
			verr.add("line %d: external id: %v", line, err)
			continue
		}
		row := CatalogRow{MeterID: id, ExternalID: ext}
		if hasName {
			row.Name = field(rec, nameCol)
		}
		rows = append(rows, row)
	}
	return rows, verr, nil
}

func readEdgeRows(r io.Reader) ([]EdgeRow, *ValidationError, error) {
	records, header, err := readTable(r)
	if err != nil {
		return nil, nil, err
	}

	parentCol, ok := header.find(parentHeaders)
	if !ok {
		return nil, nil, fmt.Errorf("missing parent column")
	}
	childCol, ok := header.find(childHeaders)
	if !ok {
		return nil, nil, fmt.Errorf("missing child column")
	}

	verr := &ValidationError{Source: "hierarchy"}
	rows := make([]EdgeRow, 0, len(records))
	for i, rec := range records {
		line := i + 2
		parent, err := parseID(field(rec, parentCol))
		if err != nil {
			verr.add("line %d: parent id: %v", line, err)
			continue
		}
		child, err := parseID(field(rec, childCol))
		if err != nil {
			verr.add("line %d: child id: %v", line, err)
			continue
		}
		rows = append(rows, EdgeRow{Parent: parent, Child: child})
	}
	return rows, verr, nil
}

type headerIndex map[string]int

func (h headerIndex) find(names []string) (int, bool) {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func readTable(r io.Reader) ([][]string, headerIndex, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, headerIndex{}, nil
		}
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := make(headerIndex, len(headers))
	for i, h := range headers {
		index[normalizeHeader(h)] = i
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return records, index, nil
}

// normalizeHeader folds "Parent Node ID", "parent_node_id" and a BOM-prefixed
// "ParentNodeID" into "parentnodeid"
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(h)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

func field(rec []string, col int) string {
	if col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

// parseID accepts integers and integral floats ("42.0"), which is how
// spreadsheet exports often render id columns.
func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return int64(f), nil
}

func mergeValidation(parse *ValidationError, load error) error {
	if parse == nil || len(parse.Issues) == 0 {
		return load
	}
	var loadErr *ValidationError
	if errors.As(load, &loadErr) {
		parse.Issues = append(parse.Issues, loadErr.Issues...)
	}
	return parse
}
