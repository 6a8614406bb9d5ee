// Package caseio loads gas network cases from tabular files. A case is
// three datasets (nodes, pipes, producers) supplied either as a directory
// of CSV files or as a single Excel workbook with one sheet per dataset.
package caseio

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"gasplan/domain/core"
	"gasplan/domain/network"
	"gasplan/internal"
)

const (
	tableNodes     = "nodes"
	tablePipes     = "pipes"
	tableProducers = "producers"
)

// sheetNames maps dataset names to workbook sheet names.
var sheetNames = map[string]string{
	tableNodes:     "Nodes",
	tablePipes:     "Pipes",
	tableProducers: "Producers",
}

// Reader reads a case from disk. The path is either a directory holding
// nodes.csv, pipes.csv and producers.csv, or an .xlsx workbook with
// Nodes, Pipes and Producers sheets.
type Reader struct {
	path string
	name string
	log  *internal.Logger
}

// NewReader creates a reader for the given path. An empty name derives
// the case name from the file or directory base name.
func NewReader(path, name string) *Reader {
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &Reader{
		path: path,
		name: name,
		log:  internal.DefaultLogger.Tagged("CaseIO"),
	}
}

// ReadCase loads and parses the three datasets into a Case. Structural
// validation beyond cell parsing is left to network.Build.
func (r *Reader) ReadCase(ctx context.Context) (network.Case, error) {
	if err := ctx.Err(); err != nil {
		return network.Case{}, err
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return network.Case{}, fmt.Errorf("case path %s: %w", r.path, err)
	}

	var tables map[string]*table
	switch {
	case info.IsDir():
		tables, err = r.readCSVDir()
	case strings.EqualFold(filepath.Ext(r.path), ".xlsx"):
		tables, err = r.readWorkbook()
	default:
		return network.Case{}, fmt.Errorf("%w: unsupported case format %q (want directory of CSVs or .xlsx)", core.ErrBadCase, r.path)
	}
	if err != nil {
		return network.Case{}, err
	}

	nodes, err := parseNodes(tables[tableNodes])
	if err != nil {
		return network.Case{}, err
	}
	pipes, err := parsePipes(tables[tablePipes])
	if err != nil {
		return network.Case{}, err
	}
	producers, err := parseProducers(tables[tableProducers])
	if err != nil {
		return network.Case{}, err
	}

	r.log.Info("case %q loaded: %d nodes, %d pipes, %d producers", r.name, len(nodes), len(pipes), len(producers))
	return network.Case{Name: r.name, Nodes: nodes, Pipes: pipes, Producers: producers}, nil
}

// readCSVDir reads the three CSV files from the case directory.
func (r *Reader) readCSVDir() (map[string]*table, error) {
	tables := make(map[string]*table, 3)
	for _, name := range []string{tableNodes, tablePipes, tableProducers} {
		path := filepath.Join(r.path, name+".csv")
		t, err := readCSVTable(name, path)
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

func readCSVTable(name, path string) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrBadCase, path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // optional trailing columns may be omitted
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrBadCase, path, err)
	}
	return tableFromRows(name, rows)
}

// readWorkbook reads the three sheets from a single .xlsx file.
func (r *Reader) readWorkbook() (map[string]*table, error) {
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook %s: %v", core.ErrBadCase, r.path, err)
	}
	defer f.Close()

	tables := make(map[string]*table, 3)
	for _, name := range []string{tableNodes, tablePipes, tableProducers} {
		sheet := sheetNames[name]
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", core.ErrBadCase, sheet, err)
		}
		t, err := tableFromRows(name, rows)
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

// table is one parsed dataset: lower-cased headers and one string map per
// data row, in file order.
type table struct {
	name    string
	headers []string
	rows    []map[string]string
}

// tableFromRows converts raw rows into a table, trimming cells and
// skipping fully blank lines.
func tableFromRows(name string, raw [][]string) (*table, error) {
	if len(raw) == 0 {
		return nil, core.NewCaseError(name, 0, "missing header row")
	}

	headers := make([]string, len(raw[0]))
	for i, h := range raw[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	t := &table{name: name, headers: headers}
	for _, row := range raw[1:] {
		cells := make(map[string]string, len(headers))
		blank := true
		for j, cell := range row {
			if j >= len(headers) {
				break
			}
			v := strings.TrimSpace(cell)
			cells[headers[j]] = v
			if v != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		t.rows = append(t.rows, cells)
	}
	if len(t.rows) == 0 {
		return nil, core.NewCaseError(name, 0, "no data rows")
	}
	return t, nil
}

// requireColumns verifies the header row names every mandatory column.
func (t *table) requireColumns(cols ...string) error {
	present := make(map[string]bool, len(t.headers))
	for _, h := range t.headers {
		present[h] = true
	}
	for _, c := range cols {
		if !present[c] {
			return core.NewCaseError(t.name, 0, fmt.Sprintf("missing column %q", c))
		}
	}
	return nil
}
