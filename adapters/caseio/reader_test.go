package caseio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gasplan/domain/core"
	"gasplan/domain/network"
)

const (
	nodesCSV = `id,demand,min_pressure_sq,max_pressure_sq,reference,gauge_pressure_sq
n1,0,2500,5000,true,4600
n2,10,2000,4900,,
n3,12,1600,4800,,
`
	pipesCSV = `id,from,to,resistance,active,min_compression,max_compression,compression_side
p1,n1,n2,0.6,,,,
p2,n2,n3,0.8,true,0,5,1
`
	producersCSV = `id,node,cost_quad,cost_lin,min_injection,max_injection
g1,n1,0.02,1.5,0,60
`
)

func writeCSVCase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"nodes.csv":     nodesCSV,
		"pipes.csv":     pipesCSV,
		"producers.csv": producersCSV,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func writeWorkbookCase(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheets := map[string][][]interface{}{
		"Nodes": {
			{"id", "demand", "min_pressure_sq", "max_pressure_sq", "reference", "gauge_pressure_sq"},
			{"n1", 0, 2500, 5000, "true", 4600},
			{"n2", 10, 2000, 4900},
			{"n3", 12, 1600, 4800},
		},
		"Pipes": {
			{"id", "from", "to", "resistance", "active", "min_compression", "max_compression", "compression_side"},
			{"p1", "n1", "n2", 0.6},
			{"p2", "n2", "n3", 0.8, "true", 0, 5, 1},
		},
		"Producers": {
			{"id", "node", "cost_quad", "cost_lin", "min_injection", "max_injection"},
			{"g1", "n1", 0.02, 1.5, 0, 60},
		},
	}
	for sheet, rows := range sheets {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cell, &row))
		}
	}

	path := filepath.Join(t.TempDir(), "ring.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func assertLineCase(t *testing.T, c network.Case) {
	t.Helper()
	require.Len(t, c.Nodes, 3)
	require.Len(t, c.Pipes, 2)
	require.Len(t, c.Producers, 1)

	assert.Equal(t, "n1", c.Nodes[0].ID)
	assert.True(t, c.Nodes[0].Reference)
	assert.Equal(t, 4600.0, c.Nodes[0].GaugePressureSq)
	assert.Equal(t, 10.0, c.Nodes[1].Demand)

	assert.False(t, c.Pipes[0].Active)
	assert.True(t, c.Pipes[1].Active)
	assert.Equal(t, 5.0, c.Pipes[1].MaxCompression)
	assert.Equal(t, 1, c.Pipes[1].CompressionSide)

	assert.Equal(t, "g1", c.Producers[0].ID)
	assert.Equal(t, 0.02, c.Producers[0].CostQuad)

	// The loaded case must survive full network assembly.
	_, err := network.Build(c)
	assert.NoError(t, err)
}

func TestReadCaseFromCSVDir(t *testing.T) {
	dir := writeCSVCase(t)

	c, err := NewReader(dir, "line-3").ReadCase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "line-3", c.Name)
	assertLineCase(t, c)
}

func TestReadCaseFromWorkbook(t *testing.T) {
	path := writeWorkbookCase(t)

	c, err := NewReader(path, "").ReadCase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ring", c.Name, "case name falls back to the file base name")
	assertLineCase(t, c)
}

func TestReadCaseMissingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes.csv"), []byte(nodesCSV), 0o644))

	_, err := NewReader(dir, "").ReadCase(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBadCase))
}

func TestReadCaseBadCell(t *testing.T) {
	dir := writeCSVCase(t)
	bad := `id,demand,min_pressure_sq,max_pressure_sq
n1,zero,2500,5000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes.csv"), []byte(bad), 0o644))

	_, err := NewReader(dir, "").ReadCase(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBadCase))
	assert.Contains(t, err.Error(), "nodes row 1")
	assert.Contains(t, err.Error(), "demand")
}

func TestReadCaseMissingColumn(t *testing.T) {
	dir := writeCSVCase(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "producers.csv"), []byte("id,node\ng1,n1\n"), 0o644))

	_, err := NewReader(dir, "").ReadCase(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBadCase))
	assert.Contains(t, err.Error(), "cost_quad")
}

func TestReadCaseUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := NewReader(path, "").ReadCase(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBadCase))
}

func TestReadCaseCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReader(writeCSVCase(t), "").ReadCase(ctx)
	assert.Error(t, err)
}
