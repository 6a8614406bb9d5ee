package caseio

import (
	"fmt"
	"strconv"
	"strings"

	"gasplan/domain/core"
	"gasplan/domain/network"
)

// record wraps one data row with enough context to produce case errors
// that name the table and the 1-based data row.
type record struct {
	table string
	row   int
	cells map[string]string
}

func (r record) fail(col, reason string) error {
	return core.NewCaseError(r.table, r.row, fmt.Sprintf("column %q: %s", col, reason))
}

func (r record) str(col string) (string, error) {
	v := r.cells[col]
	if v == "" {
		return "", r.fail(col, "value required")
	}
	return v, nil
}

func (r record) float(col string) (float64, error) {
	v := r.cells[col]
	if v == "" {
		return 0, r.fail(col, "value required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, r.fail(col, fmt.Sprintf("not a number: %q", v))
	}
	return f, nil
}

func (r record) floatOr(col string, def float64) (float64, error) {
	v := r.cells[col]
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, r.fail(col, fmt.Sprintf("not a number: %q", v))
	}
	return f, nil
}

func (r record) intOr(col string, def int) (int, error) {
	v := r.cells[col]
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, r.fail(col, fmt.Sprintf("not an integer: %q", v))
	}
	return n, nil
}

func (r record) boolOr(col string, def bool) (bool, error) {
	v := strings.ToLower(r.cells[col])
	switch v {
	case "":
		return def, nil
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, r.fail(col, fmt.Sprintf("not a boolean: %q", v))
	}
	return b, nil
}

func parseNodes(t *table) ([]network.Node, error) {
	if err := t.requireColumns("id", "demand", "min_pressure_sq", "max_pressure_sq"); err != nil {
		return nil, err
	}

	nodes := make([]network.Node, 0, len(t.rows))
	for i, cells := range t.rows {
		rec := record{table: t.name, row: i + 1, cells: cells}

		id, err := rec.str("id")
		if err != nil {
			return nil, err
		}
		demand, err := rec.float("demand")
		if err != nil {
			return nil, err
		}
		minP, err := rec.float("min_pressure_sq")
		if err != nil {
			return nil, err
		}
		maxP, err := rec.float("max_pressure_sq")
		if err != nil {
			return nil, err
		}
		ref, err := rec.boolOr("reference", false)
		if err != nil {
			return nil, err
		}
		gauge, err := rec.floatOr("gauge_pressure_sq", 0)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, network.Node{
			ID:              id,
			Demand:          demand,
			MinPressureSq:   minP,
			MaxPressureSq:   maxP,
			Reference:       ref,
			GaugePressureSq: gauge,
		})
	}
	return nodes, nil
}

func parsePipes(t *table) ([]network.Pipe, error) {
	if err := t.requireColumns("id", "from", "to", "resistance"); err != nil {
		return nil, err
	}

	pipes := make([]network.Pipe, 0, len(t.rows))
	for i, cells := range t.rows {
		rec := record{table: t.name, row: i + 1, cells: cells}

		id, err := rec.str("id")
		if err != nil {
			return nil, err
		}
		from, err := rec.str("from")
		if err != nil {
			return nil, err
		}
		to, err := rec.str("to")
		if err != nil {
			return nil, err
		}
		resistance, err := rec.float("resistance")
		if err != nil {
			return nil, err
		}
		active, err := rec.boolOr("active", false)
		if err != nil {
			return nil, err
		}
		minC, err := rec.floatOr("min_compression", 0)
		if err != nil {
			return nil, err
		}
		maxC, err := rec.floatOr("max_compression", 0)
		if err != nil {
			return nil, err
		}
		side, err := rec.intOr("compression_side", 0)
		if err != nil {
			return nil, err
		}
		if active && side == 0 {
			side = 1 // boost at the sending end unless stated otherwise
		}

		pipes = append(pipes, network.Pipe{
			ID:              id,
			From:            from,
			To:              to,
			Resistance:      resistance,
			Active:          active,
			MinCompression:  minC,
			MaxCompression:  maxC,
			CompressionSide: side,
		})
	}
	return pipes, nil
}

func parseProducers(t *table) ([]network.Producer, error) {
	if err := t.requireColumns("id", "node", "cost_quad", "cost_lin", "min_injection", "max_injection"); err != nil {
		return nil, err
	}

	producers := make([]network.Producer, 0, len(t.rows))
	for i, cells := range t.rows {
		rec := record{table: t.name, row: i + 1, cells: cells}

		id, err := rec.str("id")
		if err != nil {
			return nil, err
		}
		node, err := rec.str("node")
		if err != nil {
			return nil, err
		}
		costQuad, err := rec.float("cost_quad")
		if err != nil {
			return nil, err
		}
		costLin, err := rec.float("cost_lin")
		if err != nil {
			return nil, err
		}
		minInj, err := rec.float("min_injection")
		if err != nil {
			return nil, err
		}
		maxInj, err := rec.float("max_injection")
		if err != nil {
			return nil, err
		}

		producers = append(producers, network.Producer{
			ID:           id,
			Node:         node,
			CostQuad:     costQuad,
			CostLin:      costLin,
			MinInjection: minInj,
			MaxInjection: maxInj,
		})
	}
	return producers, nil
}
