package ports

import (
	"context"

	"gasplan/domain/network"
)

// CaseReader loads a raw network case from an external source (CSV
// directory, workbook, ...). Validation happens in network.Build, not here.
type CaseReader interface {
	ReadCase(ctx context.Context) (network.Case, error)
}
