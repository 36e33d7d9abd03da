// Package grid defines the port interface to the hosting spreadsheet.
//
// The grid is an external collaborator: the service only ever reads a
// cell's formula text and forces the host to re-evaluate a cell. The
// re-evaluation side effect is what makes the host call back into the
// evaluate endpoint for that cell.
package grid

import (
	"context"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
)

// Grid is the port interface to the hosting spreadsheet document.
type Grid interface {
	// Formula returns the formula text of the given cell, or the empty
	// string when the cell holds no formula.
	Formula(ctx context.Context, cell task.Key) (string, error)
	// Recompute forces the host to re-evaluate the cell's formula
	// (clear, then restore), triggering a fresh custom-function call.
	Recompute(ctx context.Context, cell task.Key) error
}
