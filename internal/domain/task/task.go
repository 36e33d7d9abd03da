// Package task defines the pending-generation Task domain entity.
//
// A Task is the durable record of one cell whose GENAI formula has been
// evaluated but whose answer has not been produced yet. Tasks are keyed by
// cell coordinate and live in the durable key-value store until the remote
// call succeeds or the originating formula disappears.
package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain"
)

// Key identifies the spreadsheet cell a task belongs to. Row and Col are
// 1-based, matching the host grid's coordinates.
type Key struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Validate reports whether the key names a real cell.
func (k Key) Validate() error {
	if k.Row < 1 || k.Col < 1 {
		return fmt.Errorf("%w: cell coordinates must be positive, got (%d,%d)", domain.ErrValidation, k.Row, k.Col)
	}
	return nil
}

// ID returns the canonical string form "row.col". The dot separator keeps
// the encoding valid as a NATS KV key segment.
func (k Key) ID() string {
	return strconv.Itoa(k.Row) + "." + strconv.Itoa(k.Col)
}

// ParseID parses the canonical "row.col" form produced by ID.
func ParseID(s string) (Key, error) {
	row, col, ok := strings.Cut(s, ".")
	if !ok {
		return Key{}, fmt.Errorf("%w: malformed task id %q", domain.ErrValidation, s)
	}
	r, err := strconv.Atoi(row)
	if err != nil {
		return Key{}, fmt.Errorf("%w: malformed task id %q", domain.ErrValidation, s)
	}
	c, err := strconv.Atoi(col)
	if err != nil {
		return Key{}, fmt.Errorf("%w: malformed task id %q", domain.ErrValidation, s)
	}
	k := Key{Row: r, Col: c}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Less orders keys ascending by row, then by column for same-row ties.
// This is the order the scheduler drains the backlog in.
func (k Key) Less(other Key) bool {
	if k.Row != other.Row {
		return k.Row < other.Row
	}
	return k.Col < other.Col
}

// Task is one pending generation request.
type Task struct {
	Cell       Key       `json:"cell"`
	Prompt     string    `json:"prompt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
