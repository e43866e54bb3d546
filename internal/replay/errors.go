package replay

import (
	"errors"
	"fmt"
)

// ErrEndOfSession is returned by Step when the cursor is already past the
// last event.
var ErrEndOfSession = errors.New("end of session")

// PositionError reports a Goto target outside [0, event count].
type PositionError struct {
	Position int
	Max      int
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position %d out of range [0, %d]", e.Position, e.Max)
}
