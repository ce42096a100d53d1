// Package correlate generates opaque identifiers that thread one query's
// model calls and tool calls together in logs.
package correlate

import (
	"fmt"

	"github.com/google/uuid"
)

// Correlation is a pure value tying one in-flight query to its tool calls.
type Correlation struct {
	Query string
}

// New creates a Correlation with a fresh query identifier.
func New() Correlation {
	return Correlation{Query: uuid.NewString()}
}

// Child derives the identifier for the seq-th tool call of this query.
func (c Correlation) Child(seq int) string {
	return fmt.Sprintf("%s.%d", c.Query, seq)
}
