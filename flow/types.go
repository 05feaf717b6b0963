// Package flow defines the event types carried between collectors, the
// repository, and the reactive subsystems.
package flow

import (
	"time"

	"github.com/c360/dataflow/datapath"
)

// UpdateMode selects how an update is applied to the stored value
type UpdateMode string

// Update disciplines
const (
	// ModeFull replaces the value at the path
	ModeFull UpdateMode = "full"
	// ModePartial merges object keys into the existing value
	ModePartial UpdateMode = "partial"
	// ModeAppend appends to the array at the path
	ModeAppend UpdateMode = "append"
	// ModeRemove deletes the value at the path
	ModeRemove UpdateMode = "remove"
)

// Valid reports whether the mode is one of the known disciplines
func (m UpdateMode) Valid() bool {
	switch m {
	case ModeFull, ModePartial, ModeAppend, ModeRemove:
		return true
	default:
		return false
	}
}

// Update is one typed event produced by a collector. Immutable once
// created; owned by the pipeline stage processing it until the repository
// write consumes it.
type Update struct {
	Source    string
	Path      datapath.Path
	Value     any
	Timestamp time.Time
	Mode      UpdateMode
}

// NewUpdate builds a Full update stamped with the current time
func NewUpdate(source string, path datapath.Path, v any) Update {
	return Update{
		Source:    source,
		Path:      path,
		Value:     v,
		Timestamp: time.Now(),
		Mode:      ModeFull,
	}
}

// WithMode returns a copy of the update with a different discipline
func (u Update) WithMode(mode UpdateMode) Update {
	u.Mode = mode
	return u
}

// Change is one repository change notification. Broadcast to all current
// subscribers; it does not outlive its broadcast.
type Change struct {
	Path      datapath.Path
	Previous  any // nil when the path was absent
	Value     any
	Timestamp time.Time

	// Origin identifies the writer, used by TwoWay bindings to suppress
	// re-delivery of their own writebacks. Empty for collector writes.
	Origin string
}
