package changeset

import "github.com/crittermap/geodelta/internal/core"

// OpType is the operation tag of a change record. The numeric values
// are the wire encoding.
type OpType byte

const (
	OpInsert OpType = 0x12
	OpUpdate OpType = 0x17
	OpDelete OpType = 0x09
)

func (op OpType) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "invalid"
}

// Entry is one change record.
//
// Contents of the value vectors by operation:
//   - insert: NewValues holds the full row, OldValues is empty
//   - delete: OldValues holds the full row, NewValues is empty
//   - update: both vectors have one element per column; an unchanged
//     non-key column is undefined on both sides, and the old side
//     always carries the primary key (the new side carries it only
//     when the key itself changed)
//
// Entries returned by a Reader share the Table of their table group;
// the descriptor must not be modified. A Writer ignores the Table
// field — the governing descriptor is set by BeginTable.
type Entry struct {
	Op        OpType
	OldValues []Value
	NewValues []Value
	Table     *Table
}

// Clone returns a deep copy of the entry. The Table reference is
// shared.
func (e *Entry) Clone() *Entry {
	return &Entry{
		Op:        e.Op,
		OldValues: append([]Value(nil), e.OldValues...),
		NewValues: append([]Value(nil), e.NewValues...),
		Table:     e.Table,
	}
}

// validate checks the operation tag and the value vector arities
// against the given column count.
func (e *Entry) validate(nCol int) error {
	switch e.Op {
	case OpInsert:
		if len(e.NewValues) != nCol {
			return core.NewError(core.ErrFormatMalformed,
				"insert entry has %d values, table has %d columns", len(e.NewValues), nCol)
		}
	case OpDelete:
		if len(e.OldValues) != nCol {
			return core.NewError(core.ErrFormatMalformed,
				"delete entry has %d values, table has %d columns", len(e.OldValues), nCol)
		}
	case OpUpdate:
		if len(e.OldValues) != nCol || len(e.NewValues) != nCol {
			return core.NewError(core.ErrFormatMalformed,
				"update entry has %d/%d values, table has %d columns",
				len(e.OldValues), len(e.NewValues), nCol)
		}
	default:
		return core.NewError(core.ErrFormatMalformed, "wrong op for changeset entry: 0x%02x", byte(e.Op))
	}
	return nil
}

// PkeyValues returns the vector that identifies the row: the new
// values for an insert, the old values otherwise.
func (e *Entry) PkeyValues() []Value {
	if e.Op == OpInsert {
		return e.NewValues
	}
	return e.OldValues
}
