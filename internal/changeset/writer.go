package changeset

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/crittermap/geodelta/internal/core"
)

// Writer serializes table groups and change records to a byte
// stream. Call BeginTable before the first WriteEntry; a later
// BeginTable starts a new table group.
type Writer struct {
	w     io.Writer
	table *Table
	// scratch avoids a per-value allocation
	scratch []byte
}

// NewWriter returns a writer emitting to w. The caller owns any
// buffering and flushing of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// BeginTable starts a table group for the given descriptor. The
// descriptor is copied; later changes by the caller have no effect.
func (w *Writer) BeginTable(t *Table) error {
	if t.ColumnCount() > maxColumns {
		return core.NewError(core.ErrUnsupported, "table %s has too many columns: %d", t.Name, t.ColumnCount())
	}
	w.table = t.Clone()

	buf := w.scratch[:0]
	buf = append(buf, 'T')
	buf = putVarint(buf, uint64(t.ColumnCount()))
	for _, pk := range t.PrimaryKeys {
		if pk {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	buf = append(buf, t.Name...)
	buf = append(buf, 0)
	w.scratch = buf
	return w.write(buf)
}

// WriteEntry serializes one change record under the current table
// group. It fails if no table group is open or the entry's arity does
// not match the table's column count.
func (w *Writer) WriteEntry(e *Entry) error {
	if w.table == nil {
		return core.NewError(core.ErrFormatMalformed, "WriteEntry before BeginTable")
	}
	if err := e.validate(w.table.ColumnCount()); err != nil {
		return err
	}
	buf := w.scratch[:0]
	buf = append(buf, byte(e.Op), 0) // "indirect" always false
	if e.Op != OpInsert {
		buf = appendRowValues(buf, e.OldValues)
	}
	if e.Op != OpDelete {
		buf = appendRowValues(buf, e.NewValues)
	}
	w.scratch = buf
	return w.write(buf)
}

// WriteRaw copies already serialized changeset bytes to the output.
// It is used to concatenate per-table frames built in side buffers.
func (w *Writer) WriteRaw(buf []byte) error {
	w.table = nil
	return w.write(buf)
}

func (w *Writer) write(buf []byte) error {
	if _, err := w.w.Write(buf); err != nil {
		return core.WrapError(core.ErrIO, err, "changeset write failed")
	}
	return nil
}

func appendRowValues(buf []byte, values []Value) []byte {
	for _, v := range values {
		buf = append(buf, byte(v.typ))
		switch v.typ {
		case TypeInt:
			buf = binary.BigEndian.AppendUint64(buf, v.num)
		case TypeDouble:
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Double()))
		case TypeText, TypeBlob:
			buf = putVarint(buf, uint64(len(v.str)))
			buf = append(buf, v.str...)
		case TypeNull, TypeUndefined:
			// no payload
		}
	}
	return buf
}
