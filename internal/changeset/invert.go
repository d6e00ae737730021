package changeset

import (
	"errors"
	"io"
)

// Invert writes the inverse of the changeset read from r: applying
// the result undoes applying the original. Inserts become deletes,
// deletes become inserts, and updates swap their old and new values.
// Inverting twice reproduces the original stream byte for byte.
func Invert(r *Reader, w *Writer) error {
	var currentTable string
	var currentPkeys []bool
	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if e.Table.Name != currentTable {
			if err := w.BeginTable(e.Table); err != nil {
				return err
			}
			currentTable = e.Table.Name
			currentPkeys = e.Table.PrimaryKeys
		}

		out := Entry{}
		switch e.Op {
		case OpInsert:
			out.Op = OpDelete
			out.OldValues = e.NewValues
		case OpDelete:
			out.Op = OpInsert
			out.NewValues = e.OldValues
		case OpUpdate:
			out.Op = OpUpdate
			out.OldValues = append([]Value(nil), e.NewValues...)
			out.NewValues = append([]Value(nil), e.OldValues...)
			// An update that leaves the primary key unchanged carries
			// the key only on its old side. After the swap that key
			// sits on the new side, so move it back where it
			// identifies the row.
			for i, pk := range currentPkeys {
				if pk && !out.OldValues[i].IsDefined() {
					out.OldValues[i] = out.NewValues[i]
					out.NewValues[i] = Undefined()
				}
			}
		}
		if err := w.WriteEntry(&out); err != nil {
			return err
		}
	}
}
