// Package merge implements concatenation of sequential changesets
// into one equivalent changeset. Entries acting on the same row of
// the same table are reduced pair-wise; the result is emitted with
// tables and entries in first-seen order.
package merge

import (
	"errors"
	"io"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
)

// tableChanges accumulates the surviving entries of one table, keyed
// by the primary-key tuple of the row each entry acts on.
type tableChanges struct {
	table *changeset.Table
	// entries keeps insertion order; removed entries become nil
	entries []*changeset.Entry
	index   map[string]int
}

// pkeyKey builds the lookup key from the primary-key columns of the
// vector that identifies the entry's row.
func pkeyKey(t *changeset.Table, e *changeset.Entry) string {
	values := e.PkeyValues()
	key := make([]byte, 0, 16)
	for i, pk := range t.PrimaryKeys {
		if pk {
			key = values[i].AppendKey(key)
		}
	}
	return string(key)
}

// Concat merges the given changeset streams, in order, into a single
// equivalent changeset written to w. Senseless entry sequences for a
// single row (such as two inserts) are logged as warnings and the
// newer entry is discarded; concat is best-effort.
func Concat(ctx *core.Context, readers []*changeset.Reader, w *changeset.Writer) error {
	var order []string
	tables := make(map[string]*tableChanges)

	for _, r := range readers {
		for {
			e, err := r.NextEntry()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}

			tc := tables[e.Table.Name]
			if tc == nil {
				tc = &tableChanges{
					table: e.Table.Clone(),
					index: make(map[string]int),
				}
				tables[e.Table.Name] = tc
				order = append(order, e.Table.Name)
			}

			key := pkeyKey(tc.table, e)
			pos, ok := tc.index[key]
			if !ok {
				copied := e.Clone()
				copied.Table = tc.table
				tc.index[key] = len(tc.entries)
				tc.entries = append(tc.entries, copied)
				continue
			}

			existing := tc.entries[pos]
			switch mergeEntries(tc.table, existing, e) {
			case entryModified:
				// merged in place
			case entryRemoved:
				tc.entries[pos] = nil
				delete(tc.index, key)
			case entryUnsupported:
				ctx.Logger().Warnf("concat: unsupported sequence of entries for a single row "+
					"(%s then %s on table %s) - discarding newer entry",
					existing.Op, e.Op, tc.table.Name)
			}
		}
	}

	for _, name := range order {
		tc := tables[name]
		empty := true
		for _, e := range tc.entries {
			if e != nil {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		if err := w.BeginTable(tc.table); err != nil {
			return err
		}
		for _, e := range tc.entries {
			if e == nil {
				continue
			}
			if err := w.WriteEntry(e); err != nil {
				return err
			}
		}
	}
	return nil
}

type mergeResult int

const (
	entryModified mergeResult = iota
	entryRemoved
	entryUnsupported
)

// mergeEntries reduces two entries acting on the same row: the
// already recorded e1 and the incoming e2. On entryModified the
// result is stored into e1.
func mergeEntries(t *changeset.Table, e1, e2 *changeset.Entry) mergeResult {
	switch {
	case e1.Op == changeset.OpInsert && e2.Op == changeset.OpInsert,
		e1.Op == changeset.OpUpdate && e2.Op == changeset.OpInsert,
		e1.Op == changeset.OpDelete && e2.Op == changeset.OpUpdate,
		e1.Op == changeset.OpDelete && e2.Op == changeset.OpDelete:
		return entryUnsupported

	case e1.Op == changeset.OpInsert && e2.Op == changeset.OpDelete:
		return entryRemoved

	case e1.Op == changeset.OpInsert && e2.Op == changeset.OpUpdate:
		// fold the update's new values into the insert
		for i := range e1.NewValues {
			if e2.NewValues[i].IsDefined() {
				e1.NewValues[i] = e2.NewValues[i]
			}
		}
		return entryModified

	case e1.Op == changeset.OpUpdate && e2.Op == changeset.OpUpdate:
		oldVals, newVals, required := mergeUpdate(t, e1.OldValues, e2.OldValues, e1.NewValues, e2.NewValues)
		if !required {
			return entryRemoved
		}
		e1.OldValues = oldVals
		e1.NewValues = newVals
		return entryModified

	case e1.Op == changeset.OpUpdate && e2.Op == changeset.OpDelete:
		// the row ends up deleted; take pre-update images from the
		// update where it recorded them
		e1.Op = changeset.OpDelete
		for i := range e1.OldValues {
			if !e1.OldValues[i].IsDefined() {
				e1.OldValues[i] = e2.OldValues[i]
			}
		}
		e1.NewValues = nil
		return entryModified

	case e1.Op == changeset.OpDelete && e2.Op == changeset.OpInsert:
		// the row was replaced; express the net effect as an update
		oldVals, newVals, required := mergeUpdate(t, e1.OldValues, nil, e2.NewValues, nil)
		if !required {
			return entryRemoved
		}
		e1.Op = changeset.OpUpdate
		e1.OldValues = oldVals
		e1.NewValues = newVals
		return entryModified
	}
	return entryUnsupported
}

// mergeUpdate reduces the value vectors of two sequential updates of
// the same row (secondOld/secondNew may be nil for the delete+insert
// case). The merged pre-image prefers the first update's old values
// (the true base image); the merged post-image prefers the second
// update's new values. Columns whose merged old and new values are
// equal collapse to undefined; required is false when no non-key
// column remains changed.
func mergeUpdate(t *changeset.Table, firstOld, secondOld, firstNew, secondNew []changeset.Value) (oldVals, newVals []changeset.Value, required bool) {
	n := t.ColumnCount()
	oldVals = make([]changeset.Value, 0, n)
	newVals = make([]changeset.Value, 0, n)

	for i := 0; i < n; i++ {
		vOld := firstOld[i]
		if !vOld.IsDefined() && secondOld != nil {
			vOld = secondOld[i]
		}
		vNew := firstNew[i]
		if secondNew != nil && secondNew[i].IsDefined() {
			vNew = secondNew[i]
		}

		changed := !vOld.Equal(vNew)
		if changed && !t.PrimaryKeys[i] {
			required = true
		}

		if t.PrimaryKeys[i] {
			oldVals = append(oldVals, vOld)
			if changed && vNew.IsDefined() {
				newVals = append(newVals, vNew)
			} else {
				newVals = append(newVals, changeset.Undefined())
			}
			continue
		}

		if changed {
			oldVals = append(oldVals, vOld)
			newVals = append(newVals, vNew)
		} else {
			oldVals = append(oldVals, changeset.Undefined())
			newVals = append(newVals, changeset.Undefined())
		}
	}
	return oldVals, newVals, required
}
