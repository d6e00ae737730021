// Package rebase rewrites a local changeset so that it applies
// cleanly on top of an upstream changeset sharing the same base. Row
// identities of concurrently inserted rows are remapped to fresh
// primary keys, changes to rows the upstream deleted are suppressed,
// and old-record values are patched to match the post-upstream state.
// Cell-level disagreements are collected into a conflict report
// instead of failing the operation.
package rebase

import (
	"bytes"
	"errors"
	"io"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
)

// tableInfo summarizes what the upstream changeset did to one table.
type tableInfo struct {
	inserted map[int64]bool
	deleted  map[int64]bool
	// updated maps a row's key to the upstream update's new-values
	// vector; only columns the upstream changed are defined
	updated map[int64][]changeset.Value
}

func newTableInfo() *tableInfo {
	return &tableInfo{
		inserted: make(map[int64]bool),
		deleted:  make(map[int64]bool),
		updated:  make(map[int64][]changeset.Value),
	}
}

// pkeyID reduces an entry's primary key to a comparable scalar.
// Integer keys are used directly, text keys through a stable hash.
// Composite primary keys are not supported by the rebase algorithm.
func pkeyID(e *changeset.Entry) (int64, int, error) {
	pkCol := -1
	for i, pk := range e.Table.PrimaryKeys {
		if pk {
			if pkCol >= 0 {
				return 0, 0, core.NewError(core.ErrUnsupported,
					"rebase does not support composite primary keys (table %s)", e.Table.Name)
			}
			pkCol = i
		}
	}
	if pkCol < 0 {
		return 0, 0, core.NewError(core.ErrUnsupported,
			"rebase requires a primary key (table %s)", e.Table.Name)
	}
	v := e.PkeyValues()[pkCol]
	switch v.Type() {
	case changeset.TypeInt:
		return v.Int(), pkCol, nil
	case changeset.TypeText:
		var h int64
		for _, b := range v.Bytes() {
			h = 33*h + int64(b)
		}
		return h, pkCol, nil
	}
	return 0, 0, core.NewError(core.ErrUnsupported,
		"unsupported primary key type %s (table %s)", v.Type(), e.Table.Name)
}

// remap records the primary-key rewrites planned for the local
// changeset. A suppressed row is one the upstream already deleted.
type remap struct {
	newID      map[string]map[int64]int64
	suppressed map[string]map[int64]bool
	// unmappedInserts keeps, in order, local inserts whose key did
	// not collide with an upstream insert; they may still need a
	// remap if an earlier rewrite claimed their key
	unmappedInserts map[string][]int64
}

func newRemap() *remap {
	return &remap{
		newID:           make(map[string]map[int64]int64),
		suppressed:      make(map[string]map[int64]bool),
		unmappedInserts: make(map[string][]int64),
	}
}

func (m *remap) addMapping(table string, id, newID int64) {
	ids := m.newID[table]
	if ids == nil {
		ids = make(map[int64]int64)
		m.newID[table] = ids
	}
	ids[id] = newID
}

func (m *remap) addSuppressed(table string, id int64) {
	ids := m.suppressed[table]
	if ids == nil {
		ids = make(map[int64]bool)
		m.suppressed[table] = ids
	}
	ids[id] = true
}

// Rebase reads the upstream changeset (base to theirs) and the local
// changeset (base to ours) and writes a rewritten local changeset
// that applies on top of theirs. It returns the conflict report,
// grouped by table and row.
func Rebase(ctx *core.Context, base2theirs, base2ours *changeset.Reader, w *changeset.Writer) ([]ConflictFeature, error) {
	info, err := summarizeTheirs(base2theirs)
	if err != nil {
		return nil, err
	}

	mapping, err := planMapping(base2ours, info)
	if err != nil {
		return nil, err
	}
	dumpMapping(ctx, mapping)

	base2ours.Rewind()
	return rewriteOurs(base2ours, info, mapping, w)
}

// summarizeTheirs walks the upstream changeset and collects, per
// table, the inserted and deleted keys and the post-images of
// updates.
func summarizeTheirs(r *changeset.Reader) (map[string]*tableInfo, error) {
	info := make(map[string]*tableInfo)
	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			return info, nil
		}
		if err != nil {
			return nil, err
		}
		id, _, err := pkeyID(e)
		if err != nil {
			return nil, err
		}
		ti := info[e.Table.Name]
		if ti == nil {
			ti = newTableInfo()
			info[e.Table.Name] = ti
		}
		switch e.Op {
		case changeset.OpInsert:
			ti.inserted[id] = true
		case changeset.OpDelete:
			ti.deleted[id] = true
		case changeset.OpUpdate:
			ti.updated[id] = append([]changeset.Value(nil), e.NewValues...)
		}
	}
}

// planMapping walks the local changeset and decides which primary
// keys must be rewritten and which rows are suppressed.
func planMapping(r *changeset.Reader, info map[string]*tableInfo) (*remap, error) {
	// first free key per table: one past the largest upstream insert
	freeIndices := make(map[string]int64)
	for name, ti := range info {
		var max int64
		found := false
		for id := range ti.inserted {
			if !found || id > max {
				max = id
				found = true
			}
		}
		if found {
			freeIndices[name] = max + 1
		}
	}

	mapping := newRemap()
	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ti := info[e.Table.Name]
		if ti == nil {
			continue // table untouched by theirs, nothing to rebase
		}
		id, _, err := pkeyID(e)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case changeset.OpInsert:
			if ti.inserted[id] {
				// two concurrent inserts of the same key
				free := freeIndices[e.Table.Name]
				mapping.addMapping(e.Table.Name, id, free)
				freeIndices[e.Table.Name] = free + 1
			} else {
				mapping.unmappedInserts[e.Table.Name] = append(mapping.unmappedInserts[e.Table.Name], id)
			}
		case changeset.OpUpdate, changeset.OpDelete:
			if ti.deleted[id] {
				mapping.addSuppressed(e.Table.Name, id)
			}
		}
	}

	// A rewrite can collide with a key that was not in conflict
	// before: with local inserts 4,5,6 remapped 4->6, 5->7 the
	// untouched 6 now clashes and must move as well.
	for table, ids := range mapping.unmappedInserts {
		usedNew := make(map[int64]bool)
		for _, newID := range mapping.newID[table] {
			usedNew[newID] = true
		}
		for _, id := range ids {
			if !usedNew[id] {
				continue
			}
			free := freeIndices[table]
			mapping.addMapping(table, id, free)
			usedNew[free] = true
			freeIndices[table] = free + 1
		}
	}
	return mapping, nil
}

func dumpMapping(ctx *core.Context, m *remap) {
	if ctx.Logger().MaxLevel() < core.LevelDebug {
		return
	}
	for table, ids := range m.newID {
		for from, to := range ids {
			ctx.Logger().Debugf("rebase mapping: %s %d->%d", table, from, to)
		}
	}
	for table, ids := range m.suppressed {
		for id := range ids {
			ctx.Logger().Debugf("rebase suppressed: %s %d", table, id)
		}
	}
}

// tableBuffer collects one table's rewritten entries so that table
// groups are not interleaved in the output.
type tableBuffer struct {
	buf bytes.Buffer
	w   *changeset.Writer
}

// rewriteOurs walks the local changeset a second time and emits the
// rebased entries, collecting conflicts along the way.
func rewriteOurs(r *changeset.Reader, info map[string]*tableInfo, mapping *remap, final *changeset.Writer) ([]ConflictFeature, error) {
	buffers := make(map[string]*tableBuffer)
	var tableOrder []string
	var conflicts []ConflictFeature

	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		tb := buffers[e.Table.Name]
		if tb == nil {
			tb = &tableBuffer{}
			tb.w = changeset.NewWriter(&tb.buf)
			if err := tb.w.BeginTable(e.Table); err != nil {
				return nil, err
			}
			buffers[e.Table.Name] = tb
			tableOrder = append(tableOrder, e.Table.Name)
		}

		ti := info[e.Table.Name]
		if ti == nil {
			// table untouched by theirs, copy the change verbatim
			if err := tb.w.WriteEntry(e); err != nil {
				return nil, err
			}
			continue
		}

		id, pkCol, err := pkeyID(e)
		if err != nil {
			return nil, err
		}

		switch e.Op {
		case changeset.OpInsert:
			out := e.Clone()
			if newID, ok := mapping.newID[e.Table.Name][id]; ok {
				out.NewValues[pkCol] = changeset.NewInt(newID)
			}
			if err := tb.w.WriteEntry(out); err != nil {
				return nil, err
			}

		case changeset.OpDelete:
			if mapping.suppressed[e.Table.Name][id] {
				continue // row already gone upstream
			}
			out := e.Clone()
			// use theirs' post-image as the old record so that the
			// delete predicates match the post-upstream state
			if patched, ok := ti.updated[id]; ok {
				for i := range out.OldValues {
					if patched[i].IsDefined() {
						out.OldValues[i] = patched[i]
					}
				}
			}
			if err := tb.w.WriteEntry(out); err != nil {
				return nil, err
			}

		case changeset.OpUpdate:
			if mapping.suppressed[e.Table.Name][id] {
				continue
			}
			out := e.Clone()
			if patched, ok := ti.updated[id]; ok {
				feature := ConflictFeature{Table: e.Table.Name, Pkey: e.OldValues[pkCol]}
				for i := range out.OldValues {
					if !patched[i].IsDefined() {
						continue
					}
					if e.NewValues[i].IsDefined() && !ignoredConflictColumn(e.Table.Name, i) {
						feature.Items = append(feature.Items, ConflictItem{
							Column: i,
							Base:   e.OldValues[i],
							Theirs: patched[i],
							Ours:   e.NewValues[i],
						})
					}
					out.OldValues[i] = patched[i]
				}
				if len(feature.Items) > 0 {
					conflicts = append(conflicts, feature)
				}
			}
			if err := tb.w.WriteEntry(out); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range tableOrder {
		if err := final.WriteRaw(buffers[name].buf.Bytes()); err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

// ignoredConflictColumn filters auto-maintained columns that would
// produce spurious conflicts: the last_change timestamp of the
// gpkg_contents metadata table.
func ignoredConflictColumn(table string, column int) bool {
	return table == "gpkg_contents" && column == 4
}
