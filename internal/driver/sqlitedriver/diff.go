package sqlitedriver

import (
	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
)

// CreateChangeset compares the base and modified databases and writes
// the differences. The table sets must match and each table's schema
// must be structurally identical on both sides (native type names may
// differ when they map to the same base type).
func (d *Driver) CreateChangeset(w *changeset.Writer) error {
	tablesBase, err := d.ListTables(false)
	if err != nil {
		return err
	}
	tablesModified, err := d.ListTables(true)
	if err != nil {
		return err
	}
	if !equalStrings(tablesBase, tablesModified) {
		return core.NewError(core.ErrSchemaMismatch,
			"table names are not matching between the input databases (base: %v, modified: %v)",
			tablesBase, tablesModified)
	}

	for _, table := range tablesBase {
		if d.ctx.IsTableSkipped(table) {
			d.ctx.Logger().Infof("table %s skipped by configuration", table)
			continue
		}
		schema, err := d.TableSchema(table, false)
		if err != nil {
			return err
		}
		schemaModified, err := d.TableSchema(table, true)
		if err != nil {
			return err
		}
		if !schema.Equals(schemaModified) && !schema.EqualsBaseTypes(schemaModified) {
			return core.NewError(core.ErrSchemaMismatch, "table schemas are not the same for table: %s", table)
		}
		if !schema.HasPrimaryKey() {
			// tables without primary key cannot be compared reliably
			continue
		}

		first := true
		if err := d.diffInserted(w, table, schema, false, &first); err != nil {
			return err
		}
		if err := d.diffInserted(w, table, schema, true, &first); err != nil {
			return err
		}
		if err := d.diffUpdated(w, table, schema, &first); err != nil {
			return err
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffInserted emits insert records (reverse false) or delete records
// (reverse true) for rows present on one side only.
func (d *Driver) diffInserted(w *changeset.Writer, table string, schema *driver.TableSchema, reverse bool, first *bool) error {
	rows, err := d.conn.QueryContext(d.bg, sqlFindInserted(table, schema, reverse))
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "querying rows of %s", table)
	}
	defer rows.Close()

	n := len(schema.Columns)
	for rows.Next() {
		values, err := scanRow(rows, n)
		if err != nil {
			return err
		}
		if *first {
			if err := w.BeginTable(schema.ChangesetTable()); err != nil {
				return err
			}
			*first = false
		}
		e := &changeset.Entry{}
		if reverse {
			e.Op = changeset.OpDelete
			e.OldValues = values
		} else {
			e.Op = changeset.OpInsert
			e.NewValues = values
		}
		if err := w.WriteEntry(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return core.WrapError(core.ErrBackend, err, "querying rows of %s", table)
	}
	return nil
}

// diffUpdated joins both sides on the primary key and emits update
// records with unchanged columns masked as undefined.
func (d *Driver) diffUpdated(w *changeset.Writer, table string, schema *driver.TableSchema, first *bool) error {
	rows, err := d.conn.QueryContext(d.bg, sqlFindModified(table, schema))
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "querying rows of %s", table)
	}
	defer rows.Close()

	n := len(schema.Columns)
	for rows.Next() {
		values, err := scanRow(rows, 2*n)
		if err != nil {
			return err
		}
		e := &changeset.Entry{Op: changeset.OpUpdate}
		hasUpdates := false
		for i := 0; i < n; i++ {
			vOld := values[i+n] // base side
			vNew := values[i]   // modified side
			pkey := schema.Columns[i].IsPrimaryKey
			updated := !vOld.Equal(vNew)
			if updated && schema.Columns[i].BaseType == driver.BaseTypeDatetime {
				// different spellings of the same instant are not a change
				updated, err = d.datetimeDiffers(vOld, vNew)
				if err != nil {
					return err
				}
			}
			if updated {
				hasUpdates = true
			}
			if pkey || updated {
				e.OldValues = append(e.OldValues, vOld)
			} else {
				e.OldValues = append(e.OldValues, changeset.Undefined())
			}
			if updated {
				e.NewValues = append(e.NewValues, vNew)
			} else {
				e.NewValues = append(e.NewValues, changeset.Undefined())
			}
		}
		if !hasUpdates {
			continue
		}
		if *first {
			if err := w.BeginTable(schema.ChangesetTable()); err != nil {
				return err
			}
			*first = false
		}
		if err := w.WriteEntry(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return core.WrapError(core.ErrBackend, err, "querying rows of %s", table)
	}
	return nil
}

// datetimeDiffers compares two datetime-typed values after
// canonicalizing both through the backend's datetime().
func (d *Driver) datetimeDiffers(vOld, vNew changeset.Value) (bool, error) {
	if d.datetimeCmp == nil {
		stmt, err := d.conn.PrepareContext(d.bg, "SELECT datetime(?1) IS NOT datetime(?2)")
		if err != nil {
			return false, core.WrapError(core.ErrBackend, err, "preparing datetime comparison")
		}
		d.datetimeCmp = stmt
	}
	var differs int
	err := d.datetimeCmp.QueryRowContext(d.bg, valueToArg(vOld), valueToArg(vNew)).Scan(&differs)
	if err != nil {
		return false, core.WrapError(core.ErrBackend, err, "comparing datetime values")
	}
	return differs != 0, nil
}

// scanRow scans n columns preserving storage types.
func scanRow(rows interface{ Scan(...any) error }, n int) ([]changeset.Value, error) {
	raw := make([]any, n)
	ptrs := make([]any, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, core.WrapError(core.ErrBackend, err, "scanning row")
	}
	values := make([]changeset.Value, n)
	for i, v := range raw {
		val, err := valueFromScan(v)
		if err != nil {
			return nil, err
		}
		values[i] = val
	}
	return values, nil
}

// DumpData writes every row of every table with a primary key as an
// insert record.
func (d *Driver) DumpData(w *changeset.Writer, useModified bool) error {
	dbName, err := d.databaseName(useModified)
	if err != nil {
		return err
	}
	tables, err := d.ListTables(useModified)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if d.ctx.IsTableSkipped(table) {
			continue
		}
		schema, err := d.TableSchema(table, useModified)
		if err != nil {
			return err
		}
		if !schema.HasPrimaryKey() {
			continue
		}
		rows, err := d.conn.QueryContext(d.bg,
			"SELECT * FROM "+quoteIdent(dbName)+"."+quoteIdent(table))
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "dumping rows of %s", table)
		}
		first := true
		n := len(schema.Columns)
		for rows.Next() {
			values, err := scanRow(rows, n)
			if err != nil {
				rows.Close()
				return err
			}
			if first {
				if err := w.BeginTable(schema.ChangesetTable()); err != nil {
					rows.Close()
					return err
				}
				first = false
			}
			e := &changeset.Entry{Op: changeset.OpInsert, NewValues: values}
			if err := w.WriteEntry(e); err != nil {
				rows.Close()
				return err
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "dumping rows of %s", table)
		}
	}
	return nil
}
