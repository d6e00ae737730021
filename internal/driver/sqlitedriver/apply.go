package sqlitedriver

import (
	"database/sql"
	"errors"
	"io"
	"strings"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
	"github.com/crittermap/geodelta/internal/export"
)

// tableStmts caches the three prepared statements of one table during
// apply, together with the table's schema.
type tableStmts struct {
	schema *driver.TableSchema
	insert *sql.Stmt
	update *sql.Stmt
	del    *sql.Stmt
}

func (t *tableStmts) close() {
	if t.insert != nil {
		t.insert.Close()
	}
	if t.update != nil {
		t.update.Close()
	}
	if t.del != nil {
		t.del.Close()
	}
}

// ApplyChangeset replays the changeset inside a savepoint. Per-row
// conflicts are logged and counted; when any occurred the savepoint
// rolls back and the operation fails with a conflict error carrying
// the count. User-defined triggers are dropped for the duration and
// recreated before commit.
func (d *Driver) ApplyChangeset(r *changeset.Reader) error {
	// take the database-wide write lock up front; while another
	// writer holds it the database reports busy and the begin is retried
	if err := d.execRetry("BEGIN IMMEDIATE"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			d.conn.ExecContext(d.bg, "ROLLBACK")
		}
	}()
	if _, err := d.conn.ExecContext(d.bg, "SAVEPOINT changeset_apply"); err != nil {
		return core.WrapError(core.ErrBackend, err, "opening savepoint")
	}

	triggerNames, triggerCmds, err := d.userTriggers()
	if err != nil {
		return err
	}
	for _, name := range triggerNames {
		if _, err := d.conn.ExecContext(d.bg, "DROP TRIGGER "+quoteIdent(name)); err != nil {
			return core.WrapError(core.ErrBackend, err, "dropping trigger %s", name)
		}
	}

	stmts := make(map[string]*tableStmts)
	defer func() {
		for _, t := range stmts {
			t.close()
		}
	}()

	conflicts := 0
	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		table := e.Table.Name
		if strings.HasPrefix(table, "gpkg_") {
			continue // changes to metadata tables are not replayed
		}
		if d.ctx.IsTableSkipped(table) {
			continue
		}

		ts := stmts[table]
		if ts == nil {
			ts, err = d.prepareTable(table, e.Table)
			if err != nil {
				return err
			}
			stmts[table] = ts
		}

		switch e.Op {
		case changeset.OpInsert:
			args := make([]any, len(ts.schema.Columns))
			for i := range args {
				args[i] = valueToArg(e.NewValues[i])
			}
			res, err := ts.insert.Exec(args...)
			if err != nil {
				// primary key collision or some constraint violation
				d.logApplyConflict("insert_failed", e)
				conflicts++
			} else if n, _ := res.RowsAffected(); n == 0 {
				d.logApplyConflict("insert_nothing", e)
				conflicts++
			}

		case changeset.OpUpdate:
			n := len(ts.schema.Columns)
			args := make([]any, 3*n+1)
			for i := 0; i < n; i++ {
				vOld, vNew := e.OldValues[i], e.NewValues[i]
				if vOld.IsDefined() {
					args[3*i] = valueToArg(vOld)
				}
				if vNew.IsDefined() {
					args[3*i+1] = 1
					args[3*i+2] = valueToArg(vNew)
				} else {
					args[3*i+1] = 0
				}
			}
			args[3*n] = 0 // never override the unchanged-value guard
			res, err := ts.update.Exec(args...)
			if err != nil {
				d.logApplyConflict("update_failed", e)
				conflicts++
			} else if n, _ := res.RowsAffected(); n == 0 {
				// the row does not exist or its data was modified
				d.logApplyConflict("update_nothing", e)
				conflicts++
			}

		case changeset.OpDelete:
			args := make([]any, len(ts.schema.Columns))
			for i := range args {
				args[i] = valueToArg(e.OldValues[i])
			}
			res, err := ts.del.Exec(args...)
			if err != nil {
				d.logApplyConflict("delete_failed", e)
				conflicts++
			} else if n, _ := res.RowsAffected(); n == 0 {
				d.logApplyConflict("delete_nothing", e)
				conflicts++
			}
		}
	}

	for _, cmd := range triggerCmds {
		if _, err := d.conn.ExecContext(d.bg, cmd); err != nil {
			return core.WrapError(core.ErrBackend, err, "recreating trigger")
		}
	}

	if conflicts > 0 {
		return core.ConflictError(conflicts)
	}
	if _, err := d.conn.ExecContext(d.bg, "RELEASE changeset_apply"); err != nil {
		return core.WrapError(core.ErrBackend, err, "releasing savepoint")
	}
	if _, err := d.conn.ExecContext(d.bg, "COMMIT"); err != nil {
		return core.WrapError(core.ErrBackend, err, "committing")
	}
	committed = true
	return nil
}

// prepareTable validates the changeset descriptor against the live
// schema and prepares the three statements for the table.
func (d *Driver) prepareTable(table string, desc *changeset.Table) (*tableStmts, error) {
	schema, err := d.TableSchema(table, false)
	if err != nil {
		return nil, err
	}
	if len(schema.Columns) != desc.ColumnCount() {
		return nil, core.NewError(core.ErrSchemaMismatch, "wrong number of columns for table: %s", table)
	}
	for i := range schema.Columns {
		if schema.Columns[i].IsPrimaryKey != desc.PrimaryKeys[i] {
			return nil, core.NewError(core.ErrSchemaMismatch, "mismatch of primary keys in table: %s", table)
		}
	}

	ts := &tableStmts{schema: schema}
	if ts.insert, err = d.conn.PrepareContext(d.bg, sqlForInsert(table, schema)); err != nil {
		ts.close()
		return nil, core.WrapError(core.ErrBackend, err, "preparing insert for %s", table)
	}
	if ts.update, err = d.conn.PrepareContext(d.bg, sqlForUpdate(table, schema)); err != nil {
		ts.close()
		return nil, core.WrapError(core.ErrBackend, err, "preparing update for %s", table)
	}
	if ts.del, err = d.conn.PrepareContext(d.bg, sqlForDelete(table, schema)); err != nil {
		ts.close()
		return nil, core.WrapError(core.ErrBackend, err, "preparing delete for %s", table)
	}
	return ts, nil
}

func (d *Driver) logApplyConflict(kind string, e *changeset.Entry) {
	d.ctx.Logger().Warnf("CONFLICT: %s: %s", kind, export.EntryString(e))
}

// userTriggers returns the names and defining statements of triggers
// that are not part of the recognized metadata machinery.
func (d *Driver) userTriggers() (names, cmds []string, err error) {
	rows, err := d.conn.QueryContext(d.bg,
		"SELECT name, sql FROM sqlite_master WHERE type = 'trigger'")
	if err != nil {
		return nil, nil, core.WrapError(core.ErrBackend, err, "listing triggers")
	}
	defer rows.Close()
	for rows.Next() {
		var name, cmd sql.NullString
		if err := rows.Scan(&name, &cmd); err != nil {
			return nil, nil, core.WrapError(core.ErrBackend, err, "listing triggers")
		}
		if !name.Valid || !cmd.Valid {
			continue
		}
		if isMetadataTrigger(name.String) {
			continue
		}
		names = append(names, name.String)
		cmds = append(cmds, cmd.String)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, core.WrapError(core.ErrBackend, err, "listing triggers")
	}
	return names, cmds, nil
}

// isMetadataTrigger recognizes the triggers installed by the
// GeoPackage machinery (metadata constraints, R-tree maintenance,
// feature counting).
func isMetadataTrigger(name string) bool {
	return strings.HasPrefix(name, "gpkg_") ||
		strings.HasPrefix(name, "rtree_") ||
		strings.HasPrefix(name, "trigger_insert_feature_count_") ||
		strings.HasPrefix(name, "trigger_delete_feature_count_")
}
