package sqlitedriver

import (
	"strings"

	"github.com/crittermap/geodelta/internal/core"
)

// CheckCompatibleForRebase fails when the database uses features the
// rebase algorithm does not reason about: user-defined triggers or
// foreign keys, whose cascading effects would invalidate the rebased
// changeset.
func (d *Driver) CheckCompatibleForRebase(useModified bool) error {
	dbName, err := d.databaseName(useModified)
	if err != nil {
		return err
	}

	names, _, err := d.userTriggers()
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return core.NewError(core.ErrUnsupported,
			"unable to perform rebase for database with unknown triggers: %s",
			strings.Join(names, ", "))
	}

	tables, err := d.ListTables(useModified)
	if err != nil {
		return err
	}
	for _, table := range tables {
		rows, err := d.conn.QueryContext(d.bg,
			"SELECT count(*) FROM "+quoteIdent(dbName)+".pragma_foreign_key_list("+quoteString(table)+")")
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "reading foreign keys of %s", table)
		}
		var count int
		if rows.Next() {
			if err := rows.Scan(&count); err != nil {
				rows.Close()
				return core.WrapError(core.ErrBackend, err, "reading foreign keys of %s", table)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "reading foreign keys of %s", table)
		}
		if count > 0 {
			return core.NewError(core.ErrUnsupported,
				"unable to perform rebase for database with foreign keys (table %s)", table)
		}
	}
	return nil
}
