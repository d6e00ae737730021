// Package sqlitedriver implements the driver contract for the
// embedded file-based backend. The driver opens one database (apply,
// dump) or two attached databases (diff), reads per-table schema
// including GeoPackage geometry metadata, and builds its diff and
// apply SQL from the schema.
package sqlitedriver

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
)

// Name is the registry name of this driver.
const Name = "sqlite"

func init() {
	driver.Register(Name, func(ctx *core.Context) driver.Driver {
		return &Driver{ctx: ctx, bg: context.Background()}
	})
}

// Driver is a session over one or two attached SQLite databases.
// When a modified source is given it is opened as the main database
// and the base is attached as "aux", so that diff SQL can join the
// two sides.
type Driver struct {
	ctx *core.Context
	bg  context.Context

	db          *sql.DB
	conn        *sql.Conn
	hasModified bool

	datetimeCmp *sql.Stmt
}

var _ driver.Driver = (*Driver)(nil)

// Open starts a session. The "base" parameter is required and must
// name an existing file; "modified" optionally names the peer.
func (d *Driver) Open(params driver.Parameters) error {
	base, ok := params["base"]
	if !ok {
		return core.NewError(core.ErrIO, "missing 'base' file")
	}
	if _, err := os.Stat(base); err != nil {
		return core.NewError(core.ErrIO, "missing 'base' file when opening sqlite driver: %s", base)
	}

	modified, hasModified := params["modified"]
	d.hasModified = hasModified

	open := base
	if hasModified {
		if _, err := os.Stat(modified); err != nil {
			return core.NewError(core.ErrIO, "missing 'modified' file when opening sqlite driver: %s", modified)
		}
		open = modified
	}

	if err := d.connect(open); err != nil {
		return err
	}
	if hasModified {
		if _, err := d.conn.ExecContext(d.bg, "ATTACH "+quoteString(base)+" AS aux"); err != nil {
			d.Close()
			return core.WrapError(core.ErrBackend, err, "unable to attach base database %s", base)
		}
	}
	return nil
}

// Create makes a new empty database file named by the "base"
// parameter.
func (d *Driver) Create(params driver.Parameters, overwrite bool) error {
	base, ok := params["base"]
	if !ok {
		return core.NewError(core.ErrIO, "missing 'base' file")
	}
	if _, err := os.Stat(base); err == nil {
		if !overwrite {
			return core.NewError(core.ErrIO, "unable to create sqlite database - already exists: %s", base)
		}
		if err := os.Remove(base); err != nil {
			return core.WrapError(core.ErrIO, err, "unable to remove %s", base)
		}
	}
	return d.connect(base)
}

func (d *Driver) connect(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "unable to open %s as sqlite database", path)
	}
	// a single connection keeps ATTACH and SAVEPOINT session state
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(d.bg)
	if err != nil {
		db.Close()
		return core.WrapError(core.ErrBackend, err, "unable to open %s as sqlite database", path)
	}
	d.db = db
	d.conn = conn
	return nil
}

// Close releases the session and every cached statement.
func (d *Driver) Close() error {
	if d.datetimeCmp != nil {
		d.datetimeCmp.Close()
		d.datetimeCmp = nil
	}
	var err error
	if d.conn != nil {
		err = d.conn.Close()
		d.conn = nil
	}
	if d.db != nil {
		if cerr := d.db.Close(); err == nil {
			err = cerr
		}
		d.db = nil
	}
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "closing sqlite driver")
	}
	return nil
}

// databaseName resolves the logical side to the SQLite schema name.
func (d *Driver) databaseName(useModified bool) (string, error) {
	if d.hasModified {
		if useModified {
			return "main", nil
		}
		return "aux", nil
	}
	if useModified {
		return "", core.NewError(core.ErrUnsupported, "'modified' database not open")
	}
	return "main", nil
}

// ListTables returns the user tables of the requested side, ordered
// by name. GeoPackage metadata tables, R-tree index tables, the
// sequence table and virtual tables are excluded.
func (d *Driver) ListTables(useModified bool) ([]string, error) {
	dbName, err := d.databaseName(useModified)
	if err != nil {
		return nil, err
	}
	rows, err := d.conn.QueryContext(d.bg,
		"SELECT name FROM "+quoteIdent(dbName)+".sqlite_master"+
			" WHERE type='table' AND sql NOT LIKE 'CREATE VIRTUAL%' ORDER BY name")
	if err != nil {
		return nil, core.WrapError(core.ErrBackend, err, "listing tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, core.WrapError(core.ErrBackend, err, "listing tables")
		}
		if isInternalTable(name) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrBackend, err, "listing tables")
	}
	return names, nil
}

// isInternalTable filters tables maintained by the backend or the
// GeoPackage machinery rather than by the user.
func isInternalTable(name string) bool {
	return strings.HasPrefix(name, "gpkg_") ||
		strings.HasPrefix(name, "rtree_") ||
		name == "sqlite_sequence"
}

func (d *Driver) tableExists(dbName, table string) (bool, error) {
	row := d.conn.QueryRowContext(d.bg,
		"SELECT name FROM "+quoteIdent(dbName)+".sqlite_master WHERE type='table' AND name=?", table)
	var name string
	switch err := row.Scan(&name); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, core.WrapError(core.ErrBackend, err, "checking table %s", table)
	}
}

// execRetry runs a statement, retrying with exponential backoff while
// the database is locked by another connection.
func (d *Driver) execRetry(query string, args ...any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	op := func() error {
		_, err := d.conn.ExecContext(d.bg, query, args...)
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, bo); err != nil {
		return core.WrapError(core.ErrBackend, err, "exec failed: %s", query)
	}
	return nil
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
