// Package geodelta computes, serializes, applies, inverts,
// concatenates and rebases changesets: compact binary descriptions of
// row-level differences between two relational datasets holding the
// same logical schema. The primary use is synchronizing geospatial
// vector data without transferring full snapshots.
//
// All operations work on file paths and are driven through a Context
// which carries the logger and configuration. Backends are addressed
// by driver name; the embedded file-based backend is registered as
// "sqlite".
package geodelta

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
	_ "github.com/crittermap/geodelta/internal/driver/sqlitedriver"
	"github.com/crittermap/geodelta/internal/export"
	"github.com/crittermap/geodelta/internal/merge"
)

// Version is the library version.
const Version = "1.0.0"

// Context carries the logger and per-operation configuration.
type Context = core.Context

// NewContext returns a context with the default stderr logger at the
// warning level.
func NewContext() *Context { return core.NewContext() }

// TableSchema re-exports the driver schema model for embedders.
type TableSchema = driver.TableSchema

// Drivers returns the names of the registered backend drivers.
func Drivers() []string { return driver.Names() }

// openDriver opens a driver session over base (and optionally
// modified).
func openDriver(ctx *Context, driverName, conninfo, base, modified string) (driver.Driver, error) {
	drv, err := driver.New(ctx, driverName)
	if err != nil {
		return nil, err
	}
	params := driver.Parameters{"base": base}
	if modified != "" {
		params["modified"] = modified
	}
	if conninfo != "" {
		params["conninfo"] = conninfo
	}
	if err := drv.Open(params); err != nil {
		drv.Close()
		return nil, err
	}
	return drv, nil
}

// createFileWriter opens the output changeset file with a buffered
// changeset writer. done flushes and closes; it must be called on the
// success path.
func createFileWriter(path string) (*changeset.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, core.WrapError(core.ErrIO, err, "unable to create changeset %s", path)
	}
	buf := bufio.NewWriter(f)
	done := func() error {
		if err := buf.Flush(); err != nil {
			f.Close()
			return core.WrapError(core.ErrIO, err, "writing changeset %s", path)
		}
		if err := f.Close(); err != nil {
			return core.WrapError(core.ErrIO, err, "writing changeset %s", path)
		}
		return nil
	}
	return changeset.NewWriter(buf), done, nil
}

// CreateChangeset compares the base and modified databases and writes
// their differences to the changeset file.
func CreateChangeset(ctx *Context, driverName, conninfo, base, modified, changesetPath string) error {
	drv, err := openDriver(ctx, driverName, conninfo, base, modified)
	if err != nil {
		return err
	}
	defer drv.Close()

	w, done, err := createFileWriter(changesetPath)
	if err != nil {
		return err
	}
	if err := drv.CreateChangeset(w); err != nil {
		return err
	}
	return done()
}

// ApplyChangeset replays the changeset file against the base
// database.
func ApplyChangeset(ctx *Context, driverName, conninfo, base, changesetPath string) error {
	r, err := changeset.OpenReader(changesetPath)
	if err != nil {
		return err
	}
	if r.IsEmpty() {
		ctx.Logger().Debugf("nothing to apply: %s is empty", changesetPath)
		return nil
	}
	drv, err := openDriver(ctx, driverName, conninfo, base, "")
	if err != nil {
		return err
	}
	defer drv.Close()
	return drv.ApplyChangeset(r)
}

// InvertChangeset writes the inverse of the input changeset: applying
// the result undoes applying the input.
func InvertChangeset(ctx *Context, changesetPath, outPath string) error {
	r, err := changeset.OpenReader(changesetPath)
	if err != nil {
		return err
	}
	w, done, err := createFileWriter(outPath)
	if err != nil {
		return err
	}
	if err := changeset.Invert(r, w); err != nil {
		return err
	}
	return done()
}

// ConcatChanges merges two or more sequential changeset files into a
// single equivalent changeset.
func ConcatChanges(ctx *Context, inputs []string, outPath string) error {
	if len(inputs) < 2 {
		return core.NewError(core.ErrUnsupported, "need at least two input changesets")
	}
	readers := make([]*changeset.Reader, 0, len(inputs))
	for _, path := range inputs {
		r, err := changeset.OpenReader(path)
		if err != nil {
			return err
		}
		readers = append(readers, r)
	}
	w, done, err := createFileWriter(outPath)
	if err != nil {
		return err
	}
	if err := merge.Concat(ctx, readers, w); err != nil {
		return err
	}
	return done()
}

// HasChanges reports whether the changeset file is non-empty. A file
// holding a table header but no entries counts as having changes.
func HasChanges(ctx *Context, changesetPath string) (bool, error) {
	r, err := changeset.OpenReader(changesetPath)
	if err != nil {
		return false, err
	}
	return !r.IsEmpty(), nil
}

// ChangesCount returns the number of entries in the changeset file.
func ChangesCount(ctx *Context, changesetPath string) (int, error) {
	r, err := changeset.OpenReader(changesetPath)
	if err != nil {
		return 0, err
	}
	count := 0
	for {
		_, err := r.NextEntry()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}

// ListChanges renders the changeset as JSON. An empty output path
// means return only.
func ListChanges(ctx *Context, changesetPath, outPath string) ([]byte, error) {
	r, err := changeset.OpenReader(changesetPath)
	if err != nil {
		return nil, err
	}
	data, err := export.ChangesToJSON(r)
	if err != nil {
		return nil, err
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return nil, core.WrapError(core.ErrIO, err, "writing %s", outPath)
		}
	}
	return data, nil
}

// ListChangesSummary renders per-table operation counts as JSON.
func ListChangesSummary(ctx *Context, changesetPath, outPath string) ([]byte, error) {
	r, err := changeset.OpenReader(changesetPath)
	if err != nil {
		return nil, err
	}
	data, err := export.SummaryToJSON(r)
	if err != nil {
		return nil, err
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return nil, core.WrapError(core.ErrIO, err, "writing %s", outPath)
		}
	}
	return data, nil
}

// Schema reads the full schema of the database.
func Schema(ctx *Context, driverName, conninfo, base string) ([]*TableSchema, error) {
	drv, err := openDriver(ctx, driverName, conninfo, base, "")
	if err != nil {
		return nil, err
	}
	defer drv.Close()

	tables, err := drv.ListTables(false)
	if err != nil {
		return nil, err
	}
	schemas := make([]*TableSchema, 0, len(tables))
	for _, table := range tables {
		s, err := drv.TableSchema(table, false)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// DumpData writes the whole content of the database as a changeset of
// insert records.
func DumpData(ctx *Context, driverName, conninfo, base, changesetPath string) error {
	drv, err := openDriver(ctx, driverName, conninfo, base, "")
	if err != nil {
		return err
	}
	defer drv.Close()

	w, done, err := createFileWriter(changesetPath)
	if err != nil {
		return err
	}
	if err := drv.DumpData(w, false); err != nil {
		return err
	}
	return done()
}

// MakeCopy copies the schema and content of the source database into
// a freshly created destination, then refreshes the spatial extents
// recorded in the destination's metadata.
func MakeCopy(ctx *Context, srcDriver, srcConninfo, src, dstDriver, dstConninfo, dst string) error {
	srcDrv, err := openDriver(ctx, srcDriver, srcConninfo, src, "")
	if err != nil {
		return err
	}
	defer srcDrv.Close()

	tables, err := srcDrv.ListTables(false)
	if err != nil {
		return err
	}
	schemas := make([]*TableSchema, 0, len(tables))
	for _, table := range tables {
		s, err := srcDrv.TableSchema(table, false)
		if err != nil {
			return err
		}
		schemas = append(schemas, s)
	}

	dump := tmpFile("dump")
	defer os.Remove(dump)
	if err := DumpData(ctx, srcDriver, srcConninfo, src, dump); err != nil {
		return err
	}

	dstDrv, err := driver.New(ctx, dstDriver)
	if err != nil {
		return err
	}
	defer dstDrv.Close()
	params := driver.Parameters{"base": dst}
	if dstConninfo != "" {
		params["conninfo"] = dstConninfo
	}
	if err := dstDrv.Create(params, true); err != nil {
		return err
	}
	if err := dstDrv.CreateTables(schemas); err != nil {
		return err
	}
	r, err := changeset.OpenReader(dump)
	if err != nil {
		return err
	}
	if !r.IsEmpty() {
		if err := dstDrv.ApplyChangeset(r); err != nil {
			return err
		}
	}
	// the destination's layer extents start out blank
	if u, ok := dstDrv.(interface{ UpdateSpatialExtents() error }); ok {
		return u.UpdateSpatialExtents()
	}
	return nil
}

func tmpFile(tag string) string {
	return filepath.Join(os.TempDir(), "geodelta-"+tag+"-"+uuid.NewString()+".bin")
}

func copyFile(dst, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return core.WrapError(core.ErrIO, err, "reading %s", src)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return core.WrapError(core.ErrIO, err, "writing %s", dst)
	}
	return nil
}
