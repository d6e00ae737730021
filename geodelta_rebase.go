package geodelta

import (
	"os"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/export"
	"github.com/crittermap/geodelta/internal/rebase"
)

// CreateRebasedChangeset rewrites the local diff (base to ours) so
// that it applies cleanly on top of the committed upstream diff (base
// to theirs), and writes the rewritten diff to rebasedPath. Cell
// conflicts are written to conflictPath as JSON; the file is only
// materialized when at least one conflict survived filtering.
func CreateRebasedChangeset(ctx *Context, driverName, conninfo, base, base2ours, base2theirs, rebasedPath, conflictPath string) error {
	if err := removeIfExists(conflictPath); err != nil {
		return err
	}

	theirs, err := changeset.OpenReader(base2theirs)
	if err != nil {
		return err
	}
	if theirs.IsEmpty() {
		// nothing happened upstream, ours applies as-is
		ctx.Logger().Infof("no rebase needed: %s is empty", base2theirs)
		return copyFile(rebasedPath, base2ours)
	}
	ours, err := changeset.OpenReader(base2ours)
	if err != nil {
		return err
	}
	if ours.IsEmpty() {
		// no local changes, so the rebased diff is empty as well
		ctx.Logger().Infof("no rebase needed: %s is empty", base2ours)
		return copyFile(rebasedPath, base2ours)
	}

	w, done, err := createFileWriter(rebasedPath)
	if err != nil {
		return err
	}
	conflicts, err := rebase.Rebase(ctx, theirs, ours, w)
	if err != nil {
		return err
	}
	if err := done(); err != nil {
		return err
	}

	if len(conflicts) == 0 {
		ctx.Logger().Debugf("no conflicts present")
		return nil
	}
	data, err := export.ConflictsToJSON(conflicts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(conflictPath, data, 0o644); err != nil {
		return core.WrapError(core.ErrIO, err, "writing conflict file %s", conflictPath)
	}
	return nil
}

// Rebase brings a locally modified database up to date with a
// committed upstream diff that shares the same base: it computes the
// local diff, rebases it on top of theirs, and applies to modified
// the condensed sequence of inverse(ours), theirs and the rebased
// diff as a single atomic changeset.
func Rebase(ctx *Context, driverName, conninfo, base, modified, base2theirs, conflictPath string) error {
	// verify upfront that the schema is rebase-compatible
	drv, err := openDriver(ctx, driverName, conninfo, modified, "")
	if err != nil {
		return err
	}
	if err := drv.CheckCompatibleForRebase(false); err != nil {
		drv.Close()
		return err
	}
	if err := drv.Close(); err != nil {
		return err
	}

	hasTheirs, err := HasChanges(ctx, base2theirs)
	if err != nil {
		return err
	}
	if !hasTheirs {
		return nil // modified is already up to date
	}

	base2ours := tmpFile("base2ours")
	defer os.Remove(base2ours)
	if err := CreateChangeset(ctx, driverName, conninfo, base, modified, base2ours); err != nil {
		return err
	}

	hasOurs, err := HasChanges(ctx, base2ours)
	if err != nil {
		return err
	}
	if !hasOurs {
		// no local changes, the result is theirs applied verbatim
		return ApplyChangeset(ctx, driverName, conninfo, modified, base2theirs)
	}

	theirs2final := tmpFile("theirs2final")
	defer os.Remove(theirs2final)
	if err := CreateRebasedChangeset(ctx, driverName, conninfo, base, base2ours, base2theirs, theirs2final, conflictPath); err != nil {
		return err
	}

	ours2base := tmpFile("ours2base")
	defer os.Remove(ours2base)
	if err := InvertChangeset(ctx, base2ours, ours2base); err != nil {
		return err
	}

	// condense the three-step application into one atomic changeset
	modified2final := tmpFile("modified2final")
	defer os.Remove(modified2final)
	if err := ConcatChanges(ctx, []string{ours2base, base2theirs, theirs2final}, modified2final); err != nil {
		return err
	}
	return ApplyChangeset(ctx, driverName, conninfo, modified, modified2final)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return core.WrapError(core.ErrIO, err, "removing %s", path)
	}
	return nil
}
