package geodelta

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/crittermap/geodelta/internal/core"
)

func makeDB(t *testing.T, dir, name string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func queryRows(t *testing.T, path, query string) []string {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Query(query)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s sql.NullString
		require.NoError(t, rows.Scan(&s))
		out = append(out, s.String)
	}
	require.NoError(t, rows.Err())
	return out
}

const simpleDDL = "CREATE TABLE simple (fid INTEGER PRIMARY KEY, name TEXT)"

func seedSimple(t *testing.T, dir, name string, extra ...string) string {
	stmts := append([]string{
		simpleDDL,
		"INSERT INTO simple VALUES (1, 'a')",
		"INSERT INTO simple VALUES (2, 'b')",
		"INSERT INTO simple VALUES (3, 'c')",
	}, extra...)
	return makeDB(t, dir, name, stmts...)
}

func TestDriversIncludesSqlite(t *testing.T) {
	assert.Contains(t, Drivers(), "sqlite")
}

func TestDiffApplyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	clone := seedSimple(t, dir, "clone.db")
	modified := seedSimple(t, dir, "modified.db",
		"UPDATE simple SET name = 'bb' WHERE fid = 2",
		"DELETE FROM simple WHERE fid = 3",
		"INSERT INTO simple VALUES (4, 'd')",
	)

	ch := filepath.Join(dir, "diff.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, modified, ch))

	has, err := HasChanges(ctx, ch)
	require.NoError(t, err)
	assert.True(t, has)
	count, err := ChangesCount(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, ApplyChangeset(ctx, "sqlite", "", clone, ch))
	assert.Equal(t, []string{"a", "bb", "d"}, queryRows(t, clone, "SELECT name FROM simple ORDER BY fid"))

	// the applied clone now diffs empty against modified
	ch2 := filepath.Join(dir, "diff2.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", clone, modified, ch2))
	has, err = HasChanges(ctx, ch2)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInvertRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	clone := seedSimple(t, dir, "clone.db")
	modified := seedSimple(t, dir, "modified.db",
		"INSERT INTO simple VALUES (4, 'A')",
		"UPDATE simple SET name = 'bb' WHERE fid = 2",
		"DELETE FROM simple WHERE fid = 3",
	)

	ch := filepath.Join(dir, "diff.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, modified, ch))
	inv := filepath.Join(dir, "inv.bin")
	require.NoError(t, InvertChangeset(ctx, ch, inv))

	require.NoError(t, ApplyChangeset(ctx, "sqlite", "", clone, ch))
	require.NoError(t, ApplyChangeset(ctx, "sqlite", "", clone, inv))
	assert.Equal(t, []string{"a", "b", "c"}, queryRows(t, clone, "SELECT name FROM simple ORDER BY fid"))

	// double inversion reproduces the changeset byte for byte
	inv2 := filepath.Join(dir, "inv2.bin")
	require.NoError(t, InvertChangeset(ctx, inv, inv2))
	orig, err := os.ReadFile(ch)
	require.NoError(t, err)
	twice, err := os.ReadFile(inv2)
	require.NoError(t, err)
	assert.Equal(t, orig, twice)
}

func TestConcatEquivalentToSequentialApply(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	step1 := seedSimple(t, dir, "step1.db", "UPDATE simple SET name = 'bb' WHERE fid = 2")
	step2 := seedSimple(t, dir, "step2.db",
		"UPDATE simple SET name = 'bb' WHERE fid = 2",
		"DELETE FROM simple WHERE fid = 2",
	)

	d1 := filepath.Join(dir, "d1.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, step1, d1))
	d2 := filepath.Join(dir, "d2.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", step1, step2, d2))

	combined := filepath.Join(dir, "combined.bin")
	require.NoError(t, ConcatChanges(ctx, []string{d1, d2}, combined))

	// the update+delete pair reduces to a single delete
	count, err := ChangesCount(ctx, combined)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	clone := seedSimple(t, dir, "clone.db")
	require.NoError(t, ApplyChangeset(ctx, "sqlite", "", clone, combined))
	assert.Equal(t, []string{"a", "c"}, queryRows(t, clone, "SELECT name FROM simple ORDER BY fid"))
}

// Concurrent inserts of the same key: ours is remapped past theirs'
// inserts and both sides survive.
func TestRebaseDBConcurrentInserts(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	theirsDB := seedSimple(t, dir, "theirs.db",
		"INSERT INTO simple VALUES (4, 'B')",
		"INSERT INTO simple VALUES (5, 'C')",
		"INSERT INTO simple VALUES (6, 'D')",
	)
	ours := seedSimple(t, dir, "ours.db", "INSERT INTO simple VALUES (4, 'A')")

	base2theirs := filepath.Join(dir, "base2theirs.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, theirsDB, base2theirs))

	conflict := filepath.Join(dir, "conflict.json")
	require.NoError(t, Rebase(ctx, "sqlite", "", base, ours, base2theirs, conflict))

	assert.Equal(t, []string{"a", "b", "c", "B", "C", "D", "A"},
		queryRows(t, ours, "SELECT name FROM simple ORDER BY fid"))
	_, err := os.Stat(conflict)
	assert.True(t, os.IsNotExist(err), "no conflict file expected")
}

// Updates of different columns merge cleanly with an empty conflict
// report.
func TestRebaseDBUpdatesOfDifferentColumns(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	ddl := "CREATE TABLE rated (fid INTEGER PRIMARY KEY, name TEXT, rating INTEGER)"
	seed := []string{ddl, "INSERT INTO rated VALUES (2, 'f', 2)"}

	base := makeDB(t, dir, "base.db", seed...)
	theirsDB := makeDB(t, dir, "theirs.db", append(seed, "UPDATE rated SET rating = 22")...)
	ours := makeDB(t, dir, "ours.db", append(seed, "UPDATE rated SET name = 'f2'")...)

	base2theirs := filepath.Join(dir, "base2theirs.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, theirsDB, base2theirs))

	conflict := filepath.Join(dir, "conflict.json")
	require.NoError(t, Rebase(ctx, "sqlite", "", base, ours, base2theirs, conflict))

	assert.Equal(t, []string{"f2"}, queryRows(t, ours, "SELECT name FROM rated"))
	assert.Equal(t, []string{"22"}, queryRows(t, ours, "SELECT rating FROM rated"))
	_, err := os.Stat(conflict)
	assert.True(t, os.IsNotExist(err))
}

// Ours updated a row theirs deleted: the local change is dropped.
func TestRebaseDBUpdateOnDeletedRow(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	theirsDB := seedSimple(t, dir, "theirs.db", "DELETE FROM simple WHERE fid = 2")
	ours := seedSimple(t, dir, "ours.db", "UPDATE simple SET name = 'f2' WHERE fid = 2")

	base2theirs := filepath.Join(dir, "base2theirs.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, theirsDB, base2theirs))

	conflict := filepath.Join(dir, "conflict.json")
	require.NoError(t, Rebase(ctx, "sqlite", "", base, ours, base2theirs, conflict))
	assert.Equal(t, []string{"a", "c"}, queryRows(t, ours, "SELECT name FROM simple ORDER BY fid"))
}

func TestRebaseConflictFileWritten(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	theirsDB := seedSimple(t, dir, "theirs.db", "UPDATE simple SET name = 'theirs' WHERE fid = 2")
	ours := seedSimple(t, dir, "ours.db", "UPDATE simple SET name = 'ours' WHERE fid = 2")

	base2theirs := filepath.Join(dir, "base2theirs.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, theirsDB, base2theirs))

	conflict := filepath.Join(dir, "conflict.json")
	require.NoError(t, Rebase(ctx, "sqlite", "", base, ours, base2theirs, conflict))

	// local change wins, conflict recorded
	assert.Equal(t, []string{"ours"}, queryRows(t, ours, "SELECT name FROM simple WHERE fid = 2"))
	data, err := os.ReadFile(conflict)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"theirs"`)
}

func TestRebaseRejectsTriggers(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	ours := seedSimple(t, dir, "ours.db",
		"CREATE TRIGGER my_trigger AFTER INSERT ON simple BEGIN SELECT 1; END")
	theirsDB := seedSimple(t, dir, "theirs.db", "INSERT INTO simple VALUES (4, 'B')")

	base2theirs := filepath.Join(dir, "base2theirs.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, theirsDB, base2theirs))

	err := Rebase(ctx, "sqlite", "", base, ours, base2theirs, filepath.Join(dir, "conflict.json"))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrUnsupported))
}

func TestMakeCopy(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	src := seedSimple(t, dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	require.NoError(t, MakeCopy(ctx, "sqlite", "", src, "sqlite", "", dst))
	assert.Equal(t, []string{"a", "b", "c"}, queryRows(t, dst, "SELECT name FROM simple ORDER BY fid"))
}

func TestDumpAndApplyToEmpty(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	src := seedSimple(t, dir, "src.db")
	dump := filepath.Join(dir, "dump.bin")
	require.NoError(t, DumpData(ctx, "sqlite", "", src, dump))

	empty := makeDB(t, dir, "empty.db", simpleDDL)
	require.NoError(t, ApplyChangeset(ctx, "sqlite", "", empty, dump))
	assert.Equal(t, []string{"a", "b", "c"}, queryRows(t, empty, "SELECT name FROM simple ORDER BY fid"))
}

func TestSchemaReadsTables(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	db := seedSimple(t, dir, "db.db")
	schemas, err := Schema(ctx, "sqlite", "", db)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "simple", schemas[0].Name)
	require.Len(t, schemas[0].Columns, 2)
	assert.True(t, schemas[0].Columns[0].IsPrimaryKey)
}

func TestListChangesRendersJSON(t *testing.T) {
	dir := t.TempDir()
	ctx := NewContext()
	base := seedSimple(t, dir, "base.db")
	modified := seedSimple(t, dir, "modified.db", "INSERT INTO simple VALUES (4, 'd')")
	ch := filepath.Join(dir, "diff.bin")
	require.NoError(t, CreateChangeset(ctx, "sqlite", "", base, modified, ch))

	data, err := ListChanges(ctx, ch, "")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"insert"`)

	summary, err := ListChangesSummary(ctx, ch, "")
	require.NoError(t, err)
	assert.Contains(t, string(summary), `"geodelta_summary"`)
}
