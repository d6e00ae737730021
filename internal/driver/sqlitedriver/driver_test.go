package sqlitedriver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
)

func TestOpenRequiresBase(t *testing.T) {
	d := openableDriver()
	err := d.Open(driver.Parameters{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrIO))

	err = d.Open(driver.Parameters{"base": "/nonexistent/file.db"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrIO))
}

func openableDriver() *Driver {
	d, _ := driver.New(core.NewContext(), Name)
	return d.(*Driver)
}

func TestListTablesFiltersInternal(t *testing.T) {
	base := makeDB(t, "base.db",
		simpleDDL,
		"CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT)",
		"CREATE TABLE rtree_simple_geom_node (nodeno INTEGER PRIMARY KEY, data BLOB)",
		"CREATE TABLE zebra (id INTEGER PRIMARY KEY)",
		"CREATE TABLE counted (id INTEGER PRIMARY KEY AUTOINCREMENT)",
	)
	d := openTestDriver(t, base, "")
	tables, err := d.ListTables(false)
	require.NoError(t, err)
	// ordered by name, metadata and sequence tables excluded
	assert.Equal(t, []string{"counted", "simple", "zebra"}, tables)

	_, err = d.ListTables(true)
	require.Error(t, err, "modified side is not open")
}

func TestTableSchema(t *testing.T) {
	base := makeDB(t, "base.db",
		"CREATE TABLE t (fid INTEGER PRIMARY KEY, name TEXT NOT NULL, score DOUBLE, created DATETIME, data BLOB)",
	)
	d := openTestDriver(t, base, "")
	schema, err := d.TableSchema("t", false)
	require.NoError(t, err)
	require.Len(t, schema.Columns, 5)

	fid := schema.Columns[0]
	assert.True(t, fid.IsPrimaryKey)
	assert.True(t, fid.IsAutoIncrement)
	assert.Equal(t, driver.BaseTypeInteger, fid.BaseType)

	name := schema.Columns[1]
	assert.True(t, name.IsNotNull)
	assert.Equal(t, driver.BaseTypeText, name.BaseType)

	assert.Equal(t, driver.BaseTypeDouble, schema.Columns[2].BaseType)
	assert.Equal(t, driver.BaseTypeDatetime, schema.Columns[3].BaseType)
	assert.Equal(t, driver.BaseTypeBlob, schema.Columns[4].BaseType)

	_, err = d.TableSchema("missing", false)
	require.Error(t, err)
}

func TestTableSchemaGeometry(t *testing.T) {
	base := makeDB(t, "base.db",
		"CREATE TABLE gpkg_geometry_columns (table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL, srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)",
		"CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT NOT NULL, srs_id INTEGER NOT NULL PRIMARY KEY, organization TEXT NOT NULL, organization_coordsys_id INTEGER NOT NULL, definition TEXT NOT NULL, description TEXT)",
		"CREATE TABLE lines (fid INTEGER PRIMARY KEY, geom LINESTRING, name TEXT)",
		"INSERT INTO gpkg_geometry_columns VALUES ('lines', 'geom', 'LINESTRING', 4326, 1, 0)",
		"INSERT INTO gpkg_spatial_ref_sys VALUES ('EPSG:4326', 4326, 'EPSG', 4326, 'GEOGCS[...]', '')",
	)
	d := openTestDriver(t, base, "")
	schema, err := d.TableSchema("lines", false)
	require.NoError(t, err)

	geom := schema.Columns[1]
	assert.True(t, geom.IsGeometry)
	assert.Equal(t, driver.BaseTypeGeometry, geom.BaseType)
	assert.Equal(t, "LINESTRING", geom.GeomType)
	assert.Equal(t, 4326, geom.GeomSrsID)
	assert.True(t, geom.GeomHasZ)
	assert.False(t, geom.GeomHasM)

	assert.Equal(t, 4326, schema.CRS.SrsID)
	assert.Equal(t, "EPSG", schema.CRS.AuthName)
	assert.Equal(t, 4326, schema.CRS.AuthCode)
}

func TestCreateChangesetBasic(t *testing.T) {
	base := makeDB(t, "base.db",
		simpleDDL,
		"INSERT INTO simple VALUES (1, 'a', 1)",
		"INSERT INTO simple VALUES (2, 'b', 2)",
		"INSERT INTO simple VALUES (3, 'c', 3)",
	)
	modified := makeDB(t, "modified.db",
		simpleDDL,
		"INSERT INTO simple VALUES (1, 'a', 1)",
		"INSERT INTO simple VALUES (2, 'bb', 2)",
		"INSERT INTO simple VALUES (4, 'd', 4)",
	)
	entries := diffToEntries(t, base, modified)
	require.Len(t, entries, 3)

	// within a table the order is inserts, deletes, updates
	assert.Equal(t, changeset.OpInsert, entries[0].Op)
	assert.True(t, entries[0].NewValues[0].Equal(changeset.NewInt(4)))
	assert.True(t, entries[0].NewValues[1].Equal(changeset.NewText("d")))

	assert.Equal(t, changeset.OpDelete, entries[1].Op)
	assert.True(t, entries[1].OldValues[0].Equal(changeset.NewInt(3)))
	assert.True(t, entries[1].OldValues[1].Equal(changeset.NewText("c")))

	update := entries[2]
	assert.Equal(t, changeset.OpUpdate, update.Op)
	assert.True(t, update.OldValues[0].Equal(changeset.NewInt(2)))
	assert.True(t, update.OldValues[1].Equal(changeset.NewText("b")))
	assert.True(t, update.NewValues[1].Equal(changeset.NewText("bb")))
	// unchanged columns are masked as undefined
	assert.False(t, update.NewValues[0].IsDefined())
	assert.False(t, update.OldValues[2].IsDefined())
	assert.False(t, update.NewValues[2].IsDefined())

	assert.Equal(t, []bool{true, false, false}, update.Table.PrimaryKeys)
}

func TestCreateChangesetIdenticalDatabases(t *testing.T) {
	ddl := []string{simpleDDL, "INSERT INTO simple VALUES (1, 'a', 1)"}
	base := makeDB(t, "base.db", ddl...)
	modified := makeDB(t, "modified.db", ddl...)
	assert.Empty(t, diffToEntries(t, base, modified))
}

func TestCreateChangesetTableSetMismatch(t *testing.T) {
	base := makeDB(t, "base.db", simpleDDL)
	modified := makeDB(t, "modified.db", simpleDDL, "CREATE TABLE extra (id INTEGER PRIMARY KEY)")
	d := openTestDriver(t, base, modified)
	var buf bytes.Buffer
	err := d.CreateChangeset(changeset.NewWriter(&buf))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrSchemaMismatch))
}

func TestCreateChangesetColumnMismatch(t *testing.T) {
	base := makeDB(t, "base.db", "CREATE TABLE t (id INTEGER PRIMARY KEY, a TEXT)")
	modified := makeDB(t, "modified.db", "CREATE TABLE t (id INTEGER PRIMARY KEY, b TEXT)")
	d := openTestDriver(t, base, modified)
	var buf bytes.Buffer
	err := d.CreateChangeset(changeset.NewWriter(&buf))
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrSchemaMismatch))
}

func TestCreateChangesetToleratesEquivalentTypes(t *testing.T) {
	base := makeDB(t, "base.db", "CREATE TABLE t (id INTEGER PRIMARY KEY, a INT)",
		"INSERT INTO t VALUES (1, 5)")
	modified := makeDB(t, "modified.db", "CREATE TABLE t (id INTEGER PRIMARY KEY, a BIGINT)",
		"INSERT INTO t VALUES (1, 6)")
	entries := diffToEntries(t, base, modified)
	require.Len(t, entries, 1)
	assert.Equal(t, changeset.OpUpdate, entries[0].Op)
}

func TestCreateChangesetSkipsTablesWithoutPkey(t *testing.T) {
	base := makeDB(t, "base.db", "CREATE TABLE nopk (a TEXT, b TEXT)", "INSERT INTO nopk VALUES ('x', 'y')")
	modified := makeDB(t, "modified.db", "CREATE TABLE nopk (a TEXT, b TEXT)")
	assert.Empty(t, diffToEntries(t, base, modified))
}

func TestCreateChangesetSkipTablesConfig(t *testing.T) {
	base := makeDB(t, "base.db", simpleDDL)
	modified := makeDB(t, "modified.db", simpleDDL, "INSERT INTO simple VALUES (1, 'a', 1)")
	d := openTestDriver(t, base, modified)
	d.ctx.SetTablesToSkip([]string{"simple"})
	var buf bytes.Buffer
	require.NoError(t, d.CreateChangeset(changeset.NewWriter(&buf)))
	assert.Empty(t, parseEntries(t, buf.Bytes()))
}

func TestCreateChangesetDatetimeEquivalence(t *testing.T) {
	base := makeDB(t, "base.db",
		"CREATE TABLE events (id INTEGER PRIMARY KEY, at DATETIME)",
		"INSERT INTO events VALUES (1, '2021-04-01T15:00:00Z')",
	)
	modified := makeDB(t, "modified.db",
		"CREATE TABLE events (id INTEGER PRIMARY KEY, at DATETIME)",
		"INSERT INTO events VALUES (1, '2021-04-01 15:00:00')",
	)
	// equivalent spellings of the same instant are not a change
	assert.Empty(t, diffToEntries(t, base, modified))
}

func TestCreateChangesetDatetimeRealChange(t *testing.T) {
	base := makeDB(t, "base.db",
		"CREATE TABLE events (id INTEGER PRIMARY KEY, at DATETIME)",
		"INSERT INTO events VALUES (1, '2021-04-01T15:00:00Z')",
	)
	modified := makeDB(t, "modified.db",
		"CREATE TABLE events (id INTEGER PRIMARY KEY, at DATETIME)",
		"INSERT INTO events VALUES (1, '2021-04-01 16:30:00')",
	)
	entries := diffToEntries(t, base, modified)
	require.Len(t, entries, 1)
	assert.Equal(t, changeset.OpUpdate, entries[0].Op)
}

func TestDumpData(t *testing.T) {
	base := makeDB(t, "base.db",
		simpleDDL,
		"INSERT INTO simple VALUES (1, 'a', 1)",
		"INSERT INTO simple VALUES (2, 'b', NULL)",
		"CREATE TABLE nopk (a TEXT)",
		"INSERT INTO nopk VALUES ('skipped')",
	)
	d := openTestDriver(t, base, "")
	var buf bytes.Buffer
	require.NoError(t, d.DumpData(changeset.NewWriter(&buf), false))
	entries := parseEntries(t, buf.Bytes())
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, changeset.OpInsert, e.Op)
		assert.Equal(t, "simple", e.Table.Name)
	}
	assert.Equal(t, changeset.TypeNull, entries[1].NewValues[2].Type())
}

func TestCheckCompatibleForRebase(t *testing.T) {
	clean := makeDB(t, "clean.db", simpleDDL)
	d := openTestDriver(t, clean, "")
	require.NoError(t, d.CheckCompatibleForRebase(false))

	triggered := makeDB(t, "triggered.db", simpleDDL,
		"CREATE TRIGGER my_trigger AFTER INSERT ON simple BEGIN SELECT 1; END")
	d2 := openTestDriver(t, triggered, "")
	err := d2.CheckCompatibleForRebase(false)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrUnsupported))

	fk := makeDB(t, "fk.db", simpleDDL,
		"CREATE TABLE child (id INTEGER PRIMARY KEY, parent INTEGER REFERENCES simple(fid))")
	d3 := openTestDriver(t, fk, "")
	err = d3.CheckCompatibleForRebase(false)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrUnsupported))
}

func TestCreateTablesAndCopySchema(t *testing.T) {
	src := makeDB(t, "src.db",
		"CREATE TABLE t (fid INTEGER PRIMARY KEY, name TEXT NOT NULL, score DOUBLE)")
	d := openTestDriver(t, src, "")
	schema, err := d.TableSchema("t", false)
	require.NoError(t, err)

	dstPath := makeDB(t, "dst.db")
	dst := openTestDriver(t, dstPath, "")
	require.NoError(t, dst.CreateTables([]*driver.TableSchema{schema}))

	created, err := dst.TableSchema("t", false)
	require.NoError(t, err)
	assert.True(t, created.EqualsBaseTypes(schema))
}
