package sqlitedriver

import (
	"fmt"
	"strings"

	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
	"github.com/crittermap/geodelta/internal/gpkg"
)

// geopackage metadata table definitions, created when at least one
// table is spatial
const (
	ddlSpatialRefSys = `CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (` +
		`srs_name TEXT NOT NULL, srs_id INTEGER NOT NULL PRIMARY KEY, ` +
		`organization TEXT NOT NULL, organization_coordsys_id INTEGER NOT NULL, ` +
		`definition TEXT NOT NULL, description TEXT)`
	ddlContents = `CREATE TABLE IF NOT EXISTS gpkg_contents (` +
		`table_name TEXT NOT NULL PRIMARY KEY, data_type TEXT NOT NULL, ` +
		`identifier TEXT UNIQUE, description TEXT DEFAULT '', ` +
		`last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')), ` +
		`min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`
	ddlGeometryColumns = `CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (` +
		`table_name TEXT NOT NULL, column_name TEXT NOT NULL, ` +
		`geometry_type_name TEXT NOT NULL, srs_id INTEGER NOT NULL, ` +
		`z TINYINT NOT NULL, m TINYINT NOT NULL, ` +
		`CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name))`
)

// CreateTables creates empty tables from the given schemas. Spatial
// tables additionally get their GeoPackage registration rows.
func (d *Driver) CreateTables(tables []*driver.TableSchema) error {
	spatial := false
	for _, tbl := range tables {
		if tbl.GeometryColumn() >= 0 {
			spatial = true
			break
		}
	}
	if spatial {
		for _, ddl := range []string{ddlSpatialRefSys, ddlContents, ddlGeometryColumns} {
			if _, err := d.conn.ExecContext(d.bg, ddl); err != nil {
				return core.WrapError(core.ErrBackend, err, "initializing spatial metadata")
			}
		}
	}

	for _, tbl := range tables {
		if strings.HasPrefix(tbl.Name, "gpkg_") {
			continue
		}
		if tbl.GeometryColumn() >= 0 {
			if err := d.addCrsDefinition(tbl.CRS); err != nil {
				return err
			}
			if err := d.addSpatialTable(tbl); err != nil {
				return err
			}
		}

		var cols, pkeyCols strings.Builder
		for i := range tbl.Columns {
			c := &tbl.Columns[i]
			if cols.Len() > 0 {
				cols.WriteString(", ")
			}
			cols.WriteString(quoteIdent(c.Name))
			cols.WriteString(" ")
			cols.WriteString(c.DbType)
			if c.IsNotNull {
				cols.WriteString(" NOT NULL")
			}
			// INTEGER PRIMARY KEY aliases ROWID and auto-increments on
			// its own; the AUTOINCREMENT keyword is deliberately not
			// emitted
			if c.IsPrimaryKey {
				if pkeyCols.Len() > 0 {
					pkeyCols.WriteString(", ")
				}
				pkeyCols.WriteString(quoteIdent(c.Name))
			}
		}
		sql := fmt.Sprintf("CREATE TABLE %s.%s (%s, PRIMARY KEY (%s))",
			quoteIdent("main"), quoteIdent(tbl.Name), cols.String(), pkeyCols.String())
		if _, err := d.conn.ExecContext(d.bg, sql); err != nil {
			return core.WrapError(core.ErrBackend, err, "creating table %s", tbl.Name)
		}
	}
	return nil
}

func (d *Driver) addCrsDefinition(crs driver.CrsDefinition) error {
	var count int
	err := d.conn.QueryRowContext(d.bg,
		"SELECT count(*) FROM gpkg_spatial_ref_sys WHERE srs_id = ?", crs.SrsID).Scan(&count)
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "accessing gpkg_spatial_ref_sys")
	}
	if count > 0 {
		return nil
	}
	_, err = d.conn.ExecContext(d.bg,
		"INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, '')",
		fmt.Sprintf("%s:%d", crs.AuthName, crs.AuthCode), crs.SrsID, crs.AuthName, crs.AuthCode, crs.Wkt)
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "inserting CRS into gpkg_spatial_ref_sys")
	}
	return nil
}

func (d *Driver) addSpatialTable(tbl *driver.TableSchema) error {
	col := &tbl.Columns[tbl.GeometryColumn()]
	_, err := d.conn.ExecContext(d.bg,
		"INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id) "+
			"VALUES (?, 'features', ?, 0, 0, 0, 0, ?)",
		tbl.Name, tbl.Name, col.GeomSrsID)
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "inserting row into gpkg_contents")
	}
	var z, m int
	if col.GeomHasZ {
		z = 1
	}
	if col.GeomHasM {
		m = 1
	}
	_, err = d.conn.ExecContext(d.bg,
		"INSERT INTO gpkg_geometry_columns VALUES (?, ?, ?, ?, ?, ?)",
		tbl.Name, col.Name, col.GeomType, col.GeomSrsID, z, m)
	if err != nil {
		return core.WrapError(core.ErrBackend, err, "inserting row into gpkg_geometry_columns")
	}
	return nil
}

// UpdateSpatialExtents recomputes the bounding boxes recorded in
// gpkg_contents from the actual geometry data. Called after bulk
// loads such as the copy operation.
func (d *Driver) UpdateSpatialExtents() error {
	hasContents, err := d.tableExists("main", "gpkg_contents")
	if err != nil {
		return err
	}
	if !hasContents {
		return nil
	}
	tables, err := d.ListTables(false)
	if err != nil {
		return err
	}
	for _, table := range tables {
		schema, err := d.TableSchema(table, false)
		if err != nil {
			return err
		}
		gi := schema.GeometryColumn()
		if gi < 0 {
			continue
		}
		rows, err := d.conn.QueryContext(d.bg,
			"SELECT "+quoteIdent(schema.Columns[gi].Name)+" FROM "+quoteIdent(table))
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "scanning geometries of %s", table)
		}
		var ext gpkg.Extent
		found := false
		for rows.Next() {
			var blob []byte
			if err := rows.Scan(&blob); err != nil {
				rows.Close()
				return core.WrapError(core.ErrBackend, err, "scanning geometries of %s", table)
			}
			if len(blob) == 0 {
				continue
			}
			wkb, err := gpkg.Strip(blob)
			if err != nil {
				d.ctx.Logger().Warnf("skipping malformed geometry in %s: %v", table, err)
				continue
			}
			e, empty, err := gpkg.EnvelopeOf(wkb)
			if err != nil || empty {
				continue
			}
			if found {
				ext.Extend(e)
			} else {
				ext = e
				found = true
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "scanning geometries of %s", table)
		}
		if !found {
			continue
		}
		_, err = d.conn.ExecContext(d.bg,
			"UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = ?",
			ext.MinX, ext.MinY, ext.MaxX, ext.MaxY, table)
		if err != nil {
			return core.WrapError(core.ErrBackend, err, "updating extent of %s", table)
		}
	}
	return nil
}
