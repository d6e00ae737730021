package sqlitedriver

import (
	"database/sql"
	"strings"

	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
)

// TableSchema reads the schema of a single table, including
// GeoPackage geometry metadata and the coordinate reference system
// when the table is spatial.
func (d *Driver) TableSchema(table string, useModified bool) (*driver.TableSchema, error) {
	dbName, err := d.databaseName(useModified)
	if err != nil {
		return nil, err
	}
	exists, err := d.tableExists(dbName, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, core.NewError(core.ErrBackend, "table does not exist: %s", table)
	}

	schema := &driver.TableSchema{Name: table}
	rows, err := d.conn.QueryContext(d.bg,
		"PRAGMA "+quoteIdent(dbName)+".table_info("+quoteString(table)+")")
	if err != nil {
		return nil, core.WrapError(core.ErrBackend, err, "reading schema of %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			dbType  string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &dbType, &notNull, &dflt, &pk); err != nil {
			return nil, core.WrapError(core.ErrBackend, err, "reading schema of %s", table)
		}
		schema.Columns = append(schema.Columns, driver.TableColumnInfo{
			Name:         name,
			DbType:       dbType,
			IsNotNull:    notNull != 0,
			IsPrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrBackend, err, "reading schema of %s", table)
	}

	// geometry metadata is only present in GeoPackage files
	hasGeomColumns, err := d.tableExists(dbName, "gpkg_geometry_columns")
	if err != nil {
		return nil, err
	}
	if hasGeomColumns {
		if err := d.readGeometryInfo(dbName, schema); err != nil {
			return nil, err
		}
	}

	for i := range schema.Columns {
		col := &schema.Columns[i]
		if !col.IsGeometry {
			col.BaseType = driver.SqliteColumnBaseType(col.DbType, false)
		}
		// INTEGER PRIMARY KEY is an alias of ROWID and auto-increments
		if col.IsPrimaryKey && strings.EqualFold(col.DbType, "integer") {
			col.IsAutoIncrement = true
		}
	}
	return schema, nil
}

func (d *Driver) readGeometryInfo(dbName string, schema *driver.TableSchema) error {
	row := d.conn.QueryRowContext(d.bg,
		"SELECT column_name, geometry_type_name, srs_id, z, m FROM "+
			quoteIdent(dbName)+".gpkg_geometry_columns WHERE table_name = ?", schema.Name)
	var (
		colName  string
		geomType string
		srsID    int
		z, m     int
	)
	switch err := row.Scan(&colName, &geomType, &srsID, &z, &m); err {
	case nil:
	case sql.ErrNoRows:
		return nil
	default:
		return core.WrapError(core.ErrBackend, err, "reading geometry columns of %s", schema.Name)
	}

	i := schema.ColumnFromName(colName)
	if i < 0 {
		return core.NewError(core.ErrBackend,
			"inconsistent entry in gpkg_geometry_columns - geometry column not found: %s", colName)
	}
	schema.Columns[i].SetGeometry(geomType, srsID, m != 0, z != 0)

	crsRow := d.conn.QueryRowContext(d.bg,
		"SELECT organization, organization_coordsys_id, definition FROM "+
			quoteIdent(dbName)+".gpkg_spatial_ref_sys WHERE srs_id = ?", srsID)
	var (
		authName string
		authCode int
		wkt      string
	)
	switch err := crsRow.Scan(&authName, &authCode, &wkt); err {
	case nil:
	case sql.ErrNoRows:
		return core.NewError(core.ErrBackend,
			"unable to find entry in gpkg_spatial_ref_sys for srs_id = %d", srsID)
	default:
		return core.WrapError(core.ErrBackend, err, "reading spatial reference system %d", srsID)
	}
	schema.CRS = driver.CrsDefinition{SrsID: srsID, AuthName: authName, AuthCode: authCode, Wkt: wkt}
	return nil
}
