package driver

import (
	"strings"

	"github.com/crittermap/geodelta/internal/changeset"
)

// ColumnBaseType is the backend-independent type of a column. Each
// backend maps its native type names onto these.
type ColumnBaseType int

const (
	BaseTypeText ColumnBaseType = iota
	BaseTypeInteger
	BaseTypeDouble
	BaseTypeBoolean
	BaseTypeBlob
	BaseTypeGeometry
	BaseTypeDate
	BaseTypeDatetime
)

func (t ColumnBaseType) String() string {
	switch t {
	case BaseTypeText:
		return "text"
	case BaseTypeInteger:
		return "integer"
	case BaseTypeDouble:
		return "double"
	case BaseTypeBoolean:
		return "boolean"
	case BaseTypeBlob:
		return "blob"
	case BaseTypeGeometry:
		return "geometry"
	case BaseTypeDate:
		return "date"
	case BaseTypeDatetime:
		return "datetime"
	}
	return "text"
}

// TableColumnInfo describes a single column of a table.
type TableColumnInfo struct {
	Name string `json:"name"`
	// BaseType is the backend-independent type; DbType keeps the
	// original type name as reported by the backend.
	BaseType ColumnBaseType `json:"base_type"`
	DbType   string         `json:"db_type"`

	IsPrimaryKey    bool `json:"primary_key,omitempty"`
	IsNotNull       bool `json:"not_null,omitempty"`
	IsAutoIncrement bool `json:"auto_increment,omitempty"`

	IsGeometry bool   `json:"geometry,omitempty"`
	GeomType   string `json:"geom_type,omitempty"`
	GeomSrsID  int    `json:"srs_id,omitempty"`
	GeomHasZ   bool   `json:"has_z,omitempty"`
	GeomHasM   bool   `json:"has_m,omitempty"`
}

// EqualsBaseType compares two columns on structure, tolerating native
// type names that map to the same base type.
func (c *TableColumnInfo) EqualsBaseType(other *TableColumnInfo) bool {
	return c.Name == other.Name && c.BaseType == other.BaseType &&
		c.IsPrimaryKey == other.IsPrimaryKey && c.IsNotNull == other.IsNotNull &&
		c.IsAutoIncrement == other.IsAutoIncrement &&
		c.IsGeometry == other.IsGeometry && c.GeomType == other.GeomType &&
		c.GeomSrsID == other.GeomSrsID && c.GeomHasZ == other.GeomHasZ && c.GeomHasM == other.GeomHasM
}

// Equals compares two columns exactly, including the native type
// name.
func (c *TableColumnInfo) Equals(other *TableColumnInfo) bool {
	return c.DbType == other.DbType && c.EqualsBaseType(other)
}

// SetGeometry marks the column as geometric.
func (c *TableColumnInfo) SetGeometry(geomType string, srsID int, hasM, hasZ bool) {
	c.BaseType = BaseTypeGeometry
	c.IsGeometry = true
	c.GeomType = geomType
	c.GeomSrsID = srsID
	c.GeomHasM = hasM
	c.GeomHasZ = hasZ
}

// CrsDefinition identifies a coordinate reference system.
type CrsDefinition struct {
	SrsID    int    `json:"srs_id"`
	AuthName string `json:"auth_name"`
	AuthCode int    `json:"auth_code"`
	Wkt      string `json:"wkt,omitempty"`
}

// Equals ignores the WKT text: the same system may be spelled in many
// equivalent ways.
func (c CrsDefinition) Equals(other CrsDefinition) bool {
	return c.SrsID == other.SrsID && c.AuthName == other.AuthName && c.AuthCode == other.AuthCode
}

// TableSchema is the per-table view used by drivers: richer than the
// changeset table descriptor, read from the backend on demand and
// never carried inside a changeset.
type TableSchema struct {
	Name    string            `json:"table"`
	Columns []TableColumnInfo `json:"columns"`
	CRS     CrsDefinition     `json:"crs,omitempty"`
}

// HasPrimaryKey reports whether any column is part of the primary
// key.
func (s *TableSchema) HasPrimaryKey() bool {
	for i := range s.Columns {
		if s.Columns[i].IsPrimaryKey {
			return true
		}
	}
	return false
}

// ColumnFromName returns the index of the named column, or -1.
func (s *TableSchema) ColumnFromName(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// GeometryColumn returns the index of the first geometry column, or
// -1.
func (s *TableSchema) GeometryColumn() int {
	for i := range s.Columns {
		if s.Columns[i].IsGeometry {
			return i
		}
	}
	return -1
}

// EqualsBaseTypes compares two schemas tolerating native type
// differences that map to the same base type.
func (s *TableSchema) EqualsBaseTypes(other *TableSchema) bool {
	if s.Name != other.Name || !s.CRS.Equals(other.CRS) || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if !s.Columns[i].EqualsBaseType(&other.Columns[i]) {
			return false
		}
	}
	return true
}

// Equals compares two schemas exactly.
func (s *TableSchema) Equals(other *TableSchema) bool {
	if s.Name != other.Name || !s.CRS.Equals(other.CRS) || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if !s.Columns[i].Equals(&other.Columns[i]) {
			return false
		}
	}
	return true
}

// ChangesetTable reduces the schema to the descriptor stored in
// changeset streams.
func (s *TableSchema) ChangesetTable() *changeset.Table {
	t := &changeset.Table{Name: s.Name, PrimaryKeys: make([]bool, len(s.Columns))}
	for i := range s.Columns {
		t.PrimaryKeys[i] = s.Columns[i].IsPrimaryKey
	}
	return t
}

// SqliteColumnBaseType maps a SQLite declared type to its base type.
// Unknown types fall back to text, mirroring SQLite's own easy-going
// typing.
func SqliteColumnBaseType(dbType string, isGeometry bool) ColumnBaseType {
	t := strings.ToLower(dbType)
	switch {
	case t == "int" || t == "integer" || t == "smallint" ||
		t == "mediumint" || t == "bigint" || t == "tinyint":
		return BaseTypeInteger
	case t == "double" || t == "real" || t == "double precision" || t == "float":
		return BaseTypeDouble
	case t == "bool" || t == "boolean":
		return BaseTypeBoolean
	case t == "text" || strings.HasPrefix(t, "text(") || strings.HasPrefix(t, "varchar("):
		return BaseTypeText
	case t == "blob":
		return BaseTypeBlob
	case t == "datetime":
		return BaseTypeDatetime
	case t == "date":
		return BaseTypeDate
	case isGeometry:
		return BaseTypeGeometry
	}
	return BaseTypeText
}
