package changeset

// Table is the table metadata stored in a changeset stream: the table
// name and one primary-key flag per column. The column count is the
// length of the flag vector.
type Table struct {
	Name        string
	PrimaryKeys []bool
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int { return len(t.PrimaryKeys) }

// HasPrimaryKey reports whether at least one column is flagged as
// part of the primary key.
func (t *Table) HasPrimaryKey() bool {
	for _, pk := range t.PrimaryKeys {
		if pk {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the descriptor.
func (t *Table) Clone() *Table {
	return &Table{
		Name:        t.Name,
		PrimaryKeys: append([]bool(nil), t.PrimaryKeys...),
	}
}
