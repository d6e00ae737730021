package sqlitedriver

import (
	"fmt"
	"strings"
	"time"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
)

// quoteIdent quotes an identifier for embedding in SQL text.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteString quotes a string literal for embedding in SQL text.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// qualified renders "db"."table"."column".
func qualified(db, table, column string) string {
	return quoteIdent(db) + "." + quoteIdent(table) + "." + quoteIdent(column)
}

// sqlFindInserted builds the query for rows whose primary key exists
// on one side only. With reverse false it finds rows present only in
// the modified database (inserts); with reverse true rows present
// only in the base (deletes).
func sqlFindInserted(table string, schema *driver.TableSchema, reverse bool) string {
	var exprPk strings.Builder
	for i := range schema.Columns {
		c := &schema.Columns[i]
		if !c.IsPrimaryKey {
			continue
		}
		if exprPk.Len() > 0 {
			exprPk.WriteString(" AND ")
		}
		exprPk.WriteString(qualified("main", table, c.Name))
		exprPk.WriteString("=")
		exprPk.WriteString(qualified("aux", table, c.Name))
	}
	outer, inner := "main", "aux"
	if reverse {
		outer, inner = "aux", "main"
	}
	return fmt.Sprintf("SELECT * FROM %s.%s WHERE NOT EXISTS ( SELECT 1 FROM %s.%s WHERE %s)",
		quoteIdent(outer), quoteIdent(table), quoteIdent(inner), quoteIdent(table), exprPk.String())
}

// sqlFindModified builds the query joining base and modified on the
// primary key, filtered to rows where any non-key column differs.
func sqlFindModified(table string, schema *driver.TableSchema) string {
	var exprPk, exprOther strings.Builder
	for i := range schema.Columns {
		c := &schema.Columns[i]
		if c.IsPrimaryKey {
			if exprPk.Len() > 0 {
				exprPk.WriteString(" AND ")
			}
			exprPk.WriteString(qualified("main", table, c.Name))
			exprPk.WriteString("=")
			exprPk.WriteString(qualified("aux", table, c.Name))
		} else {
			if exprOther.Len() > 0 {
				exprOther.WriteString(" OR ")
			}
			exprOther.WriteString(qualified("main", table, c.Name))
			exprOther.WriteString(" IS NOT ")
			exprOther.WriteString(qualified("aux", table, c.Name))
		}
	}
	if exprOther.Len() == 0 {
		return fmt.Sprintf("SELECT * FROM %s.%s, %s.%s WHERE %s",
			quoteIdent("main"), quoteIdent(table), quoteIdent("aux"), quoteIdent(table), exprPk.String())
	}
	return fmt.Sprintf("SELECT * FROM %s.%s, %s.%s WHERE %s AND (%s)",
		quoteIdent("main"), quoteIdent(table), quoteIdent("aux"), quoteIdent(table),
		exprPk.String(), exprOther.String())
}

// sqlForInsert builds INSERT INTO t(c1,...,cn) VALUES (?,...,?).
func sqlForInsert(table string, schema *driver.TableSchema) string {
	var cols, marks strings.Builder
	for i := range schema.Columns {
		if i > 0 {
			cols.WriteString(", ")
			marks.WriteString(", ")
		}
		cols.WriteString(quoteIdent(schema.Columns[i].Name))
		marks.WriteString("?")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), cols.String(), marks.String())
}

// sqlForUpdate builds the self-guarding update statement. For column
// i (0-based) three parameters are bound: ?(3i+1) the old value,
// ?(3i+2) a flag set when the column is modified, ?(3i+3) the new
// value. The final parameter ?(3n+1) overrides the unchanged-value
// predicate when set.
//
//	UPDATE t SET
//	  c = CASE WHEN ?2 THEN ?3 ELSE c END, ...
//	  WHERE pk = ?1 AND (?(3n+1) OR (?5 = 0 OR c2 IS ?4) AND ...)
func sqlForUpdate(table string, schema *driver.TableSchema) string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(quoteIdent(table))
	sb.WriteString(" SET ")
	for i := range schema.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		name := quoteIdent(schema.Columns[i].Name)
		fmt.Fprintf(&sb, "%s = CASE WHEN ?%d THEN ?%d ELSE %s END", name, i*3+2, i*3+3, name)
	}
	var pkExpr, guard strings.Builder
	for i := range schema.Columns {
		c := &schema.Columns[i]
		name := quoteIdent(c.Name)
		if c.IsPrimaryKey {
			if pkExpr.Len() > 0 {
				pkExpr.WriteString(" AND ")
			}
			fmt.Fprintf(&pkExpr, "%s = ?%d", name, i*3+1)
			continue
		}
		if guard.Len() > 0 {
			guard.WriteString(" AND ")
		}
		if c.BaseType == driver.BaseTypeDatetime {
			// datetime text has several equivalent spellings
			fmt.Fprintf(&guard, "(?%d = 0 OR datetime(%s) IS datetime(?%d))", i*3+2, name, i*3+1)
		} else {
			fmt.Fprintf(&guard, "(?%d = 0 OR %s IS ?%d)", i*3+2, name, i*3+1)
		}
	}
	if pkExpr.Len() == 0 {
		pkExpr.WriteString("1")
	}
	if guard.Len() == 0 {
		guard.WriteString("1")
	}
	override := len(schema.Columns)*3 + 1
	fmt.Fprintf(&sb, " WHERE %s AND (?%d OR %s)", pkExpr.String(), override, guard.String())
	return sb.String()
}

// sqlForDelete builds DELETE FROM t WHERE c1 IS ? AND ... (primary
// key columns use plain equality).
func sqlForDelete(table string, schema *driver.TableSchema) string {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(quoteIdent(table))
	sb.WriteString(" WHERE ")
	for i := range schema.Columns {
		c := &schema.Columns[i]
		if i > 0 {
			sb.WriteString(" AND ")
		}
		name := quoteIdent(c.Name)
		switch {
		case c.IsPrimaryKey:
			sb.WriteString(name + " = ?")
		case c.BaseType == driver.BaseTypeDatetime:
			sb.WriteString("datetime(" + name + ") IS datetime(?)")
		default:
			sb.WriteString(name + " IS ?")
		}
	}
	return sb.String()
}

// valueFromScan converts a scanned database value to a changeset
// value, preserving the storage type.
func valueFromScan(v any) (changeset.Value, error) {
	switch x := v.(type) {
	case nil:
		return changeset.Null(), nil
	case int64:
		return changeset.NewInt(x), nil
	case float64:
		return changeset.NewDouble(x), nil
	case string:
		return changeset.NewText(x), nil
	case []byte:
		return changeset.NewBlob(x), nil
	case bool:
		if x {
			return changeset.NewInt(1), nil
		}
		return changeset.NewInt(0), nil
	case time.Time:
		return changeset.NewText(x.Format("2006-01-02 15:04:05")), nil
	}
	return changeset.Value{}, core.NewError(core.ErrBackend, "unexpected value type %T", v)
}

// valueToArg converts a changeset value to a bind argument. Undefined
// binds as NULL; callers arrange flags so that undefined values are
// never read.
func valueToArg(v changeset.Value) any {
	switch v.Type() {
	case changeset.TypeInt:
		return v.Int()
	case changeset.TypeDouble:
		return v.Double()
	case changeset.TypeText:
		return v.Text()
	case changeset.TypeBlob:
		return v.Bytes()
	}
	return nil
}
