package sqlitedriver

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
	"github.com/crittermap/geodelta/internal/driver"
)

// makeDB creates a database file and runs the given statements.
func makeDB(t *testing.T, name string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
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

func execDB(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

// queryStrings returns the first column of every result row as text.
func queryStrings(t *testing.T, path, query string) []string {
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

func openTestDriver(t *testing.T, base, modified string) *Driver {
	t.Helper()
	d := &Driver{ctx: core.NewContext(), bg: context.Background()}
	params := driver.Parameters{"base": base}
	if modified != "" {
		params["modified"] = modified
	}
	require.NoError(t, d.Open(params))
	t.Cleanup(func() { d.Close() })
	return d
}

// diffToEntries runs CreateChangeset and parses the produced stream.
func diffToEntries(t *testing.T, base, modified string) []*changeset.Entry {
	t.Helper()
	d := openTestDriver(t, base, modified)
	var buf bytes.Buffer
	require.NoError(t, d.CreateChangeset(changeset.NewWriter(&buf)))
	return parseEntries(t, buf.Bytes())
}

func parseEntries(t *testing.T, data []byte) []*changeset.Entry {
	t.Helper()
	r := changeset.NewReader(data)
	var out []*changeset.Entry
	for {
		e, err := r.NextEntry()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

const simpleDDL = "CREATE TABLE simple (fid INTEGER PRIMARY KEY, name TEXT, rating INTEGER)"
