// Package export renders changesets and conflict reports for human
// inspection: a full JSON listing, a per-table summary, and the
// structured conflict file written by rebase.
package export

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/rebase"
)

// valueJSON converts a changeset value for JSON output. Undefined
// values are represented as absent fields by the callers; blobs are
// base64 encoded.
func valueJSON(v changeset.Value) any {
	switch v.Type() {
	case changeset.TypeNull:
		return nil
	case changeset.TypeInt:
		return v.Int()
	case changeset.TypeDouble:
		return v.Double()
	case changeset.TypeText:
		return v.Text()
	case changeset.TypeBlob:
		return base64.StdEncoding.EncodeToString(v.Bytes())
	}
	return nil
}

// columnChange uses pointer fields so that a defined NULL value
// renders as JSON null while an undefined column is absent.
type columnChange struct {
	Column int  `json:"column"`
	Old    *any `json:"old,omitempty"`
	New    *any `json:"new,omitempty"`
}

type entryJSON struct {
	Table   string         `json:"table"`
	Type    string         `json:"type"`
	Changes []columnChange `json:"changes"`
}

func entryToJSON(e *changeset.Entry) entryJSON {
	out := entryJSON{Table: e.Table.Name, Type: e.Op.String()}
	n := e.Table.ColumnCount()
	for i := 0; i < n; i++ {
		c := columnChange{Column: i}
		if e.Op != changeset.OpInsert && e.OldValues[i].IsDefined() {
			v := valueJSON(e.OldValues[i])
			c.Old = &v
		}
		if e.Op != changeset.OpDelete && e.NewValues[i].IsDefined() {
			v := valueJSON(e.NewValues[i])
			c.New = &v
		}
		if c.Old != nil || c.New != nil {
			out.Changes = append(out.Changes, c)
		}
	}
	return out
}

// EntryString renders a single entry as compact JSON, used by apply
// conflict logging.
func EntryString(e *changeset.Entry) string {
	data, err := json.Marshal(entryToJSON(e))
	if err != nil {
		return e.Op.String() + " " + e.Table.Name
	}
	return string(data)
}

// ChangesToJSON renders the whole changeset as indented JSON.
func ChangesToJSON(r *changeset.Reader) ([]byte, error) {
	entries := []entryJSON{}
	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entryToJSON(e))
	}
	return json.MarshalIndent(map[string]any{"geodelta": entries}, "", "  ")
}

type tableSummary struct {
	Table  string `json:"table"`
	Insert int    `json:"insert"`
	Update int    `json:"update"`
	Delete int    `json:"delete"`
}

// SummaryToJSON renders per-table operation counts as indented JSON.
// Tables are listed alphabetically.
func SummaryToJSON(r *changeset.Reader) ([]byte, error) {
	byTable := make(map[string]*tableSummary)
	for {
		e, err := r.NextEntry()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s := byTable[e.Table.Name]
		if s == nil {
			s = &tableSummary{Table: e.Table.Name}
			byTable[e.Table.Name] = s
		}
		switch e.Op {
		case changeset.OpInsert:
			s.Insert++
		case changeset.OpUpdate:
			s.Update++
		case changeset.OpDelete:
			s.Delete++
		}
	}
	names := make([]string, 0, len(byTable))
	for name := range byTable {
		names = append(names, name)
	}
	sort.Strings(names)
	summaries := make([]tableSummary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, *byTable[name])
	}
	return json.MarshalIndent(map[string]any{"geodelta_summary": summaries}, "", "  ")
}

type conflictItemJSON struct {
	Column int `json:"column"`
	Base   any `json:"base"`
	Theirs any `json:"theirs"`
	Ours   any `json:"ours"`
}

type conflictFeatureJSON struct {
	Table   string             `json:"table"`
	Pkey    any                `json:"pkey"`
	Changes []conflictItemJSON `json:"changes"`
}

// ConflictsToJSON renders the rebase conflict report as indented
// JSON.
func ConflictsToJSON(conflicts []rebase.ConflictFeature) ([]byte, error) {
	features := make([]conflictFeatureJSON, 0, len(conflicts))
	for _, c := range conflicts {
		f := conflictFeatureJSON{Table: c.Table, Pkey: valueJSON(c.Pkey)}
		for _, item := range c.Items {
			f.Changes = append(f.Changes, conflictItemJSON{
				Column: item.Column,
				Base:   valueJSON(item.Base),
				Theirs: valueJSON(item.Theirs),
				Ours:   valueJSON(item.Ours),
			})
		}
		features = append(features, f)
	}
	return json.MarshalIndent(map[string]any{"geodelta": features}, "", "  ")
}
