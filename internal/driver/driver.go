// Package driver defines the abstraction over a relational backend
// and the registry through which backends are discovered by name.
// The core algorithms reason about any backend through the Driver
// interface.
package driver

import (
	"sort"
	"sync"

	"github.com/crittermap/geodelta/internal/changeset"
	"github.com/crittermap/geodelta/internal/core"
)

// Parameters is the key/value configuration a driver is opened with.
// Recognized keys: "base" (filesystem path or schema name),
// "modified" (optional peer) and "conninfo" (optional backend
// specific connection string).
type Parameters map[string]string

// Driver abstracts all backend-specific work. A driver is normally
// opened with a base and a modified source so that CreateChangeset
// can compare the two; applying a changeset needs the base only.
// A driver instance supports one operation at a time.
type Driver interface {
	// Open starts a session from connection parameters.
	Open(params Parameters) error
	// Create makes a new empty data source (a database file, a
	// schema) named by the "base" parameter.
	Create(params Parameters, overwrite bool) error
	// Close releases the session and every cached resource.
	Close() error

	// ListTables returns the user table names of the base source, or
	// of the modified source when useModified is set.
	ListTables(useModified bool) ([]string, error)
	// TableSchema describes a single table.
	TableSchema(table string, useModified bool) (*TableSchema, error)

	// CreateChangeset writes the differences between base and
	// modified to the writer. Requires both sources.
	CreateChangeset(w *changeset.Writer) error
	// ApplyChangeset replays a changeset against the base source.
	ApplyChangeset(r *changeset.Reader) error
	// CreateTables creates empty tables in the base source.
	CreateTables(tables []*TableSchema) error
	// DumpData writes every row of every table as an insert record.
	DumpData(w *changeset.Writer, useModified bool) error
	// CheckCompatibleForRebase fails with an unsupported error when
	// the source uses features the rebase algorithm cannot reason
	// about (user-defined triggers, foreign keys).
	CheckCompatibleForRebase(useModified bool) error
}

// Factory builds a fresh driver instance bound to the given context.
type Factory func(ctx *core.Context) Driver

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a driver available under the given name. It is
// called from driver package init functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New returns a fresh, unopened driver instance by name.
func New(ctx *core.Context, name string) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, core.NewError(core.ErrUnsupported, "unknown driver: %s", name)
	}
	return factory(ctx), nil
}

// Names returns the registered driver names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
