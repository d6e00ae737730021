// Package core carries the per-operation state shared by every part
// of the module: a leveled logger, the tables-to-skip list and the
// typed error model. There is no global mutable state; every
// operation receives a *Context.
package core

// Context is passed through every top-level operation. It owns the
// logger and the configuration that applies to the operation.
type Context struct {
	logger       Logger
	tablesToSkip []string
}

// NewContext returns a context with the default stderr logger at the
// warning level.
func NewContext() *Context {
	ctx := &Context{}
	ctx.logger.maxLevel = LevelWarning
	ctx.logger.sink = stderrSink
	return ctx
}

// Logger returns the context's logger.
func (c *Context) Logger() *Logger { return &c.logger }

// SetTablesToSkip replaces the list of table names excluded from
// every operation. The list persists until replaced.
func (c *Context) SetTablesToSkip(tables []string) {
	c.tablesToSkip = append([]string(nil), tables...)
}

// TablesToSkip returns the current exclusion list.
func (c *Context) TablesToSkip() []string { return c.tablesToSkip }

// IsTableSkipped reports whether the named table is excluded.
func (c *Context) IsTableSkipped(name string) bool {
	for _, t := range c.tablesToSkip {
		if t == name {
			return true
		}
	}
	return false
}
