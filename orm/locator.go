package orm

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Locator resolves tables by alias. Tables created with WithLocator register
// themselves, and associations look their targets up in the locator of their
// source table. Aliases are case-insensitive.
type Locator struct {
	mu       sync.RWMutex
	tables   map[string]*Table
	defaults []Option
}

// NewLocator returns an empty locator. The given options are applied to
// every table built by Load.
func NewLocator(defaults ...Option) *Locator {
	return &Locator{tables: make(map[string]*Table), defaults: defaults}
}

// Get returns the table registered under alias.
func (l *Locator) Get(alias string) (*Table, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tables[strings.ToLower(alias)]
	return t, ok
}

// Set registers t under alias, replacing a previous registration.
func (l *Locator) Set(alias string, t *Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tables == nil {
		l.tables = make(map[string]*Table)
	}
	l.tables[strings.ToLower(alias)] = t
}

// Has reports if a table is registered under alias.
func (l *Locator) Has(alias string) bool {
	_, ok := l.Get(alias)
	return ok
}

// Remove drops the registration of alias.
func (l *Locator) Remove(alias string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tables, strings.ToLower(alias))
}

// Clear drops every registration.
func (l *Locator) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.tables)
}

// Aliases returns the registered aliases, sorted.
func (l *Locator) Aliases() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	aliases := make([]string, 0, len(l.tables))
	for _, t := range l.tables {
		aliases = append(aliases, t.Alias())
	}
	slices.Sort(aliases)
	return aliases
}

// Load builds and registers a table for each configuration. Associations
// are declared once every table exists, so configurations may refer to each
// other in any order.
//
//	cfgs, err := orm.LoadConfig(data)
//	if err != nil {
//		return err
//	}
//	l := orm.NewLocator(orm.WithDriver(drv))
//	if err := l.Load(ctx, cfgs...); err != nil {
//		return err
//	}
//	articles, _ := l.Get("Articles")
func (l *Locator) Load(ctx context.Context, cfgs ...*Config) error {
	tables := make([]*Table, len(cfgs))
	for i, c := range cfgs {
		opts := append(slices.Clone(l.defaults), c.options()...)
		t, err := New(append(opts, WithLocator(l))...)
		if err != nil {
			return err
		}
		tables[i] = t
	}
	for i, c := range cfgs {
		for _, ac := range c.Associations {
			if err := tables[i].declare(ac); err != nil {
				return fmt.Errorf("tabula/orm: table %s: %w", tables[i].Alias(), err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
