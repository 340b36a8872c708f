// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package errlist implements the per-entity, non-fatal diagnostic
// accumulator used throughout pecore's directory parsers. A parser never
// aborts because one imported function or one relocation entry looks
// malformed; it records an error code against the smallest entity that
// describes the problem and keeps going.
package errlist

import "fmt"

// Category identifies the subsystem an error code belongs to (the export
// loader, the import loader, the relocation loader, a resource reader,
// ...). Categories are compared by identity rather than by name so two
// subsystems can reuse the same numeric codes without colliding.
type Category struct {
	name string
}

// NewCategory creates a new error category with the given diagnostic name.
func NewCategory(name string) *Category { return &Category{name: name} }

// String returns the category's diagnostic name.
func (c *Category) String() string { return c.name }

// Code is a subsystem-scoped numeric error code paired with the category
// it belongs to and a human-readable message.
type Code struct {
	Category *Category
	Value    int
	Message  string
}

// String renders "<category>: <message>", the form used when printing an
// entity's accumulated errors.
func (c Code) String() string {
	return fmt.Sprintf("%s: %s", c.Category, c.Message)
}

// ContextKind distinguishes the three shapes a Context may take.
type ContextKind int

const (
	ContextNone ContextKind = iota
	ContextString
	ContextIndex
)

// Context qualifies an error with where, within an entity, it occurred:
// nothing further (None), a named field or symbol (String), or a
// positional entry (Index).
type Context struct {
	Kind  ContextKind
	Str   string
	Index int
}

// NoContext is the zero Context, used for entity-wide errors.
var NoContext = Context{}

// StringContext builds a Context that names a field or symbol.
func StringContext(s string) Context { return Context{Kind: ContextString, Str: s} }

// IndexContext builds a Context that names a positional entry.
func IndexContext(i int) Context { return Context{Kind: ContextIndex, Index: i} }

// entry is a deduplicated (code, context) pair, the unit errlist stores.
type entry struct {
	Code    Code
	Context Context
}

// List is the error-list mixin every decoded entity embeds: a
// deduplicated set of (code, context) pairs. No underlying cause is
// stored alongside a code; only the code and its context are kept.
type List struct {
	entries []entry
	seen    map[entry]struct{}
}

// AddError records code against the entity with no further context. Adding
// the same (code, context) pair twice is a no-op.
func (l *List) AddError(code Code) {
	l.add(entry{Code: code, Context: NoContext})
}

// AddErrorContext records code qualified by a string context.
func (l *List) AddErrorContext(code Code, ctx string) {
	l.add(entry{Code: code, Context: StringContext(ctx)})
}

// AddErrorIndex records code qualified by a positional index.
func (l *List) AddErrorIndex(code Code, index int) {
	l.add(entry{Code: code, Context: IndexContext(index)})
}

func (l *List) add(e entry) {
	if l.seen == nil {
		l.seen = make(map[entry]struct{})
	}
	if _, ok := l.seen[e]; ok {
		return
	}
	l.seen[e] = struct{}{}
	l.entries = append(l.entries, e)
}

// HasError reports whether code was recorded with no context.
func (l *List) HasError(code Code) bool {
	return l.HasErrorContext(code, NoContext)
}

// HasErrorContext reports whether the exact (code, context) pair was
// recorded.
func (l *List) HasErrorContext(code Code, ctx Context) bool {
	if l.seen == nil {
		return false
	}
	_, ok := l.seen[entry{Code: code, Context: ctx}]
	return ok
}

// HasAnyError reports whether code was recorded under any context.
func (l *List) HasAnyError(code Code) bool {
	for _, e := range l.entries {
		if e.Code == code {
			return true
		}
	}
	return false
}

// HasErrors reports whether any error has been recorded.
func (l *List) HasErrors() bool { return len(l.entries) > 0 }

// Error is one reported (code, context) pair, returned by GetErrors.
type Error struct {
	Code    Code
	Context Context
}

// GetErrors returns every recorded (code, context) pair in insertion order.
func (l *List) GetErrors() []Error {
	out := make([]Error, len(l.entries))
	for i, e := range l.entries {
		out[i] = Error{Code: e.Code, Context: e.Context}
	}
	return out
}

// ClearErrors discards every recorded error.
func (l *List) ClearErrors() {
	l.entries = nil
	l.seen = nil
}
