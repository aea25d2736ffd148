// Package backend defines the storage abstraction shared by the PostgreSQL
// and MongoDB implementations, and the configuration-driven selector that
// decides which one backs a deployment.
//
// # Overview
//
// A Store is bound to one resource (one table or collection). All reads and
// writes go through a structured Filter; the backends translate the filter
// into their native query form after the field names have passed the safety
// layer. Stores never own the underlying connection: they borrow a handle
// created and closed elsewhere.
//
// # Error Handling
//
// Absent records are reported as (nil, nil) from FindOne and UpdateOne, and
// as false from DeleteOne, never as errors. Backend-native failures are
// wrapped with context via fmt.Errorf and %w and otherwise passed through
// unchanged so callers can inspect driver diagnostics.
package backend

import (
	"context"

	"github.com/ownkit/docstore/internal/domain"
)

// CompareOp selects how a condition matches its value.
type CompareOp int

// Condition comparison operators.
const (
	// OpEq matches the field exactly.
	OpEq CompareOp = iota
	// OpEqFold matches the field case-insensitively.
	OpEqFold
	// OpIn matches any of the condition values exactly.
	OpIn
	// OpInFold matches any of the condition values case-insensitively.
	OpInFold
)

// Condition constrains one document field.
type Condition struct {
	Field  string
	Op     CompareOp
	Value  interface{}
	Values []interface{}
}

// Filter describes which records an operation applies to. ID, ExcludeID, and
// Owner address the reserved identity fields; Conds address document fields.
// A zero Filter matches everything in the store's resource.
type Filter struct {
	ID        string
	ExcludeID string
	Owner     string
	Conds     []Condition
}

// Eq appends an exact-match condition and returns the filter for chaining.
func (f Filter) Eq(field string, value interface{}) Filter {
	f.Conds = append(f.Conds, Condition{Field: field, Op: OpEq, Value: value})
	return f
}

// EqFold appends a case-insensitive match condition.
func (f Filter) EqFold(field string, value interface{}) Filter {
	f.Conds = append(f.Conds, Condition{Field: field, Op: OpEqFold, Value: value})
	return f
}

// In appends a membership condition.
func (f Filter) In(field string, values []interface{}) Filter {
	f.Conds = append(f.Conds, Condition{Field: field, Op: OpIn, Values: values})
	return f
}

// InFold appends a case-insensitive membership condition.
func (f Filter) InFold(field string, values []interface{}) Filter {
	f.Conds = append(f.Conds, Condition{Field: field, Op: OpInFold, Values: values})
	return f
}

// Sort orders results by one field.
type Sort struct {
	Field string
	Desc  bool
}

// Page bounds a result set.
type Page struct {
	Limit  int
	Offset int
}

// FindOptions carries ordering and pagination for FindMany.
type FindOptions struct {
	Sort []Sort
	Page *Page
}

// Store is the narrow interface both backends implement for one resource.
// Implementations are safe for concurrent use; the underlying pool or client
// handles synchronization.
type Store interface {
	// Resource returns the table or collection name the store is bound to.
	Resource() string

	// FindOne returns at most one matching record, or (nil, nil) when none
	// matches.
	FindOne(ctx context.Context, f Filter) (domain.Record, error)

	// FindMany returns all matching records ordered and paged per opts.
	FindMany(ctx context.Context, f Filter, opts FindOptions) ([]domain.Record, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, f Filter) (int64, error)

	// Exists reports whether any record matches, without fetching it.
	Exists(ctx context.Context, f Filter) (bool, error)

	// InsertOne persists a new record, assigning id and timestamps when
	// absent, and returns the stored form.
	InsertOne(ctx context.Context, rec domain.Record) (domain.Record, error)

	// InsertMany persists a batch of records in one round-trip.
	InsertMany(ctx context.Context, recs []domain.Record) ([]domain.Record, error)

	// UpdateOne merges patch into the first matching record and returns the
	// updated form, or (nil, nil) when none matches. Reserved system fields
	// in the patch are ignored.
	UpdateOne(ctx context.Context, f Filter, patch domain.Record) (domain.Record, error)

	// DeleteOne removes the first matching record, reporting whether one was
	// removed.
	DeleteOne(ctx context.Context, f Filter) (bool, error)
}
