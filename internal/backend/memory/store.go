// Package memory implements backend.Store over an in-process map. It exists
// for tests: the docops and crud packages exercise their semantics against
// it without a database, and consumers can do the same.
//
// The store can simulate backend-native unique indexes so the storage-layer
// duplicate-key path is testable, including the check-then-act race net.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/domain"
	"github.com/ownkit/docstore/internal/safety"
)

// Compile-time interface verification.
var _ backend.Store = (*Store)(nil)

// DuplicateKeyError simulates a backend-native unique-constraint violation.
type DuplicateKeyError struct {
	Field string
}

// Error implements the error interface.
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("unique index violation on %q", e.Field)
}

// IsDuplicateKey marks the error as a native duplicate-key violation for
// the normalization layer.
func (e *DuplicateKeyError) IsDuplicateKey() bool {
	return true
}

type uniqueIndex struct {
	field    string
	perOwner bool
}

// Option configures a Store.
type Option func(*Store)

// WithUniqueIndex enforces case-insensitive uniqueness on field, scoped per
// owner when perOwner is true. Violations surface as *DuplicateKeyError
// from the insert and update paths.
func WithUniqueIndex(field string, perOwner bool) Option {
	return func(s *Store) {
		s.indexes = append(s.indexes, uniqueIndex{field: field, perOwner: perOwner})
	}
}

// Store is an in-memory implementation of backend.Store.
type Store struct {
	resource string
	indexes  []uniqueIndex

	mu      sync.RWMutex
	records map[string]domain.Record
	order   []string
}

// NewStore creates an empty in-memory store for the named resource.
func NewStore(resource string, opts ...Option) *Store {
	s := &Store{
		resource: resource,
		records:  make(map[string]domain.Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resource returns the resource name the store is bound to.
func (s *Store) Resource() string {
	return s.resource
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matchesCond(rec domain.Record, c backend.Condition) (bool, error) {
	if _, err := safety.AssertSafeIdentifier(c.Field); err != nil {
		return false, err
	}
	have := fmt.Sprint(rec[c.Field])
	if rec[c.Field] == nil {
		have = ""
	}

	switch c.Op {
	case backend.OpEq:
		return have == fmt.Sprint(c.Value), nil
	case backend.OpEqFold:
		return safety.EqualFold(have, fmt.Sprint(c.Value)), nil
	case backend.OpIn:
		for _, v := range c.Values {
			if have == fmt.Sprint(v) {
				return true, nil
			}
		}
		return false, nil
	case backend.OpInFold:
		for _, v := range c.Values {
			if safety.EqualFold(have, fmt.Sprint(v)) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported compare op %d on field %q", c.Op, c.Field)
	}
}

func matches(rec domain.Record, f backend.Filter) (bool, error) {
	if f.ID != "" && rec.ID() != f.ID {
		return false, nil
	}
	if f.ExcludeID != "" && rec.ID() == f.ExcludeID {
		return false, nil
	}
	if f.Owner != "" && rec.Owner() != f.Owner {
		return false, nil
	}
	for _, c := range f.Conds {
		ok, err := matchesCond(rec, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// collect returns matching records in insertion order. Callers hold the
// read lock.
func (s *Store) collect(f backend.Filter) ([]domain.Record, error) {
	var out []domain.Record
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		match, err := matches(rec, f)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// checkIndexes enforces the simulated unique indexes. Callers hold the
// write lock. excludeID skips the record being updated.
func (s *Store) checkIndexes(rec domain.Record, excludeID string) error {
	for _, idx := range s.indexes {
		value, ok := rec[idx.field].(string)
		if !ok || value == "" {
			continue
		}
		for _, other := range s.records {
			if other.ID() == excludeID {
				continue
			}
			if idx.perOwner && other.Owner() != rec.Owner() {
				continue
			}
			if safety.EqualFold(other.String(idx.field), value) {
				return &DuplicateKeyError{Field: idx.field}
			}
		}
	}
	return nil
}

func applySort(records []domain.Record, sorts []backend.Sort) {
	if len(sorts) == 0 {
		sorts = []backend.Sort{{Field: domain.FieldCreatedAt, Desc: true}}
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, sr := range sorts {
			a, b := records[i][sr.Field], records[j][sr.Field]
			at, aok := a.(time.Time)
			bt, bok := b.(time.Time)
			var less, equal bool
			if aok && bok {
				less, equal = at.Before(bt), at.Equal(bt)
			} else {
				as, bs := fmt.Sprint(a), fmt.Sprint(b)
				less, equal = as < bs, as == bs
			}
			if equal {
				continue
			}
			if sr.Desc {
				return !less
			}
			return less
		}
		return false
	})
}

// FindOne returns at most one matching record, or (nil, nil) when none
// matches.
func (s *Store) FindOne(_ context.Context, f backend.Filter) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.collect(f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// FindMany returns all matching records ordered and paged per opts.
func (s *Store) FindMany(_ context.Context, f backend.Filter, opts backend.FindOptions) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.collect(f)
	if err != nil {
		return nil, err
	}
	applySort(recs, opts.Sort)

	if opts.Page != nil {
		start := opts.Page.Offset
		if start > len(recs) {
			start = len(recs)
		}
		end := start + opts.Page.Limit
		if end > len(recs) {
			end = len(recs)
		}
		recs = recs[start:end]
	}
	return recs, nil
}

// Count returns the number of matching records.
func (s *Store) Count(_ context.Context, f backend.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.collect(f)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// Exists reports whether any record matches.
func (s *Store) Exists(_ context.Context, f backend.Filter) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.collect(f)
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// InsertOne persists a new record, assigning id and timestamps when absent.
func (s *Store) InsertOne(_ context.Context, rec domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	if stored.ID() == "" {
		stored[domain.FieldID] = uuid.NewString()
	}
	now := time.Now().UTC()
	stored[domain.FieldCreatedAt] = now
	stored[domain.FieldUpdatedAt] = now

	if _, exists := s.records[stored.ID()]; exists {
		return nil, &DuplicateKeyError{Field: domain.FieldID}
	}
	if err := s.checkIndexes(stored, ""); err != nil {
		return nil, err
	}

	s.records[stored.ID()] = stored
	s.order = append(s.order, stored.ID())
	return stored.Clone(), nil
}

// InsertMany persists a batch of records.
func (s *Store) InsertMany(ctx context.Context, recs []domain.Record) ([]domain.Record, error) {
	stored := make([]domain.Record, 0, len(recs))
	for i, rec := range recs {
		if rec == nil {
			return nil, domain.NewValidationError("payload", fmt.Sprintf("record at index %d is nil", i))
		}
		cp, err := s.InsertOne(ctx, rec)
		if err != nil {
			return nil, err
		}
		stored = append(stored, cp)
	}
	return stored, nil
}

// UpdateOne merges patch into the first matching record and returns the
// updated form, or (nil, nil) when none matches.
func (s *Store) UpdateOne(_ context.Context, f backend.Filter, patch domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		match, err := matches(rec, f)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}

		updated := rec.Merge(patch)
		updated[domain.FieldUpdatedAt] = time.Now().UTC()
		if err := s.checkIndexes(updated, rec.ID()); err != nil {
			return nil, err
		}
		s.records[id] = updated
		return updated.Clone(), nil
	}
	return nil, nil
}

// DeleteOne removes the first matching record, reporting whether one was
// removed.
func (s *Store) DeleteOne(_ context.Context, f backend.Filter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		match, err := matches(rec, f)
		if err != nil {
			return false, err
		}
		if match {
			delete(s.records, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
