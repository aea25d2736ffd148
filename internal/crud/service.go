// Package crud builds full resource services from a backend store, a
// resource name, and a descriptor. A service composes the ownership-scoped
// document operations and the uniqueness validator; every method takes the
// owning principal explicitly, so no call path can skip the owner filter.
package crud

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/docops"
	"github.com/ownkit/docstore/internal/domain"
	"github.com/ownkit/docstore/internal/observability"
	"github.com/ownkit/docstore/internal/safety"
	"github.com/ownkit/docstore/internal/unique"
)

// Pagination defaults.
const (
	DefaultLimit    = 20
	DefaultMaxLimit = 100
)

// Hook is a lifecycle callback invoked with the in-flight record. A hook
// returning an error aborts the enclosing operation; for pre-write hooks
// this happens before any mutation is persisted. Post-write hooks cannot
// roll back the write.
type Hook func(ctx context.Context, rec domain.Record) error

// Hooks are the named lifecycle slots on a resource descriptor.
type Hooks struct {
	BeforeCreate Hook
	AfterCreate  Hook
	BeforeUpdate Hook
	AfterUpdate  Hook
	BeforeDelete Hook
	AfterDelete  Hook
}

// Options is the static resource descriptor consumed by New.
type Options struct {
	// UniqueField names a field that must be unique, compared
	// case-insensitively. Empty disables uniqueness validation.
	UniqueField string

	// UniqueScope selects per-owner (default) or global uniqueness.
	UniqueScope unique.Scope

	// AllowedColumns whitelists the document fields permitted in filters,
	// search terms, and sorts. Reserved system fields are implicitly
	// trusted. An empty whitelist permits no document-field filtering.
	AllowedColumns []string

	// DefaultSort orders list results when the caller does not. Empty means
	// newest-first.
	DefaultSort []backend.Sort

	// MaxLimit caps the page size. Zero means DefaultMaxLimit.
	MaxLimit int

	// Hooks are the lifecycle callbacks.
	Hooks Hooks
}

// PageRequest carries raw pagination parameters from the caller.
type PageRequest struct {
	Page  int
	Limit int
}

// Result is one page of records plus the pagination-independent total.
type Result struct {
	Data  []domain.Record `json:"data"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// SearchTerm is one search criterion.
type SearchTerm struct {
	Field      string
	Value      string
	IgnoreCase bool
}

// Service exposes ownership-enforced CRUD over one resource.
type Service struct {
	store     backend.Store
	resource  string
	opts      Options
	validator *unique.Validator
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates a service for the resource backed by store. The unique
// validator is bound once here and reused by every write path.
func New(store backend.Store, resource string, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	s := &Service{
		store:    store,
		resource: resource,
		opts:     opts,
		logger:   logger.With().Str("resource", resource).Logger(),
	}
	if opts.UniqueField != "" {
		s.validator = unique.NewValidator(store, resource, opts.UniqueField, opts.UniqueScope)
	}
	return s
}

// WithMetrics attaches operation metrics and returns the service.
func (s *Service) WithMetrics(m *observability.Metrics) *Service {
	s.metrics = m
	return s
}

// Resource returns the resource name.
func (s *Service) Resource() string {
	return s.resource
}

// Store returns the underlying backend store.
func (s *Service) Store() backend.Store {
	return s.store
}

// normalizePage clamps a page request to page >= 1 and
// 1 <= limit <= MaxLimit, and derives skip = (page-1)*limit.
func (s *Service) normalizePage(req PageRequest) (page, limit, skip int) {
	page = req.Page
	if page < 1 {
		page = 1
	}
	limit = req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	return page, limit, (page - 1) * limit
}

// buildFilter turns a caller-supplied column/value map into a backend
// filter, admitting only whitelisted columns.
func (s *Service) buildFilter(owner string, filters map[string]interface{}) (backend.Filter, error) {
	f := backend.Filter{Owner: owner}
	for field, value := range filters {
		name, err := safety.AssertAllowedColumn(field, s.opts.AllowedColumns)
		if err != nil {
			return backend.Filter{}, err
		}
		f = f.Eq(name, value)
	}
	return f, nil
}

// observe records the operation outcome. Logging and metrics are
// fire-and-forget; they never alter control flow.
func (s *Service) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicate):
		status = "duplicate"
	case errors.Is(err, domain.ErrNotFound):
		status = "not_found"
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrColumnNotAllowed):
		status = "invalid"
	default:
		status = "error"
	}

	if s.metrics != nil {
		s.metrics.OperationsTotal.WithLabelValues(s.resource, op, status).Inc()
		s.metrics.OperationDuration.WithLabelValues(s.resource, op).Observe(time.Since(start).Seconds())
	}
	s.logger.Debug().
		Str("operation", op).
		Str("status", status).
		Dur("elapsed", time.Since(start)).
		Msg("operation completed")
}

func runHook(ctx context.Context, hook Hook, rec domain.Record) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, rec)
}

// Create inserts a new record owned by owner. The BeforeCreate hook runs
// first, then uniqueness validation, then the insert, then AfterCreate.
func (s *Service) Create(ctx context.Context, owner string, payload domain.Record) (rec domain.Record, err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())

	stamped := payload.Payload()
	stamped[domain.FieldOwner] = owner
	if err = runHook(ctx, s.opts.Hooks.BeforeCreate, stamped); err != nil {
		return nil, err
	}

	rec, err = docops.CreateUniqueDoc(ctx, s.store, stamped, s.validator, owner)
	if err != nil {
		return nil, err
	}

	if err = runHook(ctx, s.opts.Hooks.AfterCreate, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByID returns the record scoped by id and owner, or a NotFoundError.
func (s *Service) GetByID(ctx context.Context, owner, id string) (rec domain.Record, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	rec, err = docops.FindUserDoc(ctx, s.store, id, owner)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NewNotFoundError(s.resource, id)
	}
	return rec, nil
}

// GetAll returns one page of the owner's records matching the filters,
// plus the total count unlimited by pagination.
func (s *Service) GetAll(ctx context.Context, owner string, filters map[string]interface{}, req PageRequest) (res *Result, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	f, err := s.buildFilter(owner, filters)
	if err != nil {
		return nil, err
	}
	page, limit, skip := s.normalizePage(req)

	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, err
	}

	data, err := s.store.FindMany(ctx, f, backend.FindOptions{
		Sort: s.opts.DefaultSort,
		Page: &backend.Page{Limit: limit, Offset: skip},
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []domain.Record{}
	}

	return &Result{Data: data, Total: total, Page: page, Limit: limit}, nil
}

// Update applies patch to the record scoped by id and owner. Uniqueness is
// re-validated only when the unique field is present in the patch with a
// changed value.
func (s *Service) Update(ctx context.Context, owner, id string, patch domain.Record) (rec domain.Record, err error) {
	defer func(start time.Time) { s.observe("update", start, err) }(time.Now())

	clean := patch.Payload()
	if err = runHook(ctx, s.opts.Hooks.BeforeUpdate, clean); err != nil {
		return nil, err
	}

	rec, err = docops.UpdateUserDoc(ctx, s.store, id, owner, clean, s.validator)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NewNotFoundError(s.resource, id)
	}

	if err = runHook(ctx, s.opts.Hooks.AfterUpdate, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteByID removes the record scoped by id and owner, or raises a
// NotFoundError.
func (s *Service) DeleteByID(ctx context.Context, owner, id string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	existing, err := docops.FindUserDoc(ctx, s.store, id, owner)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.NewNotFoundError(s.resource, id)
	}

	if err = runHook(ctx, s.opts.Hooks.BeforeDelete, existing); err != nil {
		return err
	}

	removed, err := docops.DeleteUserDoc(ctx, s.store, id, owner)
	if err != nil {
		return err
	}
	if !removed {
		return domain.NewNotFoundError(s.resource, id)
	}

	return runHook(ctx, s.opts.Hooks.AfterDelete, existing)
}

// Search returns the owner's records matching every term. Terms address
// whitelisted columns only; case-insensitive terms compare under folding
// with the value escaped before any pattern-based comparison.
func (s *Service) Search(ctx context.Context, owner string, terms []SearchTerm) (recs []domain.Record, err error) {
	defer func(start time.Time) { s.observe("search", start, err) }(time.Now())

	f := backend.Filter{Owner: owner}
	for _, term := range terms {
		name, err := safety.AssertAllowedColumn(term.Field, s.opts.AllowedColumns)
		if err != nil {
			return nil, err
		}
		if term.IgnoreCase {
			f = f.EqFold(name, term.Value)
		} else {
			f = f.Eq(name, term.Value)
		}
	}

	recs, err = s.store.FindMany(ctx, f, backend.FindOptions{Sort: s.opts.DefaultSort})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// FindByFieldIgnoreCase returns the owner's records whose field equals
// value case-insensitively. This is the primitive Search and GetAll build
// their case-insensitive comparisons on.
func (s *Service) FindByFieldIgnoreCase(ctx context.Context, owner, field, value string) ([]domain.Record, error) {
	return s.Search(ctx, owner, []SearchTerm{{Field: field, Value: value, IgnoreCase: true}})
}

// Count returns the number of the owner's records matching the filters.
func (s *Service) Count(ctx context.Context, owner string, filters map[string]interface{}) (total int64, err error) {
	defer func(start time.Time) { s.observe("count", start, err) }(time.Now())

	f, err := s.buildFilter(owner, filters)
	if err != nil {
		return 0, err
	}
	return s.store.Count(ctx, f)
}

// Exists reports whether any of the owner's records match the filters,
// without fetching them.
func (s *Service) Exists(ctx context.Context, owner string, filters map[string]interface{}) (exists bool, err error) {
	defer func(start time.Time) { s.observe("exists", start, err) }(time.Now())

	f, err := s.buildFilter(owner, filters)
	if err != nil {
		return false, err
	}
	return s.store.Exists(ctx, f)
}

// BulkCreate inserts a batch of records owned by owner. Uniqueness is
// pre-validated for the whole batch, including conflicts inside the batch
// itself, before any insert, so avoidable partial failures never start.
func (s *Service) BulkCreate(ctx context.Context, owner string, payloads []domain.Record) (recs []domain.Record, err error) {
	defer func(start time.Time) { s.observe("bulk_create", start, err) }(time.Now())

	if len(payloads) == 0 {
		return []domain.Record{}, nil
	}

	stamped := make([]domain.Record, 0, len(payloads))
	for _, payload := range payloads {
		if payload == nil {
			return nil, domain.NewValidationError("payload", "record cannot be nil")
		}
		cp := payload.Payload()
		cp[domain.FieldOwner] = owner
		if err = runHook(ctx, s.opts.Hooks.BeforeCreate, cp); err != nil {
			return nil, err
		}
		stamped = append(stamped, cp)
	}

	if s.validator != nil {
		if err = s.validateBatch(ctx, owner, stamped); err != nil {
			return nil, err
		}
	}

	recs, err = s.store.InsertMany(ctx, stamped)
	if err != nil {
		if s.validator != nil {
			return nil, s.validator.Normalize(err, "")
		}
		return nil, err
	}

	for _, rec := range recs {
		if err = runHook(ctx, s.opts.Hooks.AfterCreate, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// validateBatch checks the batch against the store with one IN-style probe
// and against itself for intra-batch conflicts. Records omitting the unique
// field are exempt, mirroring the partial-index exemption on writes.
func (s *Service) validateBatch(ctx context.Context, owner string, stamped []domain.Record) error {
	field := s.opts.UniqueField
	seen := make(map[string]bool, len(stamped))
	values := make([]string, 0, len(stamped))
	for _, rec := range stamped {
		value := rec.String(field)
		if value == "" {
			continue
		}
		folded := safety.FoldCase(value)
		if seen[folded] {
			return domain.NewDuplicateError(s.resource, field, value)
		}
		seen[folded] = true
		values = append(values, value)
	}

	scopeOwner := ""
	if s.opts.UniqueScope == unique.ScopePerOwner {
		scopeOwner = owner
	}
	existing, err := unique.NewBatchChecker(s.store, field).Existing(ctx, values, scopeOwner)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return domain.NewDuplicateError(s.resource, field, existing[0])
	}
	return nil
}

// Upsert updates the owner's first record matching the filters, or creates
// one when none matches. Each branch applies the same uniqueness and hook
// semantics as Update or Create.
func (s *Service) Upsert(ctx context.Context, owner string, filters map[string]interface{}, payload domain.Record) (rec domain.Record, err error) {
	defer func(start time.Time) { s.observe("upsert", start, err) }(time.Now())

	f, err := s.buildFilter(owner, filters)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.FindOne(ctx, f)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return s.Update(ctx, owner, existing.ID(), payload)
	}

	// Merge the filter's equality fields into the payload so the created
	// record matches the filter it was addressed by.
	merged := payload.Clone()
	if merged == nil {
		merged = domain.Record{}
	}
	for field, value := range filters {
		if _, present := merged[field]; !present {
			merged[field] = value
		}
	}
	return s.Create(ctx, owner, merged)
}
