// Package unique implements case-insensitive uniqueness validation over a
// backend store, plus the normalization of backend-native duplicate-key
// errors into the structured DuplicateError shape.
//
// Validation is a check-then-act sequence: the proactive lookup and the
// actual write are separate round-trips, so two concurrent creates can both
// pass the check and race at the storage layer. HandleDuplicateKeyError is
// the safety net that converts the losing write's native error into the
// same DuplicateError the proactive check would have produced.
package unique

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/domain"
	"github.com/ownkit/docstore/internal/safety"
)

// pgUniqueViolation is the SQLSTATE code for unique_violation.
const pgUniqueViolation = "23505"

// Options scope a uniqueness check.
type Options struct {
	// ExcludeID skips the record with this id, so an update never collides
	// with the record being updated.
	ExcludeID string

	// Owner restricts the check to one principal's records. Empty means
	// global scope.
	Owner string
}

// CheckDuplicateByField looks up at most one record whose field equals value
// under case-insensitive comparison. Returns nil when no conflict exists.
func CheckDuplicateByField(ctx context.Context, store backend.Store, field string, value string, opts Options) (domain.Record, error) {
	name, err := safety.AssertSafeIdentifier(field)
	if err != nil {
		return nil, err
	}

	f := backend.Filter{
		ExcludeID: opts.ExcludeID,
		Owner:     opts.Owner,
	}.EqFold(name, value)

	rec, err := store.FindOne(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("duplicate check on %q failed: %w", name, err)
	}
	return rec, nil
}

// ValidateUniqueField raises a DuplicateError if a conflicting record exists.
func ValidateUniqueField(ctx context.Context, store backend.Store, field, value string, opts Options, resource string) error {
	conflict, err := CheckDuplicateByField(ctx, store, field, value, opts)
	if err != nil {
		return err
	}
	if conflict != nil {
		return domain.NewDuplicateError(resource, field, value)
	}
	return nil
}

// FieldValue is one (field, value) pair for multi-field validation.
type FieldValue struct {
	Field string
	Value string
}

// ValidateUniqueFields runs the single-field check for each pair, stopping
// at the first conflict.
func ValidateUniqueFields(ctx context.Context, store backend.Store, pairs []FieldValue, opts Options, resource string) error {
	for _, pair := range pairs {
		if err := ValidateUniqueField(ctx, store, pair.Field, pair.Value, opts, resource); err != nil {
			return err
		}
	}
	return nil
}

// Scope selects how widely a uniqueness constraint applies.
type Scope int

// Uniqueness scopes.
const (
	// ScopePerOwner restricts uniqueness to one principal's records.
	ScopePerOwner Scope = iota
	// ScopeGlobal enforces uniqueness across all records of the resource.
	ScopeGlobal
)

// Validator binds a store, resource name, field, and scope for repeated
// checks without re-passing the static parameters every call.
type Validator struct {
	store    backend.Store
	resource string
	field    string
	scope    Scope
}

// NewValidator creates a bound validator.
func NewValidator(store backend.Store, resource, field string, scope Scope) *Validator {
	return &Validator{store: store, resource: resource, field: field, scope: scope}
}

// Field returns the unique-constrained field name.
func (v *Validator) Field() string {
	return v.field
}

// Validate raises a DuplicateError if value conflicts with an existing
// record. The owner argument only narrows the check under ScopePerOwner;
// excludeID supports updating a record without colliding with itself.
func (v *Validator) Validate(ctx context.Context, value, excludeID, owner string) error {
	opts := Options{ExcludeID: excludeID}
	if v.scope == ScopePerOwner {
		opts.Owner = owner
	}
	return ValidateUniqueField(ctx, v.store, v.field, value, opts, v.resource)
}

// Normalize converts a backend-native duplicate-key error from a write into
// the validator's DuplicateError shape. Other errors pass through.
func (v *Validator) Normalize(err error, value string) error {
	return HandleDuplicateKeyError(err, v.resource, v.field, value)
}

// duplicateKeyer is implemented by backend errors that self-identify as
// unique-constraint violations (the in-memory test store does this).
type duplicateKeyer interface {
	IsDuplicateKey() bool
}

// IsDuplicateKeyError reports whether err is a backend-native
// unique-constraint violation from any supported backend.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}

	var dk duplicateKeyer
	return errors.As(err, &dk) && dk.IsDuplicateKey()
}

// HandleDuplicateKeyError normalizes a backend-native unique-constraint
// violation into a DuplicateError carrying the field name. Any other error,
// including nil, is returned unchanged so backend diagnostics survive.
func HandleDuplicateKeyError(err error, resource, field, value string) error {
	if IsDuplicateKeyError(err) {
		return domain.NewDuplicateError(resource, field, value)
	}
	return err
}

// BatchChecker probes which of a batch of candidate values already exist,
// using a single IN-style query instead of one round-trip per value.
type BatchChecker struct {
	store backend.Store
	field string
}

// NewBatchChecker creates a checker bound to a store and field.
func NewBatchChecker(store backend.Store, field string) *BatchChecker {
	return &BatchChecker{store: store, field: field}
}

// Existing returns the subset of values that already exist in the store
// under case-insensitive comparison, in their input form. The owner scopes
// the probe when non-empty.
func (c *BatchChecker) Existing(ctx context.Context, values []string, owner string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	name, err := safety.AssertSafeIdentifier(c.field)
	if err != nil {
		return nil, err
	}

	probe := make([]interface{}, 0, len(values))
	for _, v := range values {
		probe = append(probe, v)
	}

	f := backend.Filter{Owner: owner}.InFold(name, probe)
	recs, err := c.store.FindMany(ctx, f, backend.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("batch duplicate check on %q failed: %w", name, err)
	}

	taken := make(map[string]bool, len(recs))
	for _, rec := range recs {
		taken[safety.FoldCase(rec.String(name))] = true
	}

	var existing []string
	for _, v := range values {
		if taken[safety.FoldCase(v)] {
			existing = append(existing, v)
		}
	}
	return existing, nil
}
