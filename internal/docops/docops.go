// Package docops provides ownership-scoped document operations. Every
// operation takes the owning principal's identifier and folds it into the
// backend filter; callers cannot opt out. A record that does not exist and
// a record owned by someone else are indistinguishable, which prevents
// existence leakage across owners.
package docops

import (
	"context"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/domain"
	"github.com/ownkit/docstore/internal/safety"
	"github.com/ownkit/docstore/internal/unique"
)

// NotFound is the response collaborator invoked when a targeted record is
// absent or not owned by the caller. In an HTTP context it writes a 404,
// but nothing here assumes HTTP.
type NotFound func(message string)

// FindUserDoc fetches one record scoped by id and owner. It returns
// (nil, nil) when the record is absent or owned by someone else.
func FindUserDoc(ctx context.Context, store backend.Store, id, owner string) (domain.Record, error) {
	return store.FindOne(ctx, backend.Filter{ID: id, Owner: owner})
}

// ListUserDocs returns all records owned by owner, newest first unless
// sorts override the order.
func ListUserDocs(ctx context.Context, store backend.Store, owner string, sorts ...backend.Sort) ([]domain.Record, error) {
	return store.FindMany(ctx, backend.Filter{Owner: owner}, backend.FindOptions{Sort: sorts})
}

// CreateUniqueDoc validates uniqueness through check (when non-nil), stamps
// the owner onto the payload, and inserts. A storage-layer duplicate-key
// race surfaces as the same DuplicateError the proactive check raises.
// Payloads that omit the constrained field are exempt from the check, the
// same exemption the partial unique indexes grant at the storage layer.
func CreateUniqueDoc(ctx context.Context, store backend.Store, payload domain.Record, check *unique.Validator, owner string) (domain.Record, error) {
	stamped := payload.Payload()
	stamped[domain.FieldOwner] = owner

	var value string
	if check != nil {
		value = stamped.String(check.Field())
		if value != "" {
			if err := check.Validate(ctx, value, "", owner); err != nil {
				return nil, err
			}
		}
	}

	rec, err := store.InsertOne(ctx, stamped)
	if err != nil {
		if check != nil {
			return nil, check.Normalize(err, value)
		}
		return nil, err
	}
	return rec, nil
}

// HasUniqueFieldChanges reports whether patch touches field with a value
// that actually differs from the existing record, under case-insensitive
// comparison. Untouched or unchanged unique fields need no re-validation.
func HasUniqueFieldChanges(existing, patch domain.Record, field string) bool {
	raw, present := patch[field]
	if !present {
		return false
	}
	next, ok := raw.(string)
	if !ok {
		return true
	}
	return !safety.EqualFold(existing.String(field), next)
}

// UpdateUserDoc applies patch to the record scoped by id and owner. The
// unique check runs only when the constrained field is present in the patch
// and its value actually changed. Returns (nil, nil) when the target does
// not exist or is not owned by owner.
func UpdateUserDoc(ctx context.Context, store backend.Store, id, owner string, patch domain.Record, check *unique.Validator) (domain.Record, error) {
	existing, err := FindUserDoc(ctx, store, id, owner)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	var value string
	if check != nil && HasUniqueFieldChanges(existing, patch, check.Field()) {
		value = patch.String(check.Field())
		if value != "" {
			if err := check.Validate(ctx, value, id, owner); err != nil {
				return nil, err
			}
		}
	}

	updated, err := store.UpdateOne(ctx, backend.Filter{ID: id, Owner: owner}, patch)
	if err != nil {
		if check != nil {
			return nil, check.Normalize(err, value)
		}
		return nil, err
	}
	return updated, nil
}

// DeleteUserDoc removes the record scoped by id and owner, reporting whether
// one was removed. Not-found and wrong-owner are both false, not errors.
func DeleteUserDoc(ctx context.Context, store backend.Store, id, owner string) (bool, error) {
	return store.DeleteOne(ctx, backend.Filter{ID: id, Owner: owner})
}

// UserDocActionOr404 collapses the fetch-check-branch pattern: it looks up
// the record scoped by id and owner, triggers notFound when absent, and
// otherwise invokes action on the found record. Exactly one of the two
// side-effect paths runs.
func UserDocActionOr404(ctx context.Context, store backend.Store, id, owner string, action func(domain.Record) error, notFound NotFound, message string) error {
	rec, err := FindUserDoc(ctx, store, id, owner)
	if err != nil {
		return err
	}
	if rec == nil {
		notFound(message)
		return nil
	}
	return action(rec)
}

// FetchUserDocOr404 delivers the found record through send, or triggers
// notFound.
func FetchUserDocOr404(ctx context.Context, store backend.Store, id, owner string, send func(domain.Record), notFound NotFound, message string) error {
	return UserDocActionOr404(ctx, store, id, owner, func(rec domain.Record) error {
		send(rec)
		return nil
	}, notFound, message)
}

// DeleteUserDocOr404 deletes the found record and delivers the deleted form
// through send, or triggers notFound.
func DeleteUserDocOr404(ctx context.Context, store backend.Store, id, owner string, send func(domain.Record), notFound NotFound, message string) error {
	return UserDocActionOr404(ctx, store, id, owner, func(rec domain.Record) error {
		removed, err := DeleteUserDoc(ctx, store, id, owner)
		if err != nil {
			return err
		}
		if !removed {
			// Lost a race with a concurrent delete.
			notFound(message)
			return nil
		}
		send(rec)
		return nil
	}, notFound, message)
}
