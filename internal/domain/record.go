// Package domain defines the record model and the error taxonomy shared by
// every layer of the library.
package domain

import "time"

// Reserved logical field names. Backends map these onto their native columns
// ("_id" in MongoDB, dedicated columns in PostgreSQL).
const (
	FieldID        = "id"
	FieldOwner     = "owner"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Record is an opaque domain object: a mapping of field name to value whose
// identity is the id field. Ownership is stamped once at creation and never
// exposed as an updatable field.
type Record map[string]interface{}

// ID returns the record's primary key, or "" if unset.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Owner returns the owning principal's identifier, or "" if unset.
func (r Record) Owner() string {
	owner, _ := r[FieldOwner].(string)
	return owner
}

// String returns the named field as a string. Non-string and absent values
// yield "".
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// CreatedAt returns the creation timestamp, or the zero time if unset.
func (r Record) CreatedAt() time.Time {
	t, _ := r[FieldCreatedAt].(time.Time)
	return t
}

// Clone returns a shallow copy of the record. Nested values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of the record with the patch applied on top.
// Reserved system fields in the patch are ignored.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(patch))
	}
	for k, v := range patch {
		switch k {
		case FieldID, FieldOwner, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		out[k] = v
	}
	return out
}

// Payload returns a copy of the record with the reserved system fields
// removed. Backends use it to persist user data separately from identity.
func (r Record) Payload() Record {
	out := make(Record, len(r))
	for k, v := range r {
		switch k {
		case FieldID, FieldOwner, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		out[k] = v
	}
	return out
}
