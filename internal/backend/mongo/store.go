// Package mongo implements the backend.Store interface over a MongoDB
// collection. Records are stored flat: the reserved identity fields live
// beside the document fields, with id mapped onto _id as a string UUID.
//
// Case-insensitive comparison uses anchored regular expressions with the i
// option; values are escaped through the safety layer first so pattern
// metacharacters in user input always match literally.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/domain"
	"github.com/ownkit/docstore/internal/safety"
)

// mongoIDField is the native primary-key field name.
const mongoIDField = "_id"

// Compile-time interface verification.
var _ backend.Store = (*Store)(nil)

// Store is a MongoDB implementation of backend.Store bound to one
// collection.
type Store struct {
	coll *mongo.Collection
}

// NewStore creates a store over the given collection.
func NewStore(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Resource returns the collection name the store is bound to.
func (s *Store) Resource() string {
	return s.coll.Name()
}

// IsDuplicateKeyError reports whether err is a MongoDB duplicate-key error.
func IsDuplicateKeyError(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}

// foldPattern builds an anchored case-insensitive literal match.
func foldPattern(value interface{}) primitive.Regex {
	str, ok := value.(string)
	if !ok {
		str = fmt.Sprint(value)
	}
	return primitive.Regex{
		Pattern: "^" + safety.EscapeRegex(str) + "$",
		Options: "i",
	}
}

// buildFilter translates a filter into its bson form. Field names pass the
// safety check before they become bson keys.
func buildFilter(f backend.Filter) (bson.M, error) {
	query := bson.M{}

	switch {
	case f.ID != "" && f.ExcludeID != "":
		query[mongoIDField] = bson.M{"$eq": f.ID, "$ne": f.ExcludeID}
	case f.ID != "":
		query[mongoIDField] = f.ID
	case f.ExcludeID != "":
		query[mongoIDField] = bson.M{"$ne": f.ExcludeID}
	}

	if f.Owner != "" {
		query[domain.FieldOwner] = f.Owner
	}

	for _, c := range f.Conds {
		field, err := safety.AssertSafeIdentifier(c.Field)
		if err != nil {
			return nil, err
		}

		switch c.Op {
		case backend.OpEq:
			query[field] = c.Value
		case backend.OpEqFold:
			query[field] = foldPattern(c.Value)
		case backend.OpIn:
			query[field] = bson.M{"$in": c.Values}
		case backend.OpInFold:
			patterns := make([]interface{}, 0, len(c.Values))
			for _, v := range c.Values {
				patterns = append(patterns, foldPattern(v))
			}
			query[field] = bson.M{"$in": patterns}
		default:
			return nil, fmt.Errorf("unsupported compare op %d on field %q", c.Op, field)
		}
	}

	return query, nil
}

// buildSort translates sort directives into a bson.D, defaulting to
// newest-first.
func buildSort(sorts []backend.Sort) (bson.D, error) {
	if len(sorts) == 0 {
		return bson.D{{Key: domain.FieldCreatedAt, Value: -1}}, nil
	}

	out := make(bson.D, 0, len(sorts))
	for _, sr := range sorts {
		field, err := safety.AssertSafeIdentifier(sr.Field)
		if err != nil {
			return nil, err
		}
		if field == domain.FieldID {
			field = mongoIDField
		}
		dir := 1
		if sr.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: field, Value: dir})
	}
	return out, nil
}

// toDocument renders a record into its stored bson form.
func toDocument(rec domain.Record) bson.M {
	doc := bson.M{}
	for k, v := range rec {
		if k == domain.FieldID {
			doc[mongoIDField] = v
			continue
		}
		doc[k] = v
	}
	return doc
}

// fromDocument reassembles a record from its stored bson form, normalizing
// driver-native types back to their domain equivalents.
func fromDocument(doc bson.M) domain.Record {
	rec := make(domain.Record, len(doc))
	for k, v := range doc {
		if k == mongoIDField {
			k = domain.FieldID
		}
		if dt, ok := v.(primitive.DateTime); ok {
			v = dt.Time().UTC()
		}
		rec[k] = v
	}
	return rec
}

// FindOne returns at most one matching record, or (nil, nil) when none
// matches.
func (s *Store) FindOne(ctx context.Context, f backend.Filter) (domain.Record, error) {
	query, err := buildFilter(f)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	err = s.coll.FindOne(ctx, query).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find %s: %w", s.Resource(), err)
	}
	return fromDocument(doc), nil
}

// FindMany returns all matching records ordered and paged per opts.
func (s *Store) FindMany(ctx context.Context, f backend.Filter, opts backend.FindOptions) ([]domain.Record, error) {
	query, err := buildFilter(f)
	if err != nil {
		return nil, err
	}
	sort, err := buildSort(opts.Sort)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find().SetSort(sort)
	if opts.Page != nil {
		findOpts = findOpts.
			SetSkip(int64(opts.Page.Offset)).
			SetLimit(int64(opts.Page.Limit))
	}

	cursor, err := s.coll.Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.Resource(), err)
	}
	defer cursor.Close(ctx)

	var records []domain.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", s.Resource(), err)
		}
		records = append(records, fromDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s cursor: %w", s.Resource(), err)
	}
	return records, nil
}

// Count returns the number of matching records.
func (s *Store) Count(ctx context.Context, f backend.Filter) (int64, error) {
	query, err := buildFilter(f)
	if err != nil {
		return 0, err
	}

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.Resource(), err)
	}
	return total, nil
}

// Exists reports whether any record matches, counting at most one document.
func (s *Store) Exists(ctx context.Context, f backend.Filter) (bool, error) {
	query, err := buildFilter(f)
	if err != nil {
		return false, err
	}

	n, err := s.coll.CountDocuments(ctx, query, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check existence in %s: %w", s.Resource(), err)
	}
	return n > 0, nil
}

// InsertOne persists a new record, assigning id and timestamps when absent.
func (s *Store) InsertOne(ctx context.Context, rec domain.Record) (domain.Record, error) {
	stored := rec.Clone()
	if stored.ID() == "" {
		stored[domain.FieldID] = uuid.NewString()
	}
	now := time.Now().UTC()
	stored[domain.FieldCreatedAt] = now
	stored[domain.FieldUpdatedAt] = now

	if _, err := s.coll.InsertOne(ctx, toDocument(stored)); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", s.Resource(), err)
	}
	return stored, nil
}

// InsertMany persists a batch of records in one round-trip.
func (s *Store) InsertMany(ctx context.Context, recs []domain.Record) ([]domain.Record, error) {
	if len(recs) == 0 {
		return []domain.Record{}, nil
	}

	now := time.Now().UTC()
	stored := make([]domain.Record, 0, len(recs))
	docs := make([]interface{}, 0, len(recs))
	for i, rec := range recs {
		if rec == nil {
			return nil, domain.NewValidationError("payload", fmt.Sprintf("record at index %d is nil", i))
		}
		cp := rec.Clone()
		if cp.ID() == "" {
			cp[domain.FieldID] = uuid.NewString()
		}
		cp[domain.FieldCreatedAt] = now
		cp[domain.FieldUpdatedAt] = now
		stored = append(stored, cp)
		docs = append(docs, toDocument(cp))
	}

	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to bulk insert into %s: %w", s.Resource(), err)
	}
	return stored, nil
}

// UpdateOne merges patch into the first matching record and returns the
// updated form, or (nil, nil) when none matches.
func (s *Store) UpdateOne(ctx context.Context, f backend.Filter, patch domain.Record) (domain.Record, error) {
	query, err := buildFilter(f)
	if err != nil {
		return nil, err
	}

	set := bson.M{domain.FieldUpdatedAt: time.Now().UTC()}
	for k, v := range patch.Payload() {
		set[k] = v
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err = s.coll.FindOneAndUpdate(ctx, query, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update %s: %w", s.Resource(), err)
	}
	return fromDocument(doc), nil
}

// DeleteOne removes the first matching record, reporting whether one was
// removed.
func (s *Store) DeleteOne(ctx context.Context, f backend.Filter) (bool, error) {
	query, err := buildFilter(f)
	if err != nil {
		return false, err
	}

	result, err := s.coll.DeleteOne(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", s.Resource(), err)
	}
	return result.DeletedCount > 0, nil
}
