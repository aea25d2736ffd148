// Package mongodb provides MongoDB connectivity for the document store,
// mirroring what the database package does for PostgreSQL. The client is
// created once at startup; stores borrow collections from it.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ownkit/docstore/internal/config"
	"github.com/ownkit/docstore/internal/domain"
)

// caseInsensitiveCollation compares strings ignoring case (and only case).
// Strength 2 also ignores diacritics; strength 1 would be too loose.
var caseInsensitiveCollation = &options.Collation{Locale: "en", Strength: 2}

// Client wraps a connected MongoDB client and its target database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// Connect establishes a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, cfg *config.MongoConfig, logger zerolog.Logger) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info().
		Str("database", cfg.Database).
		Msg("mongodb connection established")

	return &Client{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// Collection returns a handle on the named collection.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect mongodb client: %w", err)
	}
	c.logger.Info().Msg("mongodb connection closed")
	return nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// uniqueIndexModel builds the unique case-insensitive index for a
// constrained field. Per-owner scope keys on (owner, field); global scope
// keys on the field alone. A partial filter exempts documents that omit the
// field, so absent values never collide as null.
func uniqueIndexModel(uniqueField string, global bool) mongo.IndexModel {
	keys := bson.D{{Key: domain.FieldOwner, Value: 1}, {Key: uniqueField, Value: 1}}
	if global {
		keys = bson.D{{Key: uniqueField, Value: 1}}
	}
	return mongo.IndexModel{
		Keys: keys,
		Options: options.Index().
			SetUnique(true).
			SetCollation(caseInsensitiveCollation).
			SetPartialFilterExpression(bson.D{{Key: uniqueField, Value: bson.D{{Key: "$exists", Value: true}}}}),
	}
}

// EnsureIndexes creates the owner index on a collection, plus a unique
// case-insensitive index for uniqueField when non-empty. The unique index
// is the storage-layer safety net for the check-then-act race in create and
// update paths; global widens it from per-owner to all documents.
func (c *Client) EnsureIndexes(ctx context.Context, collection, uniqueField string, global bool) error {
	coll := c.Collection(collection)

	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: domain.FieldOwner, Value: 1}, {Key: domain.FieldCreatedAt, Value: -1}},
		},
	}
	if uniqueField != "" {
		models = append(models, uniqueIndexModel(uniqueField, global))
	}

	createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := coll.Indexes().CreateMany(createCtx, models); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}

	c.logger.Info().
		Str("collection", collection).
		Str("unique_field", uniqueField).
		Msg("mongodb indexes ensured")
	return nil
}
