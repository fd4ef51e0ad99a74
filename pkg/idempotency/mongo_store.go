package idempotency

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const keysCollection = "idempotency_keys"

// MongoStore is a Store backed by a MongoDB collection. Expired records are
// removed by a TTL index on expiresAt.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates the store and ensures its indexes
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{collection: db.Collection(keysCollection)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "serviceId", Value: 1}, {Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_service_key"),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_ttl"),
		},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoStore) Acquire(ctx context.Context, record *Record) (*Record, bool, error) {
	// BSON dates carry milliseconds; truncate so the insert can be recognised.
	createdAt := record.CreatedAt.UTC().Truncate(time.Millisecond)
	lockedAt := time.Now().UTC()

	filter := bson.M{"serviceId": record.ServiceID, "key": record.Key}
	update := bson.M{
		"$setOnInsert": bson.M{
			"key":                record.Key,
			"serviceId":          record.ServiceID,
			"requestPath":        record.RequestPath,
			"requestMethod":      record.RequestMethod,
			"requestFingerprint": record.RequestFingerprint,
			"lockedAt":           lockedAt,
			"createdAt":          createdAt,
			"expiresAt":          record.ExpiresAt,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result Record
	if err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result); err != nil {
		return nil, false, err
	}

	isNew := result.CompletedAt == nil && result.CreatedAt.Equal(createdAt)
	return &result, isNew, nil
}

func (s *MongoStore) Complete(ctx context.Context, serviceID, key string, code int, body []byte, headers map[string]string) error {
	filter := bson.M{"serviceId": serviceID, "key": key}
	update := bson.M{
		"$set": bson.M{
			"responseCode":    code,
			"responseBody":    body,
			"responseHeaders": headers,
			"completedAt":     time.Now().UTC(),
		},
		"$unset": bson.M{"lockedAt": ""},
	}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *MongoStore) Release(ctx context.Context, serviceID, key string) error {
	filter := bson.M{
		"serviceId":   serviceID,
		"key":         key,
		"completedAt": bson.M{"$exists": false},
	}
	_, err := s.collection.DeleteOne(ctx, filter)
	return err
}
