package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// MongoStorage keeps rendered report content in a MongoDB collection, one
// document per key.
type MongoStorage struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// OpenMongoStorage connects to cfg.MongoURI and pings the server.
func OpenMongoStorage(ctx context.Context, cfg Config) (*MongoStorage, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("report: mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("report: mongo ping: %w", err)
	}
	return NewMongoStorage(client, client.Database(cfg.MongoDB).Collection(cfg.MongoCollection)), nil
}

func NewMongoStorage(client *mongo.Client, coll *mongo.Collection) *MongoStorage {
	return &MongoStorage{client: client, coll: coll}
}

type mongoObject struct {
	Body        []byte    `bson:"body"`
	ContentType string    `bson:"contentType"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (s *MongoStorage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.coll.UpdateOne(
		ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"body":        body,
			"contentType": contentType,
			"updatedAt":   time.Now().UTC(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("report: mongo put %s: %w", key, err)
	}
	return nil
}

func (s *MongoStorage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	var obj mongoObject
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&obj)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, "", domain.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("report: mongo get %s: %w", key, err)
	}
	return obj.Body, obj.ContentType, nil
}

func (s *MongoStorage) DeleteObject(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("report: mongo delete %s: %w", key, err)
	}
	return nil
}

func (s *MongoStorage) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
