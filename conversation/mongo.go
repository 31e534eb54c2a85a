package conversation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/shopchat/message"
)

// MongoStore implements Store on a MongoDB collection, one document per
// turn. ObjectIDs are monotonic per client, preserving insertion order.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type turnDocument struct {
	ConversationID string        `bson:"conversation_id"`
	Turn           *message.Turn `bson:"turn"`
	CreatedAt      time.Time     `bson:"created_at"`
}

// NewMongoStore creates a new MongoDB-backed conversation store.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = &MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "shopchat",
			Collection: "turns",
		}
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}},
	}
	if _, err := collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &MongoStore{client: client, collection: collection}, nil
}

// Append inserts a turn document at the end of the conversation's log.
func (s *MongoStore) Append(ctx context.Context, conversationID string, turn *message.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}
	_, err := s.collection.InsertOne(ctx, turnDocument{
		ConversationID: conversationID,
		Turn:           turn,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to append turn to MongoDB: %w", err)
	}
	return nil
}

// Read returns the conversation's turns in insertion order.
func (s *MongoStore) Read(ctx context.Context, conversationID string) ([]*message.Turn, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	defer cursor.Close(ctx)

	turns := make([]*message.Turn, 0)
	for cursor.Next(ctx) {
		var doc turnDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		turns = append(turns, doc.Turn)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Ping checks if the MongoDB connection is alive.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
