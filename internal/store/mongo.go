// Package store mirrors room membership into an external document store.
//
// The mirror is write-only and best-effort: the live registry is always the
// source of truth, documents are never read back, and a failed write simply
// means that snapshot update is lost until the next membership change.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/meshcall/signal-relay/internal/relay"
)

const roomsCollection = "rooms"

// Store persists one document per room, keyed by room id.
type Store interface {
	UpsertRoomSnapshot(ctx context.Context, snap relay.Snapshot) error
}

// MongoStore writes snapshots to a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri, database string) (*MongoStore, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return NewMongoStore(client, database), client, nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{coll: client.Database(database).Collection(roomsCollection)}
}

func (s *MongoStore) UpsertRoomSnapshot(ctx context.Context, snap relay.Snapshot) error {
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": snap.RoomID},
		bson.M{
			"$set": bson.M{
				"participants":     snap.Participants,
				"participantCount": len(snap.Participants),
				"lastActivity":     snap.LastActivity,
			},
			"$setOnInsert": bson.M{
				"createdAt": createdAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert room %q: %w", snap.RoomID, err)
	}
	return nil
}
