// Package audit implements an optional occupancy ledger: a Mongo
// collection recording Crit-entry and Crit-exit events for
// human/operational consumption only. The protocol never reads this
// back, so it cannot influence safety or liveness (protocol.Ledger is
// satisfied equally by NoopLedger).
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry is one occupancy event: a rank's claim on the shared
// rooms/lifts resources.
type Entry struct {
	ID        string    `bson:"_id" json:"id"`
	Rank      int       `bson:"rank" json:"rank"`
	Need      int       `bson:"need,omitempty" json:"need,omitempty"`
	Kind      string    `bson:"kind" json:"kind"` // "enter" or "leave"
	LogicalTS uint64    `bson:"logical_ts" json:"logical_ts"`
	At        time.Time `bson:"at" json:"at"`
}

// MongoLedger persists Entry documents via InsertOne, one document per
// occupancy event.
type MongoLedger struct {
	collection *mongo.Collection
	log        *logrus.Entry
	timeout    time.Duration
}

// NewMongoLedger wraps collection. A nil collection is invalid; use
// NoopLedger instead when persistence is disabled.
func NewMongoLedger(collection *mongo.Collection, log *logrus.Entry) *MongoLedger {
	return &MongoLedger{collection: collection, log: log, timeout: 2 * time.Second}
}

// RecordEnter implements protocol.Ledger.
func (m *MongoLedger) RecordEnter(rank, need int, enterTime uint64) {
	m.insert(Entry{
		ID:        uuid.NewString(),
		Rank:      rank,
		Need:      need,
		Kind:      "enter",
		LogicalTS: enterTime,
		At:        time.Now(),
	})
}

// RecordLeave implements protocol.Ledger.
func (m *MongoLedger) RecordLeave(rank int, leaveTime uint64) {
	m.insert(Entry{
		ID:        uuid.NewString(),
		Rank:      rank,
		Kind:      "leave",
		LogicalTS: leaveTime,
		At:        time.Now(),
	})
}

func (m *MongoLedger) insert(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.collection.InsertOne(ctx, e); err != nil {
		m.log.WithError(err).WithField("rank", e.Rank).Warn("failed to persist occupancy ledger entry")
	}
}

// Recent returns the most recent n ledger entries, newest first, for the
// cmd/peer status surface.
func (m *MongoLedger) Recent(ctx context.Context, n int64) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(n)
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ protocol.Ledger = (*MongoLedger)(nil)

// NoopLedger satisfies protocol.Ledger without persisting anything — the
// default when MONGO_URI is unset.
type NoopLedger struct{}

func (NoopLedger) RecordEnter(int, int, uint64) {}
func (NoopLedger) RecordLeave(int, uint64)      {}

var _ protocol.Ledger = NoopLedger{}
