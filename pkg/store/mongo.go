package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Giorgiomufen/display-sync/pkg/state"
)

const layoutDocID = "canvas_layout"

// MongoStore keeps items in one collection and the layout as a single
// document in another.
type MongoStore struct {
	client   *mongo.Client
	items    *mongo.Collection
	settings *mongo.Collection
	owned    bool
	closed   atomic.Bool
	now      func() time.Time
}

type mongoItem struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	HTMLContent string    `bson:"html_content,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	Size        int       `bson:"size"`
}

type mongoLayout struct {
	ID      string                  `bson:"_id"`
	Offsets map[string]state.Offset `bson:"offsets"`
}

// OpenMongoStore connects to uri and uses database dbName.
// The returned store owns the client and disconnects it on Close.
func OpenMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: mongo ping: %w", err)
	}
	s := NewMongoStore(client.Database(dbName))
	s.client = client
	s.owned = true
	return s, nil
}

// NewMongoStore wraps an existing database handle.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:   db.Client(),
		items:    db.Collection("library"),
		settings: db.Collection("settings"),
		now:      time.Now,
	}
}

// Save inserts a new item.
func (m *MongoStore) Save(ctx context.Context, name, htmlContent string) (*Item, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	doc := mongoItem{
		ID:          NewID(),
		Name:        name,
		HTMLContent: htmlContent,
		Size:        len(htmlContent),
		// Mongo stores milliseconds; truncate so reads match what we return.
		CreatedAt: m.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := m.items.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("store: save item: %w", err)
	}
	item := doc.item()
	return &item, nil
}

// Get loads one item.
func (m *MongoStore) Get(ctx context.Context, id string) (*Item, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	var doc mongoItem
	err := m.items.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	item := doc.item()
	return &item, nil
}

// Delete removes one item. Missing documents are not an error.
func (m *MongoStore) Delete(ctx context.Context, id string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	if _, err := m.items.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}
	return nil
}

// List returns every item ordered by creation time, without content.
func (m *MongoStore) List(ctx context.Context) ([]Item, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"html_content": 0})
	cursor, err := m.items.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer cursor.Close(ctx)

	items := []Item{}
	for cursor.Next(ctx) {
		var doc mongoItem
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decode item: %w", err)
		}
		items = append(items, doc.item())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	return items, nil
}

// LoadLayout reads the layout document.
func (m *MongoStore) LoadLayout(ctx context.Context) (state.Layout, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	var doc mongoLayout
	err := m.settings.FindOne(ctx, bson.M{"_id": layoutDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return state.Layout{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load layout: %w", err)
	}
	l := state.Layout{}
	for k, v := range doc.Offsets {
		l[k] = v
	}
	return l, nil
}

// SaveLayout upserts the layout document.
func (m *MongoStore) SaveLayout(ctx context.Context, l state.Layout) error {
	if m.closed.Load() {
		return ErrClosed
	}

	doc := mongoLayout{ID: layoutDocID, Offsets: map[string]state.Offset(l.Clone())}
	if doc.Offsets == nil {
		doc.Offsets = map[string]state.Offset{}
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.settings.ReplaceOne(ctx, bson.M{"_id": layoutDocID}, doc, opts); err != nil {
		return fmt.Errorf("store: save layout: %w", err)
	}
	return nil
}

// Close disconnects the client if this store opened it.
func (m *MongoStore) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.owned && m.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.client.Disconnect(ctx)
	}
	return nil
}

func (d mongoItem) item() Item {
	return Item{
		ID:          d.ID,
		Name:        d.Name,
		HTMLContent: d.HTMLContent,
		CreatedAt:   d.CreatedAt.UTC(),
		Size:        d.Size,
	}
}
