package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"chart_engine_backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names.
const (
	MongoArchiveDBName       = "chart_engine"
	MongoSnapshotCollection  = "overlay_snapshots"
	MongoArchiveConnTimeout  = 30 * time.Second
	MongoArchiveWriteTimeout = 30 * time.Second
)

// OverlaySnapshot is one archived computation: the overlay values for a
// series at a point in time. Snapshots make computed indicator history
// queryable without recomputation.
type OverlaySnapshot struct {
	ID        string                 `bson:"_id"`
	Symbol    string                 `bson:"symbol"`
	Timeframe string                 `bson:"timeframe"`
	Overlays  map[string]interface{} `bson:"overlays"`
	BarCount  int                    `bson:"bar_count"`
	LastTime  int64                  `bson:"last_time"`
	UpdatedAt time.Time              `bson:"updated_at"`
}

// MongoArchive persists overlay snapshots to MongoDB Atlas. The archive
// is optional: when no URI is configured every operation degrades to a
// logged no-op and the engine runs unaffected.
type MongoArchive struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
	lastError   string
}

// NewMongoArchive connects to MongoDB when uri is non-empty. An empty
// uri yields a disabled archive, not an error.
func NewMongoArchive(uri string) *MongoArchive {
	if uri == "" {
		log.Println("MONGODB_URI not set, overlay archive disabled")
		return &MongoArchive{lastError: "MONGODB_URI not set"}
	}

	archive := &MongoArchive{uriSet: true}
	if err := archive.connect(uri); err != nil {
		log.Printf("Overlay archive unavailable: %v", err)
	}
	return archive
}

func (m *MongoArchive) connect(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), MongoArchiveConnTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(MongoArchiveConnTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		m.lastError = fmt.Sprintf("Failed to connect: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		m.lastError = fmt.Sprintf("Failed to ping: %v", err)
		client.Disconnect(ctx)
		return err
	}

	m.mu.Lock()
	m.client = client
	m.database = client.Database(MongoArchiveDBName)
	m.isConnected = true
	m.lastError = ""
	m.mu.Unlock()

	m.createIndexes()

	log.Println("MongoDB overlay archive connected")
	return nil
}

func (m *MongoArchive) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), MongoArchiveConnTimeout)
	defer cancel()

	collection := m.database.Collection(MongoSnapshotCollection)
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "updated_at", Value: -1}},
	})
}

// IsConfigured reports whether the archive holds a live connection.
func (m *MongoArchive) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// GetConnectionStatus returns status for the health endpoint.
func (m *MongoArchive) GetConnectionStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := map[string]interface{}{
		"uri_set":   m.uriSet,
		"connected": m.isConnected,
	}
	if m.lastError != "" {
		status["error"] = m.lastError
	}
	return status
}

// SaveSnapshot upserts the latest overlay snapshot for a series.
func (m *MongoArchive) SaveSnapshot(key models.SeriesKey, overlays map[string]interface{}, barCount int, lastTime int64) error {
	if !m.IsConfigured() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), MongoArchiveWriteTimeout)
	defer cancel()

	doc := OverlaySnapshot{
		ID:        key.StorageKey(),
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		Overlays:  overlays,
		BarCount:  barCount,
		LastTime:  lastTime,
		UpdatedAt: time.Now(),
	}

	collection := m.database.Collection(MongoSnapshotCollection)
	opts := options.Replace().SetUpsert(true)

	_, err := collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to save overlay snapshot for %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot fetches the archived snapshot for a series.
func (m *MongoArchive) LoadSnapshot(key models.SeriesKey) (*OverlaySnapshot, error) {
	if !m.IsConfigured() {
		return nil, fmt.Errorf("overlay archive not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), MongoArchiveWriteTimeout)
	defer cancel()

	collection := m.database.Collection(MongoSnapshotCollection)

	var doc OverlaySnapshot
	err := collection.FindOne(ctx, bson.M{"_id": key.StorageKey()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("no snapshot archived for %s", key)
		}
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", key, err)
	}
	return &doc, nil
}

// SnapshotCount returns the number of archived snapshots.
func (m *MongoArchive) SnapshotCount() (int64, error) {
	if !m.IsConfigured() {
		return 0, fmt.Errorf("overlay archive not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.database.Collection(MongoSnapshotCollection).CountDocuments(ctx, bson.M{})
}

// Close disconnects from MongoDB.
func (m *MongoArchive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.isConnected = false
	return err
}
