// Package mongo stores entries as documents in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/logger"
)

const (
	DefaultDatabase   = "telescope"
	DefaultCollection = "telescope_entries"
)

// Config describes the MongoDB deployment.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements entry.Storage on a MongoDB collection.
type Store struct {
	cfg    Config
	events *entry.Broadcaster
	log    *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	client  *mongo.Client
	coll    *mongo.Collection
	owned   bool
	indexed bool
}

// New creates a store that connects to cfg.URI on Connect.
func New(cfg Config, log *slog.Logger) *Store {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	log = logger.Component(log, "storage.mongo")
	return &Store{
		cfg:    cfg,
		events: entry.NewBroadcaster(log),
		log:    log,
		now:    time.Now,
		owned:  true,
	}
}

// NewWithClient creates a store on a connected client. Close leaves the
// client connected.
func NewWithClient(client *mongo.Client, cfg Config, log *slog.Logger) *Store {
	s := New(cfg, log)
	s.client = client
	s.owned = false
	return s
}

// Connect dials the deployment when needed, pings it and ensures indexes.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		opts := options.Client().
			ApplyURI(s.cfg.URI).
			SetConnectTimeout(s.cfg.Timeout).
			SetServerSelectionTimeout(s.cfg.Timeout)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return fmt.Errorf("connect mongo storage: %w", err)
		}
		s.client = client
	}

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo storage: %w", err)
	}

	s.coll = s.client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	if !s.indexed {
		if err := s.ensureIndexes(ctx); err != nil {
			return fmt.Errorf("create mongo indexes: %w", err)
		}
		s.indexed = true
	}
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}}},
	}
	for _, path := range requestIDPaths {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: path, Value: 1}},
			Options: options.Index().SetSparse(true),
		})
	}

	names, err := s.coll.Indexes().CreateMany(ctx, models)
	if err != nil {
		return err
	}
	s.log.Info("Indexes ensured", "collection", s.cfg.Collection, "indexes", names)
	return nil
}

func (s *Store) collection() (*mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.coll == nil {
		return nil, entry.ErrNotConnected
	}
	return s.coll, nil
}

// StoreEntry inserts one document; a single-document write is atomic.
func (s *Store) StoreEntry(ctx context.Context, e *entry.Entry) (string, error) {
	coll, err := s.collection()
	if err != nil {
		return "", err
	}
	if err := entry.Prepare(e, s.now()); err != nil {
		return "", err
	}

	doc, err := toDocument(e)
	if err == nil {
		_, err = coll.InsertOne(ctx, doc)
	}
	if err != nil {
		s.log.Error("Failed to store entry",
			"type", e.Type,
			"request_id", e.RequestID(),
			"error", err,
		)
		e.ID = ""
		return "", fmt.Errorf("insert %s entry: %w", e.Type, err)
	}

	s.events.Publish(*e)
	return e.ID, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*entry.Entry, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}
	if !entry.ValidID(id) {
		return nil, nil
	}

	var doc document
	if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}

	e, err := doc.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEntries(ctx context.Context, opts entry.ListOptions) (*entry.Page, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	opts = opts.Normalize()
	filter, err := buildFilter(opts)
	if err != nil {
		return nil, err
	}

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	find := options.Find().
		SetSort(sortOrder(opts.Sort)).
		SetSkip(int64(opts.Offset())).
		SetLimit(int64(opts.PerPage))
	entries, err := s.find(ctx, coll, filter, find)
	if err != nil {
		return nil, err
	}
	return entry.NewPage(entries, total, opts), nil
}

func (s *Store) GetRecentEntries(ctx context.Context, limit int, t entry.Type) ([]entry.Entry, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = entry.DefaultPerPage
	}

	filter, err := recentFilter(t)
	if err != nil {
		return nil, err
	}
	find := options.Find().SetSort(sortOrder(entry.SortDesc)).SetLimit(int64(limit))
	return s.find(ctx, coll, filter, find)
}

func (s *Store) find(ctx context.Context, coll *mongo.Collection, filter bson.D, opts *options.FindOptions) ([]entry.Entry, error) {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []entry.Entry{}
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		e, err := doc.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	coll, err := s.collection()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge).UTC()
	res, err := coll.DeleteMany(ctx, bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: cutoff}}}})
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Subscribe(buffer int) *entry.Subscription {
	return s.events.Subscribe(buffer)
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return entry.ErrNotConnected
	}
	return client.Ping(ctx, nil)
}

// Close disconnects the client when the store created it.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll = nil
	s.indexed = false
	if s.client == nil || !s.owned {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	return err
}

// Ensure Store implements entry.Storage interface.
var _ entry.Storage = (*Store)(nil)
