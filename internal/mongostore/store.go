// Package mongostore implements the source and target datasets on MongoDB.
//
// Source documents are read from one collection per origin. Credentials live
// in a single collection shared with independent writers, so the target
// never assumes userId is unique.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/credsync/internal/credential"
)

// Options names the databases and collections a Store uses.
type Options struct {
	SourceURI          string
	SourceDB           string
	TargetURI          string
	TargetDB           string
	TargetCollection   string
	StaffCollection    string
	GuardianCollection string
	ConnectTimeout     time.Duration
}

// Store is a MongoDB-backed source and target dataset.
type Store struct {
	sourceClient *mongo.Client
	targetClient *mongo.Client
	source       *mongo.Database
	target       *mongo.Collection
	collections  map[credential.Origin]string
	now          func() time.Time
	logger       *slog.Logger
}

// Connect opens one client per side and verifies both are reachable.
// Source and target may live on different clusters.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sourceClient, err := connect(ctx, opts.SourceURI, opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	targetClient, err := connect(ctx, opts.TargetURI, opts.ConnectTimeout)
	if err != nil {
		_ = sourceClient.Disconnect(context.Background())
		return nil, fmt.Errorf("target: %w", err)
	}

	s := New(
		sourceClient.Database(opts.SourceDB),
		targetClient.Database(opts.TargetDB).Collection(opts.TargetCollection),
		map[credential.Origin]string{
			credential.OriginStaff:    opts.StaffCollection,
			credential.OriginGuardian: opts.GuardianCollection,
		},
		logger,
	)
	s.sourceClient = sourceClient
	s.targetClient = targetClient
	logger.Info("mongo connected",
		"source_db", opts.SourceDB,
		"target_db", opts.TargetDB,
		"target_collection", opts.TargetCollection,
	)
	return s, nil
}

func connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, wrapErr("mongo connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, wrapErr("mongo ping", err)
	}
	return client, nil
}

// New builds a Store over existing handles. collections maps each origin to
// its source collection name.
func New(source *mongo.Database, target *mongo.Collection, collections map[credential.Origin]string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source:      source,
		target:      target,
		collections: collections,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// Close disconnects the clients opened by Connect.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.sourceClient != nil {
		errs = append(errs, s.sourceClient.Disconnect(ctx))
	}
	if s.targetClient != nil && s.targetClient != s.sourceClient {
		errs = append(errs, s.targetClient.Disconnect(ctx))
	}
	return errors.Join(errs...)
}

// Ping verifies the target deployment is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.target.Database().Client().Ping(ctx, nil); err != nil {
		return wrapErr("ping target", err)
	}
	return nil
}

const (
	legacyIndexName = "userId_1_url_1"
	userIDIndexName = "userId_1"
)

// EnsureIndexes drops the legacy unique (userId, url) index, which rejects
// writes from independent writers, and ensures a non-unique userId index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	cursor, err := s.target.Indexes().List(ctx)
	if err != nil {
		return wrapErr("list indexes", err)
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return wrapErr("list indexes", err)
	}
	for _, spec := range specs {
		if spec["name"] == legacyIndexName {
			if _, err := s.target.Indexes().DropOne(ctx, legacyIndexName); err != nil {
				return wrapErr("drop legacy index", err)
			}
			s.logger.Warn("dropped legacy unique index", "index", legacyIndexName)
		}
	}

	_, err = s.target.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetName(userIDIndexName),
	})
	if err != nil {
		return wrapErr("create userId index", err)
	}
	s.logger.Debug("mongo index ensured", "collection", s.target.Name(), "index", userIDIndexName)
	return nil
}

func (s *Store) sourceCollection(origin credential.Origin) (*mongo.Collection, error) {
	name, ok := s.collections[origin]
	if !ok || name == "" {
		return nil, fmt.Errorf("no source collection configured for origin %q", origin)
	}
	return s.source.Collection(name), nil
}
