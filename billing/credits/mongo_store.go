// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	balancesCollection     = "workspace_balances"
	reservationsCollection = "credit_reservations"

	mongoConnectTimeout = 10 * time.Second
	mongoMaxPoolSize    = 100
	mongoMinPoolSize    = 10
)

// MongoStore implements Store on MongoDB. The conditional update is a
// ReplaceOne filtered on {_id, version}: a concurrent writer bumps the
// version first, the filter matches nothing, and the attempt is retried
// against a fresh read.
type MongoStore struct {
	client       *mongo.Client
	balances     *mongo.Collection
	reservations *mongo.Collection
	logger       *log.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(mongoMaxPoolSize).
		SetMinPoolSize(mongoMinPoolSize).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetAppName("Quillworks-Credits")

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client:       client,
		balances:     db.Collection(balancesCollection),
		reservations: db.Collection(reservationsCollection),
		logger:       log.New(os.Stdout, "[CREDITS_MONGO] ", log.LstdFlags),
	}

	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	store.logger.Printf("Connected to MongoDB (database=%s)", database)
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	// The sweeper scans reservations by expiry.
	_, err := s.reservations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create reservation expiry index: %w", err)
	}
	return nil
}

// Database exposes the connected database so sibling packages can open
// their own collections on the same client.
func (s *MongoStore) Database() *mongo.Database {
	return s.balances.Database()
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies the connection for health checks.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// GetBalance returns the balance record for a workspace.
func (s *MongoStore) GetBalance(ctx context.Context, workspaceID string) (WorkspaceBalance, error) {
	var balance WorkspaceBalance
	err := s.balances.FindOne(ctx, bson.M{"_id": workspaceID}).Decode(&balance)
	if err == mongo.ErrNoDocuments {
		return WorkspaceBalance{}, ErrWorkspaceNotFound
	}
	if err != nil {
		return WorkspaceBalance{}, fmt.Errorf("failed to get balance for %s: %w", workspaceID, err)
	}
	return balance, nil
}

// CreateBalance provisions a balance record at version 1.
func (s *MongoStore) CreateBalance(ctx context.Context, balance WorkspaceBalance) error {
	balance.Version = 1
	if balance.UpdatedAt.IsZero() {
		balance.UpdatedAt = time.Now().UTC()
	}

	_, err := s.balances.InsertOne(ctx, balance)
	if mongo.IsDuplicateKeyError(err) {
		return ErrBalanceExists
	}
	if err != nil {
		return fmt.Errorf("failed to create balance for %s: %w", balance.WorkspaceID, err)
	}
	return nil
}

// ConditionalUpdateBalance applies fn under optimistic concurrency with
// bounded retries.
func (s *MongoStore) ConditionalUpdateBalance(ctx context.Context, workspaceID string, fn BalanceUpdateFunc, maxRetries int) (WorkspaceBalance, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return WorkspaceBalance{}, err
		}

		current, err := s.GetBalance(ctx, workspaceID)
		if err != nil {
			return WorkspaceBalance{}, err
		}

		next, err := fn(current)
		if err != nil {
			return WorkspaceBalance{}, err
		}
		next.WorkspaceID = workspaceID
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()

		result, err := s.balances.ReplaceOne(ctx,
			bson.M{"_id": workspaceID, "version": current.Version},
			next,
		)
		if err != nil {
			return WorkspaceBalance{}, fmt.Errorf("failed to update balance for %s: %w", workspaceID, err)
		}
		if result.ModifiedCount == 1 {
			return next, nil
		}

		// Filter matched nothing: another writer advanced the version.
		s.logger.Printf("Stale balance version for %s (attempt %d/%d), retrying", workspaceID, attempt+1, maxRetries+1)
	}
	return WorkspaceBalance{}, ErrConcurrencyExhausted
}

// GetReservation returns a reservation by id.
func (s *MongoStore) GetReservation(ctx context.Context, id string) (CreditReservation, error) {
	var res CreditReservation
	err := s.reservations.FindOne(ctx, bson.M{"_id": id}).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return CreditReservation{}, ErrReservationNotFound
	}
	if err != nil {
		return CreditReservation{}, fmt.Errorf("failed to get reservation %s: %w", id, err)
	}
	return res, nil
}

// CreateReservation stores a reservation record.
func (s *MongoStore) CreateReservation(ctx context.Context, res CreditReservation) error {
	_, err := s.reservations.InsertOne(ctx, res)
	if mongo.IsDuplicateKeyError(err) {
		return ErrReservationExists
	}
	if err != nil {
		return fmt.Errorf("failed to create reservation %s: %w", res.ID, err)
	}
	return nil
}

// DeleteReservation removes a reservation record.
func (s *MongoStore) DeleteReservation(ctx context.Context, id string) error {
	result, err := s.reservations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete reservation %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// ListExpired returns up to limit reservations expired as of asOf, oldest
// first.
func (s *MongoStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]CreditReservation, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "expires", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.reservations.Find(ctx, bson.M{"expires": bson.M{"$lte": asOf}}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer func() {
		if cerr := cursor.Close(ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			s.logger.Printf("Failed to close cursor: %v", cerr)
		}
	}()

	var expired []CreditReservation
	if err := cursor.All(ctx, &expired); err != nil {
		return nil, fmt.Errorf("failed to decode expired reservations: %w", err)
	}
	return expired, nil
}
