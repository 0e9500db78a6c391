// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Collection names in the platform database. The workspace CRUD surface owns
// these collections; limits only reads them.
const (
	subscriptionsCollection = "subscriptions"
	workspacesCollection    = "workspaces"
	agentsCollection        = "agents"
	agentKeysCollection     = "agent_keys"
	channelsCollection      = "channels"
	mcpServersCollection    = "mcp_servers"
	schedulesCollection     = "agent_schedules"
	evalJudgesCollection    = "eval_judges"
)

// MongoDirectory resolves plans and counts metered resources from the
// platform's MongoDB collections. It is the fan-out read path behind
// admission control: workspaces by subscription, then child resources by
// workspace (and by agent for per-agent kinds).
type MongoDirectory struct {
	db *mongo.Database
}

// NewMongoDirectory creates a directory over an existing database handle.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{db: db}
}

// PlanName reads the subscription's plan from the subscriptions collection.
func (d *MongoDirectory) PlanName(ctx context.Context, subscriptionID string) (string, error) {
	var sub struct {
		Plan string `bson:"plan"`
	}
	err := d.db.Collection(subscriptionsCollection).
		FindOne(ctx, bson.M{"_id": subscriptionID}).Decode(&sub)
	if err == mongo.ErrNoDocuments {
		return "", ErrSubscriptionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load subscription %s: %w", subscriptionID, err)
	}
	return sub.Plan, nil
}

// Count recomputes usage of kind under the subscription. No running totals
// are persisted anywhere; this is always a fresh read.
func (d *MongoDirectory) Count(ctx context.Context, subscriptionID string, kind ResourceKind) (int, error) {
	workspaceIDs, err := d.workspaceIDs(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	if len(workspaceIDs) == 0 {
		return 0, nil
	}

	switch kind {
	case ResourceAgentKey:
		return d.countByAgents(ctx, agentKeysCollection, workspaceIDs, false)
	case ResourceChannel:
		return d.countByWorkspace(ctx, channelsCollection, workspaceIDs)
	case ResourceMCPServer:
		return d.countByWorkspace(ctx, mcpServersCollection, workspaceIDs)
	case ResourceAgentSchedule:
		return d.countByAgents(ctx, schedulesCollection, workspaceIDs, true)
	case ResourceEvalJudge:
		return d.countByAgents(ctx, evalJudgesCollection, workspaceIDs, true)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownResourceKind, kind)
	}
}

func (d *MongoDirectory) workspaceIDs(ctx context.Context, subscriptionID string) ([]string, error) {
	cursor, err := d.db.Collection(workspacesCollection).
		Find(ctx, bson.M{"subscription_id": subscriptionID})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces for subscription %s: %w", subscriptionID, err)
	}

	var workspaces []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &workspaces); err != nil {
		return nil, fmt.Errorf("failed to decode workspaces: %w", err)
	}

	ids := make([]string, len(workspaces))
	for i, w := range workspaces {
		ids[i] = w.ID
	}
	return ids, nil
}

func (d *MongoDirectory) countByWorkspace(ctx context.Context, collection string, workspaceIDs []string) (int, error) {
	n, err := d.db.Collection(collection).
		CountDocuments(ctx, bson.M{"workspace_id": bson.M{"$in": workspaceIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return int(n), nil
}

// countByAgents counts agent-owned resources. With perAgentMax it returns
// the largest count held by one agent instead of the sum, which is what the
// per-agent caps compare against.
func (d *MongoDirectory) countByAgents(ctx context.Context, collection string, workspaceIDs []string, perAgentMax bool) (int, error) {
	agentCursor, err := d.db.Collection(agentsCollection).
		Find(ctx, bson.M{"workspace_id": bson.M{"$in": workspaceIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to list agents: %w", err)
	}

	var agents []struct {
		ID string `bson:"_id"`
	}
	if err := agentCursor.All(ctx, &agents); err != nil {
		return 0, fmt.Errorf("failed to decode agents: %w", err)
	}
	if len(agents) == 0 {
		return 0, nil
	}

	if !perAgentMax {
		agentIDs := make([]string, len(agents))
		for i, a := range agents {
			agentIDs[i] = a.ID
		}
		n, err := d.db.Collection(collection).
			CountDocuments(ctx, bson.M{"agent_id": bson.M{"$in": agentIDs}})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", collection, err)
		}
		return int(n), nil
	}

	max := 0
	for _, agent := range agents {
		n, err := d.db.Collection(collection).
			CountDocuments(ctx, bson.M{"agent_id": agent.ID})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s for agent %s: %w", collection, agent.ID, err)
		}
		if int(n) > max {
			max = int(n)
		}
	}
	return max, nil
}
