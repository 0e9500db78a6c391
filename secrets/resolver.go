// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

// Package secrets resolves per-workspace supplier API keys. A workspace that
// stores its own key for a supplier is billed by the supplier directly, so
// metering skips the credit hold for those calls.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// KeyResolver answers whether a workspace brings its own key for a supplier.
type KeyResolver interface {
	// HasOwnKey reports whether workspaceID stores a key for supplier.
	// Resolution failures surface as errors; callers decide whether to
	// fail open or closed.
	HasOwnKey(ctx context.Context, workspaceID, supplier string) (bool, error)
	// SupplierKey returns the stored key, or "" when none is stored.
	SupplierKey(ctx context.Context, workspaceID, supplier string) (string, error)
}

type keyCacheEntry struct {
	keys      map[string]string
	expiresAt time.Time
}

// AWSKeyResolver reads workspace supplier keys from AWS Secrets Manager.
// Each workspace has one secret holding a JSON map of supplier name to key.
type AWSKeyResolver struct {
	client *secretsmanager.Client
	prefix string
	cache  map[string]*keyCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
}

// AWSKeyResolverOptions holds options for creating an AWSKeyResolver.
type AWSKeyResolverOptions struct {
	Region string
	// Prefix is the secret name prefix; the workspace ID is appended.
	// Defaults to "quillworks/workspace-keys/".
	Prefix   string
	CacheTTL time.Duration
	// AccessKeyID and SecretAccessKey override the default credential
	// chain when both are set. Used outside AWS-hosted environments.
	AccessKeyID     string
	SecretAccessKey string
}

// NewAWSKeyResolver creates a Secrets Manager backed key resolver.
func NewAWSKeyResolver(ctx context.Context, opts AWSKeyResolverOptions) (*AWSKeyResolver, error) {
	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "quillworks/workspace-keys/"
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSKeyResolver{
		client: secretsmanager.NewFromConfig(cfg),
		prefix: prefix,
		cache:  make(map[string]*keyCacheEntry),
		ttl:    ttl,
	}, nil
}

// HasOwnKey reports whether the workspace stores a non-empty key for supplier.
func (r *AWSKeyResolver) HasOwnKey(ctx context.Context, workspaceID, supplier string) (bool, error) {
	key, err := r.SupplierKey(ctx, workspaceID, supplier)
	if err != nil {
		return false, err
	}
	return key != "", nil
}

// SupplierKey returns the workspace's stored key for supplier, or "".
// A missing workspace secret means no keys are stored, not an error.
func (r *AWSKeyResolver) SupplierKey(ctx context.Context, workspaceID, supplier string) (string, error) {
	keys, err := r.workspaceKeys(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	return keys[supplier], nil
}

// Invalidate drops the cached keys for a workspace. Called after a key is
// added or revoked so the next metered call sees the change.
func (r *AWSKeyResolver) Invalidate(workspaceID string) {
	r.mu.Lock()
	delete(r.cache, workspaceID)
	r.mu.Unlock()
}

func (r *AWSKeyResolver) workspaceKeys(ctx context.Context, workspaceID string) (map[string]string, error) {
	r.mu.RLock()
	entry, ok := r.cache[workspaceID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.keys, nil
	}

	secretID := r.prefix + workspaceID
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})

	var keys map[string]string
	switch {
	case err != nil && isNotFound(err):
		keys = map[string]string{}
	case err != nil:
		return nil, fmt.Errorf("failed to get workspace keys for %s: %w", workspaceID, err)
	case out.SecretString == nil:
		keys = map[string]string{}
	default:
		if err := json.Unmarshal([]byte(*out.SecretString), &keys); err != nil {
			return nil, fmt.Errorf("workspace key secret for %s is not a JSON map: %w", workspaceID, err)
		}
	}

	r.mu.Lock()
	r.cache[workspaceID] = &keyCacheEntry{keys: keys, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return keys, nil
}

func isNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}

// StaticResolver holds supplier keys in memory. Used by tests and local
// development runs without AWS access.
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]map[string]string
}

// NewStaticResolver creates an empty in-memory resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[string]map[string]string)}
}

// SetKey stores a supplier key for a workspace.
func (r *StaticResolver) SetKey(workspaceID, supplier, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys[workspaceID] == nil {
		r.keys[workspaceID] = make(map[string]string)
	}
	r.keys[workspaceID][supplier] = key
}

// HasOwnKey reports whether a key is stored for the workspace and supplier.
func (r *StaticResolver) HasOwnKey(_ context.Context, workspaceID, supplier string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keys[workspaceID][supplier] != "", nil
}

// SupplierKey returns the stored key or "".
func (r *StaticResolver) SupplierKey(_ context.Context, workspaceID, supplier string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keys[workspaceID][supplier], nil
}
