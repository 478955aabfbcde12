// Package secrets maps identities to secret material: per-repository HMAC
// keys and per-org provider tokens. The mapping table yields a reference into
// the secret manager; parsed material is cached in-process. Secret values are
// never logged — cache keys only.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	expirable "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when no secret exists for the identity. Callers on
// the auth path must collapse it into a generic Unauthorized.
var ErrNotFound = errors.New("secret not found")

const (
	cacheSize   = 512
	positiveTTL = time.Hour
	negativeTTL = time.Minute
)

// DynamoAPI is the subset of the DynamoDB client the resolver uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client the resolver uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretMaterial is the JSON payload stored in the secret manager.
type secretMaterial struct {
	HMACKey string `json:"hmac_key"`
	Token   string `json:"token"`
	Type    string `json:"type"`
}

// Resolver resolves and caches secret material. A single in-flight fetch per
// cache key is enforced via singleflight so a cold key cannot fan out to the
// secret store.
type Resolver struct {
	db       DynamoAPI
	sm       SecretsManagerAPI
	table    string
	positive *expirable.LRU[string, secretMaterial]
	negative *expirable.LRU[string, struct{}]
	inflight singleflight.Group
}

// NewResolver creates a Resolver over the mapping table and secret manager.
func NewResolver(db DynamoAPI, sm SecretsManagerAPI, table string) *Resolver {
	return &Resolver{
		db:       db,
		sm:       sm,
		table:    table,
		positive: expirable.NewLRU[string, secretMaterial](cacheSize, nil, positiveTTL),
		negative: expirable.NewLRU[string, struct{}](cacheSize, nil, negativeTTL),
	}
}

// RepoHmacKey returns the HMAC key bytes for a repository identity of the
// form "owner/repo". Missing identities return ErrNotFound (negative-cached).
func (r *Resolver) RepoHmacKey(ctx context.Context, repoID string) ([]byte, error) {
	owner, repo, ok := strings.Cut(repoID, "/")
	if !ok || owner == "" || repo == "" {
		return nil, ErrNotFound
	}

	mat, err := r.resolve(ctx, "SECRET#repo#"+owner+"#"+repo)
	if err != nil {
		return nil, err
	}
	if mat.HMACKey == "" {
		return nil, ErrNotFound
	}
	return []byte(mat.HMACKey), nil
}

// ProviderToken returns the upstream API token for (provider, org), or
// ErrNotFound when none is configured. An empty org resolves the
// provider-wide token.
func (r *Resolver) ProviderToken(ctx context.Context, provider, org string) (string, error) {
	key := "SECRET#" + provider
	if org != "" {
		key += "#" + org
	}

	mat, err := r.resolve(ctx, key)
	if err != nil {
		return "", err
	}
	if mat.Token == "" {
		return "", ErrNotFound
	}
	return mat.Token, nil
}

// Invalidate drops the cached material for a key after an explicit rotate.
func (r *Resolver) Invalidate(key string) {
	r.positive.Remove(key)
	r.negative.Remove(key)
}

func (r *Resolver) resolve(ctx context.Context, key string) (secretMaterial, error) {
	if mat, ok := r.positive.Get(key); ok {
		return mat, nil
	}
	if _, ok := r.negative.Get(key); ok {
		return secretMaterial{}, ErrNotFound
	}

	v, err, _ := r.inflight.Do(key, func() (any, error) {
		mat, err := r.fetch(ctx, key)
		if err == nil {
			r.positive.Add(key, mat)
		} else if errors.Is(err, ErrNotFound) {
			r.negative.Add(key, struct{}{})
		}
		return mat, err
	})
	if err != nil {
		return secretMaterial{}, err
	}
	return v.(secretMaterial), nil
}

// fetch reads the mapping item and dereferences the secret manager entry.
func (r *Resolver) fetch(ctx context.Context, key string) (secretMaterial, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return secretMaterial{}, fmt.Errorf("secrets: mapping lookup failed: %w", err)
	}
	if out.Item == nil {
		return secretMaterial{}, ErrNotFound
	}

	ref, ok := out.Item["secret_ref"].(*types.AttributeValueMemberS)
	if !ok || ref.Value == "" {
		return secretMaterial{}, ErrNotFound
	}

	sv, err := r.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Value),
	})
	if err != nil {
		return secretMaterial{}, fmt.Errorf("secrets: secret fetch failed: %w", err)
	}

	var mat secretMaterial
	if sv.SecretString != nil {
		err = json.Unmarshal([]byte(*sv.SecretString), &mat)
	} else {
		err = json.Unmarshal(sv.SecretBinary, &mat)
	}
	if err != nil {
		return secretMaterial{}, fmt.Errorf("secrets: malformed secret payload: %w", err)
	}
	return mat, nil
}
