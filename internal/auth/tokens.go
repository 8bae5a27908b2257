package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeep-api/gatekeep/internal/shared"
)

const (
	tokenKeyPrefix     = "token:"
	userTokensPrefix   = "user_tokens:"
	tokenEntropyLength = 32
)

// TokenStore issues and validates opaque bearer tokens backed by Redis.
//
// The raw token is never stored: the Redis key is the SHA-256 of the token,
// so validation is a single lookup and revocation is an immediate delete with
// no blacklist. A per-user index set supports revoking every device at once.
type TokenStore struct {
	client *redis.Client
}

type tokenRecord struct {
	ID       string    `json:"id"`
	UserID   int64     `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Issue mints a new token bound to the user. Multiple tokens per user may
// coexist, one per device or session. Tokens carry no fixed expiry; they live
// until revoked.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, error) {
	raw := make([]byte, tokenEntropyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	record := tokenRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		IssuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	key := tokenKeyPrefix + hashToken(token)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.SAdd(ctx, userTokensKey(userID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// Validate resolves a presented token to the owning user. A missing record
// means the token was never issued or has been revoked.
func (s *TokenStore) Validate(ctx context.Context, token string) (*shared.Identity, error) {
	if token == "" {
		return nil, shared.ErrUnauthenticated
	}
	key := tokenKeyPrefix + hashToken(token)
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrUnauthenticated
		}
		return nil, err
	}
	var record tokenRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, shared.ErrUnauthenticated
	}
	return &shared.Identity{UserID: record.UserID, TokenID: key}, nil
}

// Revoke deletes a single token by its storage key ("logout"). Other tokens
// for the same user remain valid.
func (s *TokenStore) Revoke(ctx context.Context, userID int64, tokenID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tokenID)
	pipe.SRem(ctx, userTokensKey(userID), tokenID)
	_, err := pipe.Exec(ctx)
	return err
}

// RevokeAll deletes every token for the user ("logout all devices").
func (s *TokenStore) RevokeAll(ctx context.Context, userID int64) error {
	indexKey := userTokensKey(userID)
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys = append(keys, indexKey)
	return s.client.Del(ctx, keys...).Err()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func userTokensKey(userID int64) string {
	return userTokensPrefix + formatUserID(userID)
}
