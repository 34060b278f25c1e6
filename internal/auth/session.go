package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marketx/exchange/internal/model"
)

// ErrSessionNotFound is returned for unknown or expired tokens.
var ErrSessionNotFound = errors.New("auth: session not found")

// Identity is the caller's resolved identity, passed explicitly to
// every core operation. There is no ambient "current user" state.
type Identity struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool { return id.Role == model.RoleAdmin }

// Sessions maps opaque bearer tokens to identities with a TTL.
type Sessions interface {
	Create(ctx context.Context, id Identity) (token string, err error)
	Get(ctx context.Context, token string) (Identity, error)
	Delete(ctx context.Context, token string) error
}

// RedisSessions stores sessions in Redis so they survive restarts and
// are shared across instances.
type RedisSessions struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSessions creates a Redis-backed session store.
func NewRedisSessions(rdb *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

func sessionKey(token string) string { return fmt.Sprintf("session:%s", token) }

func (s *RedisSessions) Create(ctx context.Context, id Identity) (string, error) {
	token := uuid.New().String()
	data, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, sessionKey(token), data, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisSessions) Get(ctx context.Context, token string) (Identity, error) {
	data, err := s.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrSessionNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, ErrSessionNotFound
	}
	return id, nil
}

func (s *RedisSessions) Delete(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, sessionKey(token)).Err()
}

// MemorySessions is an in-process session store for testing and
// single-instance development.
type MemorySessions struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]memorySession
}

type memorySession struct {
	identity Identity
	expires  time.Time
}

// NewMemorySessions creates an in-memory session store.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{ttl: ttl, data: make(map[string]memorySession)}
}

func (s *MemorySessions) Create(_ context.Context, id Identity) (string, error) {
	token := uuid.New().String()
	s.mu.Lock()
	s.data[token] = memorySession{identity: id, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *MemorySessions) Get(_ context.Context, token string) (Identity, error) {
	s.mu.RLock()
	sess, ok := s.data[token]
	s.mu.RUnlock()
	if !ok || time.Now().After(sess.expires) {
		return Identity{}, ErrSessionNotFound
	}
	return sess.identity, nil
}

func (s *MemorySessions) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
	return nil
}
