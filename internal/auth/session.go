package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession — сессии с таким идентификатором нет или она истекла.
var ErrNoSession = errors.New("auth: no session")

// Session — то, что внешняя система входа кладёт в хранилище сессий.
type Session struct {
	UserID int64  `json:"userId"`
	Admin  bool   `json:"admin"`
	Levels Levels `json:"levels"`
	Groups []int  `json:"groups"`
}

type SessionStore interface {
	Session(ctx context.Context, id string) (*Session, error)
}

// RedisSessions читает JSON сессии из ключа <prefix><id>.
type RedisSessions struct {
	client *redis.Client
	prefix string
}

func NewRedisSessions(client *redis.Client, prefix string) *RedisSessions {
	if prefix == "" {
		prefix = "hlgate:session:"
	}
	return &RedisSessions{client: client, prefix: prefix}
}

func (s *RedisSessions) Session(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("auth: session lookup: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("auth: broken session %s: %w", id, err)
	}
	if sess.UserID <= 0 {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Put — запись сессии с TTL (для стенда и тестов; в проде пишет система входа).
func (s *RedisSessions) Put(ctx context.Context, id string, sess Session, ttl time.Duration) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+id, b, ttl).Err()
}

// MemorySessions — сессии в памяти.
type MemorySessions struct {
	mu   sync.RWMutex
	byID map[string]Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{byID: make(map[string]Session)}
}

func (s *MemorySessions) Put(id string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = sess
}

func (s *MemorySessions) Session(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrNoSession
	}
	return &sess, nil
}
