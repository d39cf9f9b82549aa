package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// SessionRepository stores the dialogue state of each chat user. A user
// without a stored session is idle.
type SessionRepository interface {
	Get(ctx context.Context, userID int64) (domain.Session, error)
	Save(ctx context.Context, userID int64, session domain.Session) error
	Reset(ctx context.Context, userID int64) error
}

const sessionKeyPrefix = "intake:session:"

type redisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionRepository keeps sessions as JSON values that expire after
// ttl of inactivity. A zero ttl keeps them forever.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) SessionRepository {
	return &redisSessionRepository{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *redisSessionRepository) Get(ctx context.Context, userID int64) (domain.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, nil
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (r *redisSessionRepository) Save(ctx context.Context, userID int64, session domain.Session) error {
	if session.Step == domain.StepIdle {
		return r.Reset(ctx, userID)
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(userID), raw, r.ttl).Err()
}

func (r *redisSessionRepository) Reset(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, sessionKey(userID)).Err()
}

type memorySessionEntry struct {
	session   domain.Session
	expiresAt time.Time
}

type memorySessionRepository struct {
	mu       sync.Mutex
	sessions map[int64]memorySessionEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionRepository keeps sessions in process memory.
func NewMemorySessionRepository(ttl time.Duration) SessionRepository {
	return &memorySessionRepository{
		sessions: map[int64]memorySessionEntry{},
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *memorySessionRepository) Get(_ context.Context, userID int64) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[userID]
	if !ok {
		return domain.Session{}, nil
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.sessions, userID)
		return domain.Session{}, nil
	}
	return entry.session, nil
}

func (r *memorySessionRepository) Save(ctx context.Context, userID int64, session domain.Session) error {
	if session.Step == domain.StepIdle {
		return r.Reset(ctx, userID)
	}
	entry := memorySessionEntry{session: session}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.mu.Lock()
	r.sessions[userID] = entry
	r.mu.Unlock()
	return nil
}

func (r *memorySessionRepository) Reset(_ context.Context, userID int64) error {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
	return nil
}
