package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// ErrUserNotFound is returned for users that never registered.
var ErrUserNotFound = errors.New("user not found")

// UserRepository is the user directory: chat identity to profile.
type UserRepository interface {
	Upsert(ctx context.Context, profile *domain.Profile) error
	GetByID(ctx context.Context, userID int64) (*domain.Profile, error)
	List(ctx context.Context) ([]domain.Profile, error)
	Count(ctx context.Context) (int, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Upsert(ctx context.Context, profile *domain.Profile) error {
	const query = `
        INSERT INTO users (telegram_id, full_name, module, registered_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (telegram_id) DO UPDATE
            SET full_name=EXCLUDED.full_name, module=EXCLUDED.module,
                registered_at=NOW(), updated_at=NOW()
        RETURNING registered_at`

	return r.pool.QueryRow(ctx, query,
		profile.UserID,
		profile.Name,
		profile.Module,
	).Scan(&profile.RegisteredAt)
}

func (r *userRepository) GetByID(ctx context.Context, userID int64) (*domain.Profile, error) {
	const query = `
        SELECT telegram_id, full_name, module, registered_at
        FROM users WHERE telegram_id=$1`

	var profile domain.Profile
	if err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Name,
		&profile.Module,
		&profile.RegisteredAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &profile, nil
}

func (r *userRepository) List(ctx context.Context) ([]domain.Profile, error) {
	const query = `
        SELECT telegram_id, full_name, module, registered_at
        FROM users ORDER BY registered_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Profile
	for rows.Next() {
		var profile domain.Profile
		if err := rows.Scan(
			&profile.UserID,
			&profile.Name,
			&profile.Module,
			&profile.RegisteredAt,
		); err != nil {
			return nil, err
		}
		result = append(result, profile)
	}
	return result, rows.Err()
}

func (r *userRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// fileUserRepository keeps profiles in a JSON document keyed by user ID.
type fileUserRepository struct {
	path  string
	mu    sync.RWMutex
	users map[int64]domain.Profile
	now   func() time.Time
}

// NewFileUserRepository loads the profiles at path. An empty path keeps
// them in memory only.
func NewFileUserRepository(path string) (UserRepository, error) {
	r := &fileUserRepository{
		path:  strings.TrimSpace(path),
		users: map[int64]domain.Profile{},
		now:   time.Now,
	}
	if r.path == "" {
		return r, nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("load users: %w", err)
	}
	if err := json.Unmarshal(data, &r.users); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return r, nil
}

func (r *fileUserRepository) Upsert(ctx context.Context, profile *domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	profile.RegisteredAt = r.now().UTC()
	next := make(map[int64]domain.Profile, len(r.users)+1)
	for id, p := range r.users {
		next[id] = p
	}
	next[profile.UserID] = *profile

	if r.path != "" {
		data, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return err
		}
		if err := writeFileAtomic(r.path, data); err != nil {
			return fmt.Errorf("persist users: %w", err)
		}
	}
	r.users = next
	return nil
}

func (r *fileUserRepository) GetByID(ctx context.Context, userID int64) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &profile, nil
}

func (r *fileUserRepository) List(ctx context.Context) ([]domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	result := make([]domain.Profile, 0, len(r.users))
	for _, profile := range r.users {
		result = append(result, profile)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].RegisteredAt.Equal(result[j].RegisteredAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].RegisteredAt.Before(result[j].RegisteredAt)
	})
	return result, nil
}

func (r *fileUserRepository) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}
