package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"afyalog/internal/user"
)

type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]user.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: make(map[int64]user.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return user.ErrUserExists
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now()
	r.byID[u.ID] = *u
	return nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int64) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}
