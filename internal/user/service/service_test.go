package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"afyalog/internal/user"
	"afyalog/internal/user/repository"
	"afyalog/pkg/hash"
)

func TestCreateAccountUsesHashCost(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryUserRepository()
	s := NewUserService(repo, nil, WithHashCost(bcrypt.MinCost))

	u, err := s.CreateAccount(ctx, RegisterInput{Email: " Kamau@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "kamau@example.com", u.Email)

	cost, err := bcrypt.Cost([]byte(u.Password))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	_, err = s.CreateAccount(ctx, RegisterInput{Email: "kamau@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, user.ErrUserExists)

	got, err := s.Login(ctx, "KAMAU@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Login(ctx, "kamau@example.com", "secret2")
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

func TestCreateAccountRejectsOverlongPassword(t *testing.T) {
	s := NewUserService(repository.NewMemoryUserRepository(), nil, WithHashCost(bcrypt.MinCost))

	_, err := s.CreateAccount(context.Background(), RegisterInput{
		Email:    "wide@example.com",
		Password: strings.Repeat("ж", 40),
	})
	assert.ErrorIs(t, err, hash.ErrPasswordTooLong)

	taken, err := s.EmailTaken(context.Background(), "wide@example.com")
	require.NoError(t, err)
	assert.False(t, taken)
}
