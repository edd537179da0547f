package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"afyalog/internal/subscription"
	"afyalog/internal/user"
	"afyalog/pkg/hash"
)

var ErrInvalidCreds = errors.New("invalid credentials")

// Provisioner creates the free subscription record of a new account.
type Provisioner interface {
	Provision(ctx context.Context, userID int64) (*subscription.Record, error)
}

type UserService struct {
	repo        user.Repository
	provisioner Provisioner
	hashCost    int
}

type Option func(*UserService)

// WithHashCost sets the bcrypt cost for new password hashes.
func WithHashCost(cost int) Option {
	return func(s *UserService) { s.hashCost = cost }
}

func NewUserService(repo user.Repository, provisioner Provisioner, opts ...Option) *UserService {
	s := &UserService{repo: repo, provisioner: provisioner, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email    string
	Phone    string
	FullName string
	Password string
}

// Register creates the account and its free subscription record.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	u, err := s.CreateAccount(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.provisioner != nil {
		if _, err := s.provisioner.Provision(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// CreateAccount only writes the user row. Callers that grant a paid tier
// straight away provision the subscription themselves.
func (s *UserService) CreateAccount(ctx context.Context, in RegisterInput) (*user.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, user.ErrUserExists
	}

	hashed, err := hash.HashPasswordWithCost(in.Password, s.hashCost)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		Email:    email,
		Phone:    in.Phone,
		FullName: in.FullName,
		Password: hashed,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, ErrInvalidCreds
	}
	if !hash.CheckPassword(u.Password, password) {
		return nil, ErrInvalidCreds
	}
	return u, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) EmailTaken(ctx context.Context, email string) (bool, error) {
	_, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, user.ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}
