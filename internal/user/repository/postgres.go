package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"afyalog/internal/user"
)

type PostgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	query := `INSERT INTO users (email, phone, full_name, password, is_admin, created_at)
	          VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query, u.Email, u.Phone, u.FullName, u.Password, u.IsAdmin).
		Scan(&u.ID, &u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return user.ErrUserExists
	}
	return errors.Wrap(err, "create user")
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `SELECT id, email, phone, full_name, password, is_admin, created_at
	                      FROM users WHERE lower(email) = $1`, strings.ToLower(email))
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx, `SELECT id, email, phone, full_name, password, is_admin, created_at
	                      FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg interface{}) (*user.User, error) {
	u := &user.User{}
	if err := r.db.GetContext(ctx, u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return u, nil
}
