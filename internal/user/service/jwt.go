package service

import (
	"time"

	"afyalog/internal/user"
	"afyalog/pkg/jwt"
)

type JWTManager struct {
	SecretKey string
	TTL       time.Duration
}

func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{
		SecretKey: secret,
		TTL:       30 * 24 * time.Hour, // 30 дней
	}
}

func (j *JWTManager) Generate(u *user.User) (string, error) {
	return jwt.GenerateToken(j.SecretKey, u.ID, u.Email, u.IsAdmin, j.TTL)
}
