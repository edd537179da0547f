package hash

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is where bcrypt stops reading input.
const MaxPasswordBytes = 72

var ErrPasswordTooLong = errors.New("password longer than 72 bytes")

// HashPassword hashes with bcrypt.DefaultCost.
func HashPassword(p string) (string, error) {
	return HashPasswordWithCost(p, bcrypt.DefaultCost)
}

// HashPasswordWithCost rejects passwords bcrypt would silently truncate.
func HashPasswordWithCost(p string, cost int) (string, error) {
	if len(p) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	if err := ValidateCost(cost); err != nil {
		return "", err
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(p), cost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt")
	}
	return string(bytes), nil
}

func ValidateCost(cost int) error {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return errors.Errorf("bcrypt cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func CheckPassword(hashed, plain string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
