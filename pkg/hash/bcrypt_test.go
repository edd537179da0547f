package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordWithCost(t *testing.T) {
	hashed, err := HashPasswordWithCost("secret1", bcrypt.MinCost)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hashed))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, CheckPassword(hashed, "secret1"))
	assert.False(t, CheckPassword(hashed, "secret2"))
	assert.False(t, CheckPassword("not-a-hash", "secret1"))
}

func TestHashPasswordRejectsBadInput(t *testing.T) {
	_, err := HashPasswordWithCost("secret1", bcrypt.MinCost-1)
	assert.Error(t, err)
	_, err = HashPasswordWithCost("secret1", bcrypt.MaxCost+1)
	assert.Error(t, err)

	// 37 two-byte runes fit a 72 character limit but not bcrypt's 72 bytes.
	long := strings.Repeat("ж", 37)
	_, err = HashPasswordWithCost(long, bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = HashPasswordWithCost(strings.Repeat("a", MaxPasswordBytes), bcrypt.MinCost)
	assert.NoError(t, err)
}
