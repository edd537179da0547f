package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChannel(t *testing.T) {
	valid := map[string]string{
		"+254712345678":    "254712345678",
		"254712345678":     "254712345678",
		"0712345678":       "254712345678",
		"712345678":        "254712345678",
		"0112 345-678":     "254112345678",
		" +254 722 000111": "254722000111",
	}
	for in, want := range valid {
		got, err := NormalizeChannel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "abc", "+25471234567", "0212345678", "+1 555 123 4567"} {
		_, err := NormalizeChannel(in)
		assert.ErrorIs(t, err, ErrInvalidChannel, in)
	}
}

func TestSandboxPush(t *testing.T) {
	s := NewSandbox()

	res, err := s.Push(context.Background(), PushRequest{Channel: "0712345678", Reference: "r"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.TrackingID)

	_, err = s.Push(context.Background(), PushRequest{Channel: "nope"})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	pushes := s.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, "254712345678", pushes[0].Channel)
}
