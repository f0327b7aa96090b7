package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenGeneratorLengthAndUniqueness(t *testing.T) {
	gen := NewTokenGenerator(defaultInvitationTokenLength)

	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		token, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, token, defaultInvitationTokenLength)
		require.Regexp(t, `^[A-Za-z0-9_-]+$`, token)
		_, dup := seen[token]
		require.False(t, dup)
		seen[token] = struct{}{}
	}
}

func TestTokenGeneratorEnforcesMinimumLength(t *testing.T) {
	token, err := NewTokenGenerator(8).Generate()
	require.NoError(t, err)
	require.Len(t, token, minInvitationTokenLength)
}
