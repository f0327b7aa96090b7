package services

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultInvitationTokenLength = 43
	minInvitationTokenLength     = 32
)

// TokenGenerator produces unguessable invitation tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// TokenGeneratorFunc adapts a function to TokenGenerator.
type TokenGeneratorFunc func() (string, error)

// Generate calls f.
func (f TokenGeneratorFunc) Generate() (string, error) {
	return f()
}

type nanoidGenerator struct {
	length int
}

// NewTokenGenerator returns a generator of URL-safe nanoid tokens. Lengths below 32 are raised to 32.
func NewTokenGenerator(length int) TokenGenerator {
	if length < minInvitationTokenLength {
		length = minInvitationTokenLength
	}
	return nanoidGenerator{length: length}
}

func (g nanoidGenerator) Generate() (string, error) {
	token, err := gonanoid.New(g.length)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}
