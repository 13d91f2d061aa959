package sharing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const tokenBytes = 32

// TokenLength is the encoded length of an issued token.
var TokenLength = base64.RawURLEncoding.EncodedLen(tokenBytes)

type tokenChecker interface {
	TokenExists(ctx context.Context, token string) (bool, error)
}

// TokenIssuer draws share tokens from a random source and rejects ones
// that are already persisted.
type TokenIssuer struct {
	random io.Reader
	links  tokenChecker
}

// NewTokenIssuer uses crypto/rand when random is nil.
func NewTokenIssuer(random io.Reader, links tokenChecker) *TokenIssuer {
	if random == nil {
		random = rand.Reader
	}
	return &TokenIssuer{random: random, links: links}
}

// Issue returns a fresh token, or errTokenCollision when the drawn token is
// already in use. The storage unique constraint remains the final guard.
func (i *TokenIssuer) Issue(ctx context.Context) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	exists, err := i.links.TokenExists(ctx, token)
	if err != nil {
		return "", err
	}
	if exists {
		return "", errTokenCollision
	}
	return token, nil
}

// ValidTokenFormat checks length and the base64url alphabet.
func ValidTokenFormat(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for _, r := range token {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
