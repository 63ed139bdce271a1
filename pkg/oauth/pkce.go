package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// stateBytes is the number of random bytes for the state and nonce
	// parameters. 32 bytes encodes to 43 base64url characters.
	stateBytes = 32

	// MinVerifierLength and MaxVerifierLength bound the code verifier (RFC 7636 section 4.1).
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// CodeChallengeMethodS256 is the only challenge method this client sends.
	CodeChallengeMethodS256 = "S256"

	unreservedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// NewPKCEContext generates a fresh verifier, challenge, state and nonce for
// one authorization attempt.
func NewPKCEContext(redirectURI string, now time.Time) (*PKCEContext, error) {
	verifier := oauth2.GenerateVerifier()

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	return &PKCEContext{
		CodeVerifier:        verifier,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
		State:               state,
		Nonce:               nonce,
		RedirectURI:         redirectURI,
		CreatedAt:           now,
	}, nil
}

// ValidVerifier reports whether v is a well-formed code verifier.
func ValidVerifier(v string) bool {
	if len(v) < MinVerifierLength || len(v) > MaxVerifierLength {
		return false
	}
	for _, r := range v {
		if !strings.ContainsRune(unreservedChars, r) {
			return false
		}
	}
	return true
}

// GenerateState generates a random state parameter for OAuth.
// The state links the authorization response back to the original request
// and protects the redirect against CSRF.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateNonce generates a random nonce for the OIDC ID token.
func GenerateNonce() (string, error) {
	return GenerateState()
}
