package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseTokenInfo extracts the identity claims from a raw ID token.
//
// The signature is NOT verified: the token was received directly from the
// token endpoint over TLS and the result is for display and local checks
// only. Never use TokenInfo for authorization decisions on a server.
func ParseTokenInfo(rawIDToken string) (*TokenInfo, error) {
	if rawIDToken == "" {
		return nil, fmt.Errorf("empty id token")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(rawIDToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token: %w", err)
	}

	info := &TokenInfo{Claims: map[string]any(claims)}
	info.Issuer, _ = claims.GetIssuer()
	info.Subject, _ = claims.GetSubject()
	if aud, err := claims.GetAudience(); err == nil {
		info.Audience = []string(aud)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	info.Email, _ = claims["email"].(string)
	info.Name, _ = claims["name"].(string)

	return info, nil
}
