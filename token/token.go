package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the two tokens of a pair.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the verified, immutable content of a token. JSON tags keep it
// cacheable through any authcache codec.
type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	Kind      Kind      `json:"kind"`
	ID        string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	NotBefore time.Time `json:"nbf"`
	ExpiresAt time.Time `json:"exp"`
}

// Pair is an access and a refresh token issued together: same subject,
// distinct jtis. Only the refresh token is eligible for rotation.
type Pair struct {
	AccessToken  string
	RefreshToken string
	Access       Claims
	Refresh      Claims
}

// wireClaims is the JWT payload layout.
type wireClaims struct {
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scp,omitempty"`
	Kind   string   `json:"tkn"`
	jwt.RegisteredClaims
}

func claimsFromWire(wc *wireClaims) Claims {
	cl := Claims{
		Subject: wc.Subject,
		Role:    wc.Role,
		Scopes:  wc.Scopes,
		Kind:    Kind(wc.Kind),
		ID:      wc.ID,
	}
	if wc.IssuedAt != nil {
		cl.IssuedAt = wc.IssuedAt.Time
	}
	if wc.NotBefore != nil {
		cl.NotBefore = wc.NotBefore.Time
	}
	if wc.ExpiresAt != nil {
		cl.ExpiresAt = wc.ExpiresAt.Time
	}
	return cl
}
