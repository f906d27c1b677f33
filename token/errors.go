package token

import "errors"

var (
	// ErrInvalidSignature covers bad signatures, unknown kids, and alg
	// confusion attempts.
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired means the token's exp has passed (leeway applied).
	ErrExpired = errors.New("token: expired")
	// ErrNotYetValid means nbf/iat lies in the future (leeway applied).
	ErrNotYetValid = errors.New("token: not yet valid")
	// ErrRevoked means the token's jti is present in the revocation store,
	// including the replay case of rotating the same refresh token twice.
	ErrRevoked = errors.New("token: revoked")
	// ErrWrongKind means a structurally valid token of the other kind was
	// presented (e.g. a refresh token where an access token is expected).
	ErrWrongKind = errors.New("token: wrong kind")
	// ErrMalformedToken covers undecodable tokens and tokens missing
	// required claims.
	ErrMalformedToken = errors.New("token: malformed")
)
