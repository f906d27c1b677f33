package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/authcache"
	"github.com/unkn0wn-root/authcache/revocation"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultVCacheTTL  = 30 * time.Second
	maxLeeway         = 2 * time.Minute
)

// Config tunes the Authority. Keyring and Revocations are required; other
// fields have sensible defaults.
type Config struct {
	AccessTTL     time.Duration // 0 => 15m
	RefreshTTL    time.Duration // 0 => 7d
	SigningMethod SigningMethod // "" => ed25519
	Keyring       Keyring
	Issuer        string
	Leeway        time.Duration // clock-skew tolerance, capped at 2m

	Revocations *revocation.Store

	// Optional validation cache. Entries are tagged "jti:<jti>" and the TTL
	// is capped by the token's remaining life.
	ValidationCache    authcache.Cache[Claims]
	ValidationCacheTTL time.Duration // 0 => 30s

	Now    func() time.Time // injectable clock; nil => time.Now
	Logger authcache.Logger
}

// Authority issues, validates, and rotates token pairs. Safe for concurrent
// use after construction.
type Authority struct {
	cfg     Config
	method  jwt.SigningMethod
	signKid string
	signKey any

	now func() time.Time
	log authcache.Logger
}

func NewAuthority(cfg Config) (*Authority, error) {
	if cfg.Keyring == nil {
		return nil, errors.New("token: keyring is required")
	}
	if cfg.Revocations == nil {
		return nil, errors.New("token: revocation store is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, errors.New("token: invalid leeway configuration")
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token: invalid TTL configuration")
	}
	cfg.AccessTTL = coalesceDur(cfg.AccessTTL, defaultAccessTTL)
	cfg.RefreshTTL = coalesceDur(cfg.RefreshTTL, defaultRefreshTTL)
	cfg.ValidationCacheTTL = coalesceDur(cfg.ValidationCacheTTL, defaultVCacheTTL)
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodEd25519
	}

	a := &Authority{cfg: cfg}

	switch cfg.SigningMethod {
	case MethodHS256:
		a.method = jwt.SigningMethodHS256
	case MethodEd25519:
		a.method = jwt.SigningMethodEdDSA
	default:
		return nil, errors.New("token: unsupported signing method")
	}

	kid, raw := cfg.Keyring.Signer()
	if kid == "" || len(raw) == 0 {
		return nil, errors.New("token: keyring must provide a signing kid and key")
	}
	signKey, err := a.parseSignKey(raw)
	if err != nil {
		return nil, err
	}
	a.signKid = kid
	a.signKey = signKey
	// tokens we issue must be verifiable with our own ring
	if _, ok := cfg.Keyring.Verifier(kid); !ok {
		return nil, fmt.Errorf("token: signing kid %q is absent from the verify ring", kid)
	}

	a.now = cfg.Now
	if a.now == nil {
		a.now = time.Now
	}
	a.log = cfg.Logger
	if a.log == nil {
		a.log = authcache.NopLogger{}
	}
	return a, nil
}

// Issue constructs a fresh pair for subject. Pure construction: no
// revocation writes, no I/O beyond signing.
func (a *Authority) Issue(subject, role string, scopes []string) (Pair, error) {
	if subject == "" {
		return Pair{}, errors.New("token: empty subject")
	}
	now := a.now()

	access, acl, err := a.sign(subject, role, scopes, KindAccess, now, a.cfg.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, rcl, err := a.sign(subject, role, scopes, KindRefresh, now, a.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		Access:       acl,
		Refresh:      rcl,
	}, nil
}

// Validate verifies signature, claims, kind, and revocation state for
// tokenString. It is a pure read. With a validation cache attached, hot
// tokens skip the repeated signature/revocation work; negative results are
// never cached.
func (a *Authority) Validate(ctx context.Context, tokenString string, kind Kind) (Claims, error) {
	if a.cfg.ValidationCache == nil {
		return a.validate(ctx, tokenString, kind)
	}

	jti, exp, err := a.peekUnverified(tokenString)
	if err != nil || jti == "" {
		// undecodable tokens go through the uncached path for a precise error
		return a.validate(ctx, tokenString, kind)
	}
	ttl := a.cfg.ValidationCacheTTL
	if remaining := exp.Sub(a.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return a.validate(ctx, tokenString, kind)
	}

	return a.cfg.ValidationCache.GetOrPopulate(ctx, cacheKey(kind, tokenString), ttl,
		[]string{jtiTag(jti)},
		func(ctx context.Context) (Claims, error) {
			return a.validate(ctx, tokenString, kind)
		})
}

// Rotate consumes refreshTokenString and issues a new pair for the same
// subject. The conditional revocation insert makes concurrent rotations of
// the same token race to a single winner; losers observe ErrRevoked. If the
// revocation write fails nothing is issued, and if issuance fails after a
// successful write the caller is left logged out - fail-closed either way.
func (a *Authority) Rotate(ctx context.Context, refreshTokenString string) (Pair, error) {
	cl, err := a.validate(ctx, refreshTokenString, KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	won, err := a.cfg.Revocations.Add(ctx, cl.ID, a.revocationDeadline(cl.ExpiresAt))
	if err != nil {
		return Pair{}, err
	}
	if !won {
		a.log.Warn("refresh token replay detected", authcache.Fields{"jti": cl.ID, "sub": cl.Subject})
		return Pair{}, ErrRevoked
	}
	a.evictCached(ctx, cl.ID)
	return a.Issue(cl.Subject, cl.Role, cl.Scopes)
}

// Revoke idempotently revokes tokenString (either kind) for the remainder
// of its life; used for logout. Revoking an already-expired token is a
// no-op. Cached validations for the jti are evicted immediately.
func (a *Authority) Revoke(ctx context.Context, tokenString string) error {
	cl, err := a.parseForRevoke(tokenString)
	if err != nil {
		return err
	}
	if cl == nil {
		return nil // already expired; dead on its own
	}
	if _, err := a.cfg.Revocations.Add(ctx, cl.ID, a.revocationDeadline(cl.ExpiresAt.Time)); err != nil {
		return err
	}
	a.evictCached(ctx, cl.ID)
	return nil
}

func (a *Authority) sign(subject, role string, scopes []string, kind Kind, now time.Time, ttl time.Duration) (string, Claims, error) {
	wc := &wireClaims{
		Role:   role,
		Scopes: scopes,
		Kind:   string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(a.method, wc)
	t.Header["kid"] = a.signKid
	signed, err := t.SignedString(a.signKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claimsFromWire(wc), nil
}

func (a *Authority) validate(ctx context.Context, tokenString string, kind Kind) (Claims, error) {
	wc := &wireClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.method.Alg()}),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithTimeFunc(a.now),
		jwt.WithIssuedAt(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, wc, a.keyfunc)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if !tok.Valid || wc.ID == "" || wc.Subject == "" {
		return Claims{}, ErrMalformedToken
	}
	if Kind(wc.Kind) != kind {
		return Claims{}, ErrWrongKind
	}

	revoked, err := a.cfg.Revocations.Contains(ctx, wc.ID)
	if err != nil {
		return Claims{}, err // revocation.ErrUnavailable: fail closed
	}
	if revoked {
		return Claims{}, ErrRevoked
	}
	return claimsFromWire(wc), nil
}

// parseForRevoke verifies the signature but tolerates expiry; it returns
// (nil, nil) for expired tokens.
func (a *Authority) parseForRevoke(tokenString string) (*wireClaims, error) {
	wc := &wireClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.method.Alg()}),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithTimeFunc(a.now),
	}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, wc, a.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil
		}
		return nil, mapJWTError(err)
	}
	if wc.ID == "" || wc.ExpiresAt == nil {
		return nil, ErrMalformedToken
	}
	return wc, nil
}

// revocationDeadline extends a token's expiry by the configured leeway, so
// the revocation entry outlives every instant at which validation would
// still accept the token. Without it a token revoked inside the leeway
// window would slip past the store's expired-insert clamp and keep
// validating until the leeway ran out.
func (a *Authority) revocationDeadline(exp time.Time) time.Time {
	return exp.Add(a.cfg.Leeway)
}

func (a *Authority) keyfunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	raw, ok := a.cfg.Keyring.Verifier(kid)
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return a.parseVerifyKey(raw)
}

// peekUnverified extracts jti and expiry without verifying the signature,
// only to derive the cache key and TTL cap. Verification always happens
// inside the populate step.
func (a *Authority) peekUnverified(tokenString string) (string, time.Time, error) {
	wc := &wireClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, wc); err != nil {
		return "", time.Time{}, err
	}
	var exp time.Time
	if wc.ExpiresAt != nil {
		exp = wc.ExpiresAt.Time
	}
	return wc.ID, exp, nil
}

func (a *Authority) evictCached(ctx context.Context, jti string) {
	if a.cfg.ValidationCache == nil {
		return
	}
	if err := a.cfg.ValidationCache.InvalidateByTag(ctx, jtiTag(jti)); err != nil {
		a.log.Warn("validation cache eviction failed", authcache.Fields{"jti": jti, "err": err})
	}
}

func (a *Authority) parseSignKey(raw []byte) (any, error) {
	switch a.cfg.SigningMethod {
	case MethodHS256:
		return raw, nil
	default:
		return parseEdPrivateKey(raw)
	}
}

func (a *Authority) parseVerifyKey(raw []byte) (any, error) {
	switch a.cfg.SigningMethod {
	case MethodHS256:
		return raw, nil
	default:
		return parseEdPublicKey(raw)
	}
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	default:
		return ErrMalformedToken
	}
}

func jtiTag(jti string) string { return "jti:" + jti }

// cacheKey hashes kind+token so the same string validated as a different
// kind never aliases a cached result.
func cacheKey(kind Kind, tokenString string) string {
	sum := sha256.Sum256([]byte(string(kind) + ":" + tokenString))
	return hex.EncodeToString(sum[:])
}

func coalesceDur(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
