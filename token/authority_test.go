package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/authcache"
	"github.com/unkn0wn-root/authcache/codec"
	pr "github.com/unkn0wn-root/authcache/provider"
	"github.com/unkn0wn-root/authcache/revocation"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func hs256Keyring(kid string, secret []byte) *StaticKeyring {
	return &StaticKeyring{
		KeyID:      kid,
		PrivateKey: secret,
		VerifyKeys: map[string][]byte{kid: secret},
	}
}

func newTestAuthority(t *testing.T, mutate func(*Config)) (*Authority, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	rev, err := revocation.NewStore(revocation.StoreOptions{
		Backend: revocation.NewLocal(0),
		Now:     clk.Now,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg := Config{
		SigningMethod: MethodHS256,
		Keyring:       hs256Keyring("k1", testSecret),
		Issuer:        "authcache-test",
		Revocations:   rev,
		Now:           clk.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAuthority(cfg)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return a, clk
}

func issuePair(t *testing.T, a *Authority) Pair {
	t.Helper()
	p, err := a.Issue("user-1", "member", []string{"read"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return p
}

func TestIssueValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	p := issuePair(t, a)

	if p.AccessToken == "" || p.RefreshToken == "" || p.AccessToken == p.RefreshToken {
		t.Fatal("bad pair")
	}
	if p.Access.ID == p.Refresh.ID {
		t.Fatal("access and refresh share a jti")
	}

	cl, err := a.Validate(ctx, p.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("Validate access: %v", err)
	}
	if cl.Subject != "user-1" || cl.Role != "member" || len(cl.Scopes) != 1 || cl.Scopes[0] != "read" {
		t.Fatalf("claims: %+v", cl)
	}
	if cl.Kind != KindAccess || cl.ID != p.Access.ID {
		t.Fatalf("claims identity: %+v", cl)
	}
	if !cl.ExpiresAt.After(cl.IssuedAt) {
		t.Fatalf("expiry %v not after issue %v", cl.ExpiresAt, cl.IssuedAt)
	}

	if cl, err := a.Validate(ctx, p.RefreshToken, KindRefresh); err != nil || cl.Kind != KindRefresh {
		t.Fatalf("Validate refresh: cl=%+v err=%v", cl, err)
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	a, _ := newTestAuthority(t, nil)
	if _, err := a.Issue("", "member", nil); err == nil {
		t.Fatal("empty subject accepted")
	}
}

func TestValidateWrongKind(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	p := issuePair(t, a)

	if _, err := a.Validate(ctx, p.AccessToken, KindRefresh); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("access as refresh: %v", err)
	}
	if _, err := a.Validate(ctx, p.RefreshToken, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("refresh as access: %v", err)
	}
}

func TestValidateExpired(t *testing.T) {
	ctx := context.Background()
	a, clk := newTestAuthority(t, func(c *Config) { c.AccessTTL = time.Minute })
	p := issuePair(t, a)

	clk.Advance(2 * time.Minute)
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// the longer-lived refresh token is still fine
	if _, err := a.Validate(ctx, p.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestLeewayToleratesSkew(t *testing.T) {
	ctx := context.Background()
	a, clk := newTestAuthority(t, func(c *Config) {
		c.AccessTTL = time.Minute
		c.Leeway = 30 * time.Second
	})
	p := issuePair(t, a)

	clk.Advance(time.Minute + 10*time.Second) // past exp, within leeway
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); err != nil {
		t.Fatalf("within leeway: %v", err)
	}
	clk.Advance(30 * time.Second) // past exp+leeway
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("past leeway: %v", err)
	}
}

func TestValidateForeignSignature(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)

	// same kid, different secret: signature must not verify
	b, _ := newTestAuthority(t, func(c *Config) {
		c.Keyring = hs256Keyring("k1", []byte("another-secret-another-secret!!!"))
	})
	p := issuePair(t, b)
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidateUnknownKid(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	b, _ := newTestAuthority(t, func(c *Config) {
		c.Keyring = hs256Keyring("k9", testSecret)
	})
	p := issuePair(t, b)
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for unknown kid, got %v", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	for _, s := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := a.Validate(ctx, s, KindAccess); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%q: %v", s, err)
		}
	}
}

func TestValidateIssuerMismatch(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	b, _ := newTestAuthority(t, func(c *Config) { c.Issuer = "someone-else" })
	p := issuePair(t, b)
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); err == nil {
		t.Fatal("foreign issuer accepted")
	}
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	p1 := issuePair(t, a)

	p2, err := a.Rotate(ctx, p1.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if p2.Refresh.ID == p1.Refresh.ID {
		t.Fatal("rotation reused the refresh jti")
	}
	if p2.Access.Subject != "user-1" || p2.Access.Role != "member" {
		t.Fatalf("rotated claims: %+v", p2.Access)
	}

	// consumed refresh token is dead
	if _, err := a.Validate(ctx, p1.RefreshToken, KindRefresh); !errors.Is(err, ErrRevoked) {
		t.Fatalf("old refresh: %v", err)
	}
	// replaying it is ErrRevoked too
	if _, err := a.Rotate(ctx, p1.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("replay: %v", err)
	}
	// the new pair works
	if _, err := a.Validate(ctx, p2.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("new refresh: %v", err)
	}
	// rotation does not touch the old access token
	if _, err := a.Validate(ctx, p1.AccessToken, KindAccess); err != nil {
		t.Fatalf("old access after rotation: %v", err)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	p := issuePair(t, a)

	const n = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = a.Rotate(ctx, p.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	var winners, revoked int
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRevoked):
			revoked++
		default:
			t.Fatalf("rotation %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 || revoked != n-1 {
		t.Fatalf("winners=%d revoked=%d, want 1/%d", winners, revoked, n-1)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	p := issuePair(t, a)

	if err := a.Revoke(ctx, p.AccessToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrRevoked) {
		t.Fatalf("revoked access: %v", err)
	}
	// idempotent
	if err := a.Revoke(ctx, p.AccessToken); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	// refresh token has its own jti and is unaffected
	if _, err := a.Validate(ctx, p.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("refresh after access revoke: %v", err)
	}
}

func TestRevokeInsideLeewayWindow(t *testing.T) {
	ctx := context.Background()
	a, clk := newTestAuthority(t, func(c *Config) {
		c.AccessTTL = time.Minute
		c.Leeway = 30 * time.Second
	})
	p := issuePair(t, a)

	// past exp but within leeway: the token still validates
	clk.Advance(time.Minute + 10*time.Second)
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); err != nil {
		t.Fatalf("within leeway: %v", err)
	}

	// logout here must take effect immediately, not after the leeway runs out
	if err := a.Revoke(ctx, p.AccessToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrRevoked) {
		t.Fatalf("after revoke: %v", err)
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	ctx := context.Background()
	a, clk := newTestAuthority(t, func(c *Config) { c.AccessTTL = time.Minute })
	p := issuePair(t, a)

	clk.Advance(2 * time.Minute)
	if err := a.Revoke(ctx, p.AccessToken); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
}

func TestRevokeRejectsForeignToken(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	b, _ := newTestAuthority(t, func(c *Config) {
		c.Keyring = hs256Keyring("k1", []byte("another-secret-another-secret!!!"))
	})
	p := issuePair(t, b)
	if err := a.Revoke(ctx, p.AccessToken); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("foreign token revoke: %v", err)
	}
}

func TestRotateBackendUnavailableFailsClosed(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuthority(t, nil)
	p := issuePair(t, a)

	// swap in a store whose backend is down
	rev, _ := revocation.NewStore(revocation.StoreOptions{Backend: downBackend{}})
	b, _ := newTestAuthority(t, func(c *Config) { c.Revocations = rev })

	if _, err := b.Rotate(ctx, p.RefreshToken); !errors.Is(err, revocation.ErrUnavailable) {
		t.Fatalf("Rotate with dead backend: %v", err)
	}
	if _, err := b.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, revocation.ErrUnavailable) {
		t.Fatalf("Validate with dead backend: %v", err)
	}
}

type downBackend struct{}

func (downBackend) Add(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("conn refused")
}
func (downBackend) Contains(context.Context, string) (bool, error) {
	return false, errors.New("conn refused")
}
func (downBackend) Close(context.Context) error { return nil }

func TestKeyRotationValidatesOldTokens(t *testing.T) {
	ctx := context.Background()
	oldSecret := testSecret
	newSecret := []byte("rotated-secret-rotated-secret!!!")

	a, _ := newTestAuthority(t, nil) // signs with k1/oldSecret
	p := issuePair(t, a)

	// after rotation: signs with k2, still verifies k1
	b, _ := newTestAuthority(t, func(c *Config) {
		c.Keyring = &StaticKeyring{
			KeyID:      "k2",
			PrivateKey: newSecret,
			VerifyKeys: map[string][]byte{"k1": oldSecret, "k2": newSecret},
		}
	})
	if _, err := b.Validate(ctx, p.AccessToken, KindAccess); err != nil {
		t.Fatalf("old-key token after rotation: %v", err)
	}
	p2 := issuePair(t, b)
	if _, err := b.Validate(ctx, p2.AccessToken, KindAccess); err != nil {
		t.Fatalf("new-key token: %v", err)
	}
	// the pre-rotation ring does not know k2
	if _, err := a.Validate(ctx, p2.AccessToken, KindAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("new-key token on old ring: %v", err)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	a, _ := newTestAuthority(t, func(c *Config) {
		c.SigningMethod = MethodEd25519
		c.Keyring = &StaticKeyring{
			KeyID:      "ed1",
			PrivateKey: priv,
			VerifyKeys: map[string][]byte{"ed1": pub},
		}
	})
	p := issuePair(t, a)
	if cl, err := a.Validate(ctx, p.AccessToken, KindAccess); err != nil || cl.Subject != "user-1" {
		t.Fatalf("Validate: cl=%+v err=%v", cl, err)
	}
}

func TestNewAuthorityValidation(t *testing.T) {
	rev, _ := revocation.NewStore(revocation.StoreOptions{Backend: revocation.NewLocal(0)})
	base := Config{
		SigningMethod: MethodHS256,
		Keyring:       hs256Keyring("k1", testSecret),
		Revocations:   rev,
	}

	mutations := []func(*Config){
		func(c *Config) { c.Keyring = nil },
		func(c *Config) { c.Revocations = nil },
		func(c *Config) { c.Leeway = 5 * time.Minute },
		func(c *Config) { c.Leeway = -time.Second },
		func(c *Config) { c.AccessTTL = -time.Minute },
		func(c *Config) { c.SigningMethod = "rs512" },
		func(c *Config) { c.Keyring = &StaticKeyring{KeyID: "k1"} },
		func(c *Config) {
			// signing kid absent from the verify ring
			c.Keyring = &StaticKeyring{KeyID: "k1", PrivateKey: testSecret, VerifyKeys: map[string][]byte{"k2": testSecret}}
		},
	}
	for i, m := range mutations {
		cfg := base
		m(&cfg)
		if _, err := NewAuthority(cfg); err == nil {
			t.Fatalf("mutation %d: expected error", i)
		}
	}
}

// validation cache plumbing

type memEntry struct {
	v   []byte
	exp time.Time
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

type countingStore struct {
	inner    revocation.Backend
	contains int
	mu       sync.Mutex
}

func (b *countingStore) Add(ctx context.Context, jti string, exp time.Time) (bool, error) {
	return b.inner.Add(ctx, jti, exp)
}

func (b *countingStore) Contains(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	b.contains++
	b.mu.Unlock()
	return b.inner.Contains(ctx, jti)
}

func (b *countingStore) Close(ctx context.Context) error { return b.inner.Close(ctx) }

func (b *countingStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contains
}

func newCachedAuthority(t *testing.T, counting *countingStore) *Authority {
	t.Helper()
	rev, err := revocation.NewStore(revocation.StoreOptions{Backend: counting})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	vcache, err := authcache.New[Claims](authcache.Options[Claims]{
		Namespace: "token:test",
		Provider:  newMemProvider(),
		Codec:     codec.JSON[Claims]{},
	})
	if err != nil {
		t.Fatalf("New cache: %v", err)
	}
	t.Cleanup(func() { vcache.Close(context.Background()) })

	a, err := NewAuthority(Config{
		SigningMethod:      MethodHS256,
		Keyring:            hs256Keyring("k1", testSecret),
		Revocations:        rev,
		ValidationCache:    vcache,
		ValidationCacheTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return a
}

func TestValidationCacheSkipsRepeatedWork(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: revocation.NewLocal(0)}
	a := newCachedAuthority(t, counting)
	p := issuePair(t, a)

	for i := 0; i < 3; i++ {
		cl, err := a.Validate(ctx, p.AccessToken, KindAccess)
		if err != nil || cl.Subject != "user-1" {
			t.Fatalf("Validate %d: cl=%+v err=%v", i, cl, err)
		}
	}
	if got := counting.count(); got != 1 {
		t.Fatalf("revocation lookups=%d, want 1 (cached)", got)
	}
}

func TestValidationCacheDoesNotAliasKinds(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: revocation.NewLocal(0)}
	a := newCachedAuthority(t, counting)
	p := issuePair(t, a)

	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); err != nil {
		t.Fatalf("as access: %v", err)
	}
	// same string, wrong kind: must not hit the cached positive result
	if _, err := a.Validate(ctx, p.AccessToken, KindRefresh); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("as refresh: %v", err)
	}
}

func TestRevokeEvictsCachedValidation(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: revocation.NewLocal(0)}
	a := newCachedAuthority(t, counting)
	p := issuePair(t, a)

	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if err := a.Revoke(ctx, p.AccessToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// revocation is visible immediately, not after the cache TTL
	if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrRevoked) {
		t.Fatalf("after revoke: %v", err)
	}
}

func TestRotateEvictsCachedRefreshValidation(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: revocation.NewLocal(0)}
	a := newCachedAuthority(t, counting)
	p := issuePair(t, a)

	if _, err := a.Validate(ctx, p.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if _, err := a.Rotate(ctx, p.RefreshToken); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := a.Validate(ctx, p.RefreshToken, KindRefresh); !errors.Is(err, ErrRevoked) {
		t.Fatalf("after rotate: %v", err)
	}
}

func FuzzValidate(f *testing.F) {
	rev, err := revocation.NewStore(revocation.StoreOptions{Backend: revocation.NewLocal(0)})
	if err != nil {
		f.Fatalf("NewStore: %v", err)
	}
	a, err := NewAuthority(Config{
		SigningMethod: MethodHS256,
		Keyring:       hs256Keyring("k1", testSecret),
		Revocations:   rev,
	})
	if err != nil {
		f.Fatalf("NewAuthority: %v", err)
	}
	p, err := a.Issue("user-1", "member", []string{"read"})
	if err != nil {
		f.Fatalf("Issue: %v", err)
	}
	f.Add(p.AccessToken)
	f.Add("")
	f.Add("a.b.c")
	f.Add(p.AccessToken[:len(p.AccessToken)/2])

	ctx := context.Background()
	f.Fuzz(func(t *testing.T, s string) {
		// must never panic; valid claims imply an intact token
		cl, err := a.Validate(ctx, s, KindAccess)
		if err == nil && (cl.Subject == "" || cl.ID == "") {
			t.Fatalf("valid result with empty identity: %+v", cl)
		}
	})
}

func TestValidationCacheNeverCachesNegatives(t *testing.T) {
	ctx := context.Background()
	a := newCachedAuthority(t, &countingStore{inner: revocation.NewLocal(0)})
	b, _ := newTestAuthority(t, func(c *Config) {
		c.Keyring = hs256Keyring("k1", []byte("another-secret-another-secret!!!"))
	})
	p := issuePair(t, b)

	for i := 0; i < 2; i++ {
		if _, err := a.Validate(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
}
