package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newRedisBackend(t *testing.T, mr *miniredis.Miniredis, ns string) *Redis {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b, err := NewRedis(RedisConfig{Client: client, Namespace: ns, CloseClient: true})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func TestRedisAddIsConditional(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRedisBackend(t, mr, "auth:test")

	exp := time.Now().Add(time.Hour)
	if won, err := b.Add(ctx, "j1", exp); err != nil || !won {
		t.Fatalf("first Add: won=%v err=%v", won, err)
	}
	if won, err := b.Add(ctx, "j1", exp); err != nil || won {
		t.Fatalf("second Add must lose: won=%v err=%v", won, err)
	}
	if revoked, err := b.Contains(ctx, "j1"); err != nil || !revoked {
		t.Fatalf("Contains: revoked=%v err=%v", revoked, err)
	}
	if revoked, _ := b.Contains(ctx, "other"); revoked {
		t.Fatal("unknown jti reported as revoked")
	}
}

func TestRedisEntryExpiresWithToken(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRedisBackend(t, mr, "auth:test")

	if won, err := b.Add(ctx, "j1", time.Now().Add(time.Minute)); err != nil || !won {
		t.Fatalf("Add: won=%v err=%v", won, err)
	}
	mr.FastForward(2 * time.Minute)
	if revoked, err := b.Contains(ctx, "j1"); err != nil || revoked {
		t.Fatalf("entry outlived the token: revoked=%v err=%v", revoked, err)
	}
	// and the slot is insertable again
	if won, err := b.Add(ctx, "j1", time.Now().Add(time.Hour)); err != nil || !won {
		t.Fatalf("re-Add: won=%v err=%v", won, err)
	}
}

func TestRedisAlreadyExpiredIsNoop(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRedisBackend(t, mr, "auth:test")

	if won, err := b.Add(ctx, "j1", time.Now().Add(-time.Minute)); err != nil || !won {
		t.Fatalf("Add: won=%v err=%v", won, err)
	}
	if mr.Exists("revoked:auth:test:j1") {
		t.Fatal("expired jti written to redis")
	}
}

func TestRedisNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newRedisBackend(t, mr, "auth:a")
	b := newRedisBackend(t, mr, "auth:b")

	if _, err := a.Add(ctx, "j1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if revoked, _ := a.Contains(ctx, "j1"); !revoked {
		t.Fatal("entry missing in its own namespace")
	}
	if revoked, _ := b.Contains(ctx, "j1"); revoked {
		t.Fatal("entry leaked across namespaces")
	}
}

func TestStoreOverRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b := newRedisBackend(t, mr, "auth:test")
	s, err := NewStore(StoreOptions{Backend: b})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if won, err := s.Add(ctx, "j1", time.Now().Add(time.Hour)); err != nil || !won {
		t.Fatalf("Add: won=%v err=%v", won, err)
	}
	if revoked, err := s.Contains(ctx, "j1"); err != nil || !revoked {
		t.Fatalf("Contains: revoked=%v err=%v", revoked, err)
	}
}
