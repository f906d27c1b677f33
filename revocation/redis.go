package revocation

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis shares revocation entries across processes and survives restarts.
// The conditional insert maps to SETNX with a TTL derived from the token's
// own expiry, so entries never outlive the token they revoke and Redis
// handles cleanup by itself.
type Redis struct {
	rdb         goredis.UniversalClient
	ns          string
	closeClient bool
}

var _ Backend = (*Redis)(nil)

type RedisConfig struct {
	Client      goredis.UniversalClient
	Namespace   string // logical namespace to avoid collisions, e.g. "auth:prod"
	CloseClient bool   // set true only if this backend exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("revocation: nil redis client")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("revocation: namespace is required")
	}
	return &Redis{rdb: cfg.Client, ns: cfg.Namespace, closeClient: cfg.CloseClient}, nil
}

func (s *Redis) key(jti string) string { return "revoked:" + s.ns + ":" + jti }

func (s *Redis) Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return true, nil
	}
	return s.rdb.SetNX(ctx, s.key(jti), "1", ttl).Result()
}

func (s *Redis) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying redis client only when this backend owns it.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
