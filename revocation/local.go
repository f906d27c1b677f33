package revocation

import (
	"context"
	"sync"
	"time"
)

// Local keeps revocation entries in-process (default). Expiry is enforced
// lazily on read and, when a sweep interval is configured, proactively by a
// background sweep so the map does not grow with long-lived traffic.
type Local struct {
	mu      sync.RWMutex
	entries map[string]time.Time // jti -> expiresAt

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

var _ Backend = (*Local)(nil)

func NewLocal(sweepInterval time.Duration) *Local {
	s := &Local{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		s.ticker = time.NewTicker(sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Add(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[jti]; ok && exp.After(now) {
		return false, nil
	}
	s.entries[jti] = expiresAt
	return true, nil
}

func (s *Local) Contains(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	exp, ok := s.entries[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	// lazy expiry: never report a jti as revoked past the token's own life
	if !exp.After(s.now()) {
		s.mu.Lock()
		if cur, ok := s.entries[jti]; ok && !cur.After(s.now()) {
			delete(s.entries, jti)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *Local) sweep() {
	now := s.now()
	s.mu.Lock()
	for jti, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, jti)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	if s.stopCh != nil {
		close(s.stopCh)
		if s.ticker != nil {
			s.ticker.Stop() // stop ticker before waiting
		}
		s.wg.Wait()
		s.stopCh = nil
	}
	return nil
}
