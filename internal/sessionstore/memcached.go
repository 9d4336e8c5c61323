package sessionstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "session:revoked:"

// maxRelativeExpiration is the largest expiration memcached treats as relative (30 days).
const maxRelativeExpiration = 30 * 24 * time.Hour

// MemcachedStore implements Store using memcached so revocations are shared across replicas.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Revoke implements Store.Revoke.
func (s *MemcachedStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(&memcache.Item{
		Key:        keyPrefix + id,
		Value:      []byte{1},
		Expiration: expirationSeconds(ttl),
	})
}

// IsRevoked implements Store.IsRevoked. A cache miss means not revoked.
func (s *MemcachedStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.client.Get(keyPrefix + id)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// expirationSeconds converts ttl to memcached's expiration field. Values beyond 30 days
// are sent as an absolute unix time, which memcached expects for long expirations.
func expirationSeconds(ttl time.Duration) int32 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if ttl > maxRelativeExpiration {
		return int32(time.Now().Add(ttl).Unix())
	}
	return int32(secs)
}

// Ping checks if memcached is reachable.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
