//go:build integration
// +build integration

package sessionstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestMemcachedStore_Integration requires a running memcached. Set MEMCACHED_ADDRS or use localhost:11211.
func TestMemcachedStore_Integration(t *testing.T) {
	addrs := os.Getenv("MEMCACHED_ADDRS")
	if addrs == "" {
		addrs = "localhost:11211"
	}
	s := NewMemcachedStore(addrs, 500*time.Millisecond, 2)
	defer s.Close()

	if err := s.Ping(); err != nil {
		t.Skipf("memcached not available at %s: %v", addrs, err)
	}

	ctx := context.Background()
	id := uuid.NewString()

	revoked, err := s.IsRevoked(ctx, id)
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Fatal("IsRevoked() = true before Revoke")
	}

	if err := s.Revoke(ctx, id, time.Minute); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	revoked, err = s.IsRevoked(ctx, id)
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if !revoked {
		t.Error("IsRevoked() = false after Revoke, want true")
	}
}
