package cache

import (
	"context"
	"time"
)

// Cache is the key/value store backing the session revocation list. Entries
// expire with the token they revoke, so only presence matters.
type Cache interface {
	Set(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// RevocationKey is the key under which a signed-out session is recorded
func RevocationKey(sessionID string) string {
	return "revoked:session:" + sessionID
}
