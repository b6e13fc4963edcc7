package session

import "context"

// Storage is the key/value store session snapshots are persisted to, so a
// process restart recovers the session without a round trip. Values are
// plain strings. A missing key reads back as "" with a nil error.
//
// Watch observes changes to a single key across every consumer of the same
// storage; it is the mechanism behind the cross-tab logout broadcast.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Watch delivers the new value each time key is written. The channel is
	// closed when ctx is cancelled.
	Watch(ctx context.Context, key string) (<-chan string, error)
}
