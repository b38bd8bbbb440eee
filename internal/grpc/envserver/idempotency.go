package envserver

import (
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyEntries = 1000
)

// idempotencyEntry stores a cached step response with timestamp
type idempotencyEntry struct {
	response  *structpb.Struct
	createdAt time.Time
}

// IdempotencyManager caches Step responses per client supplied key so a retried
// request does not advance the episode twice.
type IdempotencyManager struct {
	cache map[string]*idempotencyEntry
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

// NewIdempotencyManager creates a new idempotency manager
func NewIdempotencyManager() *IdempotencyManager {
	return &IdempotencyManager{
		cache: make(map[string]*idempotencyEntry),
		ttl:   defaultIdempotencyTTL,
		now:   time.Now,
	}
}

// Check returns a copy of the cached response for key, or nil
func (im *IdempotencyManager) Check(key string) *structpb.Struct {
	if key == "" {
		return nil
	}

	im.mu.RLock()
	defer im.mu.RUnlock()

	entry, exists := im.cache[key]
	if !exists {
		return nil
	}
	if im.now().Sub(entry.createdAt) > im.ttl {
		return nil
	}

	return proto.Clone(entry.response).(*structpb.Struct)
}

// Store caches resp under key
func (im *IdempotencyManager) Store(key string, resp *structpb.Struct) {
	if key == "" || resp == nil {
		return
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	im.cache[key] = &idempotencyEntry{
		response:  proto.Clone(resp).(*structpb.Struct),
		createdAt: im.now(),
	}

	if len(im.cache) > maxIdempotencyEntries {
		im.cleanupOldEntriesLocked()
	}
}

// Len returns the number of cached entries
func (im *IdempotencyManager) Len() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.cache)
}

// cleanupOldEntriesLocked removes expired entries. Must be called with mu held.
func (im *IdempotencyManager) cleanupOldEntriesLocked() {
	cutoff := im.now().Add(-im.ttl)
	for key, entry := range im.cache {
		if entry.createdAt.Before(cutoff) {
			delete(im.cache, key)
		}
	}
}
