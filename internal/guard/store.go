// Package guard enforces the single-active-ride invariant: a party id
// maps to at most one non-terminal ride at a time. The server owns the
// lock table; clients only hold a cache they must revalidate.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockConflict means a party already holds a different
	// non-terminal ride. Surfaced as a booking failure, not retried.
	ErrLockConflict = errors.New("party already locked to another ride")
)

// LockStore records which ride each party is locked to. AcquireBoth is
// all-or-nothing across the two parties.
type LockStore interface {
	AcquireBoth(ctx context.Context, riderID, driverID, rideID uint) (bool, error)
	Release(ctx context.Context, rideID uint, partyIDs ...uint) error
	Get(ctx context.Context, partyID uint) (uint, bool, error)
	Set(ctx context.Context, partyID, rideID uint) error
}

func lockKey(partyID uint) string {
	return fmt.Sprintf("lock:party:%d", partyID)
}

// releaseScript deletes a party lock only while it still points at the
// given ride, so a lock taken for a newer ride survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockStore is the production lock table.
type RedisLockStore struct {
	client *redis.Client
}

func NewRedisLockStore(client *redis.Client) *RedisLockStore {
	return &RedisLockStore{client: client}
}

func (s *RedisLockStore) AcquireBoth(ctx context.Context, riderID, driverID, rideID uint) (bool, error) {
	val := strconv.FormatUint(uint64(rideID), 10)
	// MSETNX sets both keys or neither.
	return s.client.MSetNX(ctx, lockKey(riderID), val, lockKey(driverID), val).Result()
}

func (s *RedisLockStore) Release(ctx context.Context, rideID uint, partyIDs ...uint) error {
	val := strconv.FormatUint(uint64(rideID), 10)
	var firstErr error
	for _, id := range partyIDs {
		if err := releaseScript.Run(ctx, s.client, []string{lockKey(id)}, val).Err(); err != nil && err != redis.Nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *RedisLockStore) Get(ctx context.Context, partyID uint) (uint, bool, error) {
	val, err := s.client.Get(ctx, lockKey(partyID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	rideID, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, false, err
	}
	return uint(rideID), true, nil
}

func (s *RedisLockStore) Set(ctx context.Context, partyID, rideID uint) error {
	val := strconv.FormatUint(uint64(rideID), 10)
	return s.client.Set(ctx, lockKey(partyID), val, 0).Err()
}

// MemLockStore is an in-memory LockStore for tests.
type MemLockStore struct {
	mu    sync.Mutex
	locks map[uint]uint
}

func NewMemLockStore() *MemLockStore {
	return &MemLockStore{locks: make(map[uint]uint)}
}

func (s *MemLockStore) AcquireBoth(ctx context.Context, riderID, driverID, rideID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[riderID]; held {
		return false, nil
	}
	if _, held := s.locks[driverID]; held {
		return false, nil
	}
	s.locks[riderID] = rideID
	s.locks[driverID] = rideID
	return true, nil
}

func (s *MemLockStore) Release(ctx context.Context, rideID uint, partyIDs ...uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range partyIDs {
		if s.locks[id] == rideID {
			delete(s.locks, id)
		}
	}
	return nil
}

func (s *MemLockStore) Get(ctx context.Context, partyID uint) (uint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rideID, ok := s.locks[partyID]
	return rideID, ok, nil
}

func (s *MemLockStore) Set(ctx context.Context, partyID, rideID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[partyID] = rideID
	return nil
}
