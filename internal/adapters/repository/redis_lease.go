package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

var _ ports.LeaseStore = (*RedisLeaseStore)(nil)

// DefaultLeaseKey is the single leadership record shared by all instances
const DefaultLeaseKey = "coordinator:lease"

// acquireScript takes the lease when it is free, stale or already ours.
// KEYS[1] lease hash, ARGV: instance id, now (ms), ttl (ms)
var acquireScript = redis.NewScript(`
local leader = redis.call('HGET', KEYS[1], 'leader')
local beat = tonumber(redis.call('HGET', KEYS[1], 'heartbeat') or '0')
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
if leader and leader ~= ARGV[1] and (now - beat) <= ttl then
	return 0
end
redis.call('HSET', KEYS[1], 'leader', ARGV[1], 'heartbeat', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ttl)
return 1
`)

// renewScript extends the lease only when we still hold it
var renewScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'leader') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'heartbeat', ARGV[2])
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[3]))
return 1
`)

// RedisLeaseStore keeps the lease in a Redis hash. Check-and-set runs in Lua
// so two instances cannot both win the same takeover.
type RedisLeaseStore struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// NewRedisLeaseStore creates a lease store on key (DefaultLeaseKey when empty)
func NewRedisLeaseStore(client redis.UniversalClient, key string) *RedisLeaseStore {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &RedisLeaseStore{client: client, key: key, now: time.Now}
}

// TryAcquire implements ports.LeaseStore
func (s *RedisLeaseStore) TryAcquire(ctx context.Context, instanceID string, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{s.key},
		instanceID, s.now().UnixMilli(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return res == 1, nil
}

// Renew implements ports.LeaseStore
func (s *RedisLeaseStore) Renew(ctx context.Context, instanceID string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, s.client, []string{s.key},
		instanceID, s.now().UnixMilli(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return res == 1, nil
}

// Read implements ports.LeaseStore
func (s *RedisLeaseStore) Read(ctx context.Context) (*domain.Lease, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	leader := fields["leader"]
	if leader == "" {
		return nil, nil
	}
	ms, _ := strconv.ParseInt(fields["heartbeat"], 10, 64)
	return &domain.Lease{
		LeaderInstanceID: leader,
		LastHeartbeatAt:  time.UnixMilli(ms),
	}, nil
}
