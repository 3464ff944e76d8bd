package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/types"
)

// DefaultKeyPrefix namespaces queue keys when RedisOptions.KeyPrefix is empty.
const DefaultKeyPrefix = "ripple"

// Key layout per logical queue:
//
//	<prefix>:<queue>:order   ZSET  root -> seq
//	<prefix>:<queue>:ops     HASH  root -> operation
//	<prefix>:<queue>:items   HASH  root -> msgpack(QueueItem) as first enqueued
//	<prefix>:<queue>:seq     STRING insertion counter
//
// Every mutation runs as one Lua script, so merge-or-insert is atomic per
// key across all processes sharing the queue.

var acceptScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	return 1
end
local capacity = tonumber(ARGV[4])
if capacity > 0 and redis.call('HLEN', KEYS[2]) >= capacity then
	return -1
end
local seq = redis.call('INCR', KEYS[4])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
return 0
`)

var drainScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
local out = {}
for _, m in ipairs(members) do
	out[#out + 1] = redis.call('HGET', KEYS[2], m)
	out[#out + 1] = redis.call('HGET', KEYS[3], m)
	redis.call('ZREM', KEYS[1], m)
	redis.call('HDEL', KEYS[2], m)
	redis.call('HDEL', KEYS[3], m)
end
return out
`)

var requeueScript = redis.NewScript(`
local head = 1
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #first > 0 then
	head = tonumber(first[2])
end
local added = 0
for i = #ARGV / 3, 1, -1 do
	local m = ARGV[3 * i - 2]
	if redis.call('HEXISTS', KEYS[2], m) == 0 then
		head = head - 1
		redis.call('ZADD', KEYS[1], head, m)
		redis.call('HSET', KEYS[2], m, ARGV[3 * i - 1])
		redis.call('HSET', KEYS[3], m, ARGV[3 * i])
		added = added + 1
	end
end
return added
`)

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	queue.Options

	// KeyPrefix namespaces every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string
}

// RedisQueue is a queue.Queue shared through Redis.
type RedisQueue struct {
	client   redis.UniversalClient
	name     string
	capacity int
	now      func() time.Time

	orderKey string
	opsKey   string
	itemsKey string
	seqKey   string
}

var _ queue.Queue = (*RedisQueue)(nil)

// NewRedisQueue returns the logical queue named by opts on client.
// The caller owns the client.
func NewRedisQueue(client redis.UniversalClient, opts RedisOptions) *RedisQueue {
	name := opts.Name
	if name == "" {
		name = queue.DefaultName
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	base := prefix + ":" + name + ":"
	return &RedisQueue{
		client:   client,
		name:     name,
		capacity: opts.Capacity,
		now:      time.Now,
		orderKey: base + "order",
		opsKey:   base + "ops",
		itemsKey: base + "items",
		seqKey:   base + "seq",
	}
}

// Name returns the logical queue name.
func (r *RedisQueue) Name() string {
	return r.name
}

// Ping checks connectivity to the Redis server.
func (r *RedisQueue) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisQueue) keys() []string {
	return []string{r.orderKey, r.opsKey, r.itemsKey, r.seqKey}
}

// Accept merges (root, op) into the pending set.
func (r *RedisQueue) Accept(ctx context.Context, root types.EntityRef, op types.IndexingOperation) error {
	if err := queue.Validate(root, op); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(types.QueueItem{Root: root, Operation: op, EnqueuedAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	res, err := acceptScript.Run(ctx, r.client, r.keys(), root.String(), string(op), payload, r.capacity).Int()
	if err != nil {
		return fmt.Errorf("redis accept: %w", err)
	}
	switch res {
	case -1:
		queue.ObserveSaturated(r.name)
		return &queue.SaturatedError{Queue: r.name, Capacity: r.capacity, Root: root}
	case 1:
		queue.ObserveAccept(r.name, op, true)
	default:
		queue.ObserveAccept(r.name, op, false)
	}
	return nil
}

// Drain removes and returns up to limit items, oldest first.
func (r *RedisQueue) Drain(ctx context.Context, limit int) ([]types.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := drainScript.Run(ctx, r.client, r.keys(), limit).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis drain: %w", err)
	}

	items := make([]types.QueueItem, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		op, _ := raw[i].(string)
		payload, _ := raw[i+1].(string)
		var item types.QueueItem
		if err := msgpack.Unmarshal([]byte(payload), &item); err != nil {
			return items, fmt.Errorf("%w: %v", ErrCorruptItem, err)
		}
		item.Operation = types.IndexingOperation(op)
		if !item.Operation.Valid() {
			return items, fmt.Errorf("%w: operation %q for %s", ErrCorruptItem, op, item.Root)
		}
		items = append(items, item)
	}
	queue.ObserveDrain(r.name, len(items))
	return items, nil
}

// Requeue puts items back ahead of everything pending, preserving their
// relative order. Roots accepted again since the drain are skipped.
func (r *RedisQueue) Requeue(ctx context.Context, items []types.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	args := make([]any, 0, len(items)*3)
	for _, item := range items {
		if err := queue.Validate(item.Root, item.Operation); err != nil {
			return err
		}
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = r.now().UTC()
		}
		payload, err := msgpack.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		args = append(args, item.Root.String(), string(item.Operation), payload)
	}

	n, err := requeueScript.Run(ctx, r.client, r.keys(), args...).Int()
	if err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	queue.ObserveRequeue(r.name, n)
	return nil
}

// Size returns the number of pending items.
func (r *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.opsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis size: %w", err)
	}
	return int(n), nil
}

// Contains reports whether root is pending with operation op.
func (r *RedisQueue) Contains(ctx context.Context, root types.EntityRef, op types.IndexingOperation) (bool, error) {
	got, err := r.client.HGet(ctx, r.opsKey, root.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis contains: %w", err)
	}
	return got == string(op), nil
}
