package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrDuplicateMessage is returned by MarkProcessed when the id was already
// recorded.
var ErrDuplicateMessage = errors.New("duplicate message")

// Deduplicator remembers processed message ids.
type Deduplicator interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// MemoryDeduplicator keeps ids for ttl (forever when ttl is zero).
type MemoryDeduplicator struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduplicator creates an in-memory deduplicator.
func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduplicator) live(id string) bool {
	at, ok := d.seen[id]
	if !ok {
		return false
	}
	if d.ttl > 0 && d.now().Sub(at) > d.ttl {
		delete(d.seen, id)
		return false
	}
	return true
}

// IsProcessed implements Deduplicator.
func (d *MemoryDeduplicator) IsProcessed(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live(messageID), nil
}

// MarkProcessed implements Deduplicator.
func (d *MemoryDeduplicator) MarkProcessed(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live(messageID) {
		return ErrDuplicateMessage
	}
	d.seen[messageID] = d.now()
	return nil
}

// RedisDeduplicator stores ids as keys with a TTL so several engine
// instances in a failover pair see the same record.
type RedisDeduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOptions configures NewRedisDeduplicator.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisDeduplicator connects to Redis and checks the connection.
func NewRedisDeduplicator(ctx context.Context, logger *zap.Logger, o RedisOptions) (*RedisDeduplicator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", o.Addr, err)
	}
	return NewRedisDeduplicatorWithClient(logger, client, o.KeyPrefix, o.TTL), nil
}

// NewRedisDeduplicatorWithClient wraps an existing client.
func NewRedisDeduplicatorWithClient(logger *zap.Logger, client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduplicator {
	if prefix == "" {
		prefix = "pincex:processed:"
	}
	return &RedisDeduplicator{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (d *RedisDeduplicator) key(id string) string { return d.prefix + id }

// IsProcessed implements Deduplicator.
func (d *RedisDeduplicator) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements Deduplicator.
func (d *RedisDeduplicator) MarkProcessed(ctx context.Context, messageID string) error {
	ok, err := d.client.SetNX(ctx, d.key(messageID), time.Now().UTC().Format(time.RFC3339Nano), d.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		d.logger.Warn("message id already recorded", zap.String("message_id", messageID))
		return ErrDuplicateMessage
	}
	return nil
}

// Close closes the client.
func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}

// ChainDeduplicator asks each deduplicator in turn and records ids in all
// of them; a fast cache in front of the durable store.
type ChainDeduplicator []Deduplicator

// IsProcessed implements Deduplicator.
func (c ChainDeduplicator) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	for _, d := range c {
		ok, err := d.IsProcessed(ctx, messageID)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// MarkProcessed implements Deduplicator. Duplicates reported by one member
// do not stop the others from recording the id.
func (c ChainDeduplicator) MarkProcessed(ctx context.Context, messageID string) error {
	var dup bool
	for _, d := range c {
		err := d.MarkProcessed(ctx, messageID)
		switch {
		case errors.Is(err, ErrDuplicateMessage):
			dup = true
		case err != nil:
			return err
		}
	}
	if dup {
		return ErrDuplicateMessage
	}
	return nil
}
