package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when the wait expired with no job.
var ErrEmpty = errors.New("queue empty")

// Publisher pushes events onto named outbound lists.
type Publisher interface {
	Publish(ctx context.Context, list string, payload interface{}) error
}

// RawPusher pushes pre-encoded payloads. Used by the dead-letter path.
type RawPusher interface {
	PushRaw(ctx context.Context, list, payload string) error
}

// Consumer pops jobs off a named inbound list.
type Consumer interface {
	// Pop blocks up to timeout for the next job on the list and returns the
	// raw payload. ErrEmpty on timeout; other errors are transport failures.
	Pop(ctx context.Context, list string, timeout time.Duration) (string, error)
}

// Bus is the go-redis implementation of both sides.
type Bus struct {
	client *redis.Client
}

// New creates a Bus over an existing Redis client.
func New(client *redis.Client) *Bus {
	if client == nil {
		panic("redis client is required")
	}
	return &Bus{client: client}
}

// NewClient dials Redis at addr with bounded timeouts.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
}

// Ping verifies the bus connection.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish left-pushes the JSON-encoded payload so list consumers draining
// with BRPOP see events in publish order.
func (b *Bus) Publish(ctx context.Context, list string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", list, err)
	}
	if err := b.client.LPush(ctx, list, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", list, err)
	}
	return nil
}

// PushRaw left-pushes an already-encoded payload verbatim. Used for
// dead-lettering jobs that may not even be valid JSON.
func (b *Bus) PushRaw(ctx context.Context, list, payload string) error {
	if err := b.client.LPush(ctx, list, payload).Err(); err != nil {
		return fmt.Errorf("failed to push raw payload to %s: %w", list, err)
	}
	return nil
}

// Pop right-pops with a bounded blocking wait so shutdown stays prompt.
func (b *Bus) Pop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	res, err := b.client.BRPop(ctx, timeout, list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("brpop on %s failed: %w", list, err)
	}
	// BRPop returns [list, payload].
	if len(res) != 2 {
		return "", fmt.Errorf("brpop on %s returned %d values", list, len(res))
	}
	return res[1], nil
}

// Close releases the underlying client.
func (b *Bus) Close() error {
	return b.client.Close()
}
