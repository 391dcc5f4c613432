package common

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrDuplicateSubmission is returned when an identical submission is already
// in flight or was accepted within the TTL.
var ErrDuplicateSubmission = errors.New("common: duplicate submission")

// IdempotencyKey derives a stable key from its parts. Retrying an unchanged
// submission yields the same key so the backend can deduplicate it.
func IdempotencyKey(parts ...string) string {
	return Sha256Hex(strings.Join(parts, "\x1f"))
}

func hashKey(key string) string {
	return "idem:" + key
}

// Idem remembers submitted idempotency keys in Redis. Without a client every
// claim succeeds.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// Claim marks key as in flight. It returns ErrDuplicateSubmission when the
// key is already claimed.
func (i Idem) Claim(ctx context.Context, key string) error {
	if i.R == nil || key == "" {
		return nil
	}
	ok, err := i.R.SetNX(ctx, hashKey(key), "pending", i.ttl()).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateSubmission
	}
	return nil
}

// Complete records that the backend accepted the submission for key.
func (i Idem) Complete(ctx context.Context, key, reference string) error {
	if i.R == nil || key == "" {
		return nil
	}
	if reference == "" {
		reference = "done"
	}
	return i.R.Set(ctx, hashKey(key), reference, i.ttl()).Err()
}

// Release frees a claim after a failed submission so the operator can retry.
func (i Idem) Release(ctx context.Context, key string) error {
	if i.R == nil || key == "" {
		return nil
	}
	return i.R.Del(ctx, hashKey(key)).Err()
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}
