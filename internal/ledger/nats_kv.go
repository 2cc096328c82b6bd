// Package ledger provides UsageLedger implementations: a NATS JetStream key-value
// bucket and a SQLite table.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
)

// maxCASAttempts bounds the compare-and-swap loop of NatsLedger.Increment.
const maxCASAttempts = 8

// Static errors.
var (
	ErrCounterCorrupt = errors.New("usage counter value is not an integer")
	ErrCASExhausted   = errors.New("usage counter update kept conflicting")
)

// NatsLedger stores one decimal counter per bucket key in a JetStream KV bucket.
// Increments use revision-checked updates, so concurrent service instances never
// lose a count.
type NatsLedger struct {
	bucket string
	kv     nats.KeyValue
}

// NewNatsLedger binds to bucketName, creating it when it does not exist yet.
func NewNatsLedger(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsLedger, error) {
	kv, bindErr := jetstreamContext.KeyValue(bucketName)
	if bindErr != nil {
		var createErr error

		kv, createErr = jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucketName,
			Description: "Synthesis usage counters.",
			History:     1,
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
		if createErr != nil {
			return nil, fmt.Errorf("failed to create key-value bucket '%s': %w",
				bucketName, errors.Join(bindErr, createErr))
		}
	}

	return &NatsLedger{bucket: bucketName, kv: kv}, nil
}

// Get returns the counter for bucketKey, 0 when absent.
func (l *NatsLedger) Get(ctx context.Context, bucketKey string) (int64, error) {
	count, _, err := l.read(ctx, bucketKey)

	return count, err
}

// Increment adds one to the counter for bucketKey.
func (l *NatsLedger) Increment(ctx context.Context, bucketKey string) error {
	var lastErr error

	for range maxCASAttempts {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return fmt.Errorf("increment of '%s' cancelled: %w", bucketKey, ctxErr)
		}

		count, revision, err := l.read(ctx, bucketKey)
		if err != nil {
			return err
		}

		next := []byte(strconv.FormatInt(count+1, 10))

		if revision == 0 {
			_, lastErr = l.kv.Create(bucketKey, next)
		} else {
			_, lastErr = l.kv.Update(bucketKey, next, revision)
		}

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w for '%s' in bucket '%s': %w", ErrCASExhausted, bucketKey, l.bucket, lastErr)
}

// read returns the counter and its revision; revision 0 means the key is absent.
func (l *NatsLedger) read(_ context.Context, bucketKey string) (int64, uint64, error) {
	entry, err := l.kv.Get(bucketKey)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return 0, 0, nil
		}

		return 0, 0, fmt.Errorf("failed to read '%s' from bucket '%s': %w", bucketKey, l.bucket, err)
	}

	count, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: '%s' in bucket '%s': %w", ErrCounterCorrupt, bucketKey, l.bucket, err)
	}

	return count, entry.Revision(), nil
}
