package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// deliveryLog remembers which chunk ids reached the server so a chunk is
// never delivered twice by one channel.
type deliveryLog struct {
	mu        sync.Mutex
	delivered map[string]time.Time
}

func newDeliveryLog() *deliveryLog {
	return &deliveryLog{delivered: make(map[string]time.Time)}
}

func (d *deliveryLog) has(chunkID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.delivered[chunkID]
	return ok
}

func (d *deliveryLog) mark(chunkID string) {
	d.mu.Lock()
	d.delivered[chunkID] = time.Now()
	d.mu.Unlock()
}

func (d *deliveryLog) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

// retryPolicy builds the backoff for one chunk. maxRetries counts attempts
// after the first, so zero means a single try.
func retryPolicy(ctx context.Context, initial time.Duration, maxRetries int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = 10 * initial
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)
}

// permanent marks an error that must not be retried.
func permanent(err error) error {
	return backoff.Permanent(err)
}

// deliver runs attempt under the retry policy unless chunkID was already
// delivered, and records it on success.
func deliver(ctx context.Context, dl *deliveryLog, chunkID string, initial time.Duration, maxRetries int, notify func(error, time.Duration), attempt func() error) error {
	if dl.has(chunkID) {
		return nil
	}
	if err := backoff.RetryNotify(attempt, retryPolicy(ctx, initial, maxRetries), notify); err != nil {
		return err
	}
	dl.mark(chunkID)
	return nil
}
