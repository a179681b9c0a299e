package rs485

import (
	"context"
	"time"
)

// Retrier layers bounded retries over out-then-in transactions, for slaves
// that occasionally miss a poll. The master itself never retries.
type Retrier struct {
	Master   *Master
	Attempts int           // total attempts; <= 0 means 3
	Delay    time.Duration // inter-attempt delay
}

// TransactionOutIn retries the transaction until it succeeds or the attempts
// are exhausted, returning the last error.
func (r Retrier) TransactionOutIn(ctx context.Context, serviceMode bool, addr Address, payload Payload, timeout time.Duration) (Payload, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && r.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Delay):
			}
		}
		var in Payload
		if in, err = r.Master.TransactionOutIn(ctx, serviceMode, addr, payload, timeout); err == nil {
			return in, nil
		}
	}
	return nil, err
}
