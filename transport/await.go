package transport

import (
	"context"
	"time"
)

type awaitResult[T any] struct {
	v   T
	err error
}

// AwaitResponse runs do and races it against timeout.
//
// do receives a request context that stays valid after AwaitResponse
// returns, so a response body can still be streamed; the caller must call
// the returned cancel func once done with the response. If the timer fires
// first the request context is cancelled, discard is called on any response
// that arrives late, and a *TimeoutError is returned. A non-positive timeout
// disables the race.
func AwaitResponse[T any](
	ctx context.Context,
	target string,
	timeout time.Duration,
	do func(context.Context) (T, error),
	discard func(T),
) (T, context.CancelFunc, error) {
	var zero T
	reqCtx, cancel := context.WithCancel(ctx)
	if timeout <= 0 {
		v, err := do(reqCtx)
		if err != nil {
			cancel()
			return zero, nil, err
		}
		return v, cancel, nil
	}

	done := make(chan awaitResult[T], 1)
	go func() {
		v, err := do(reqCtx)
		done <- awaitResult[T]{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			cancel()
			return zero, nil, r.err
		}
		return r.v, cancel, nil
	case <-timer.C:
		cancel()
		go drain(done, discard)
		return zero, nil, &TimeoutError{Target: target, After: timeout}
	case <-ctx.Done():
		cancel()
		go drain(done, discard)
		return zero, nil, ctx.Err()
	}
}

func drain[T any](done <-chan awaitResult[T], discard func(T)) {
	r := <-done
	if r.err == nil && discard != nil {
		discard(r.v)
	}
}
