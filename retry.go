package grpccore

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chalvern/grpccore/status"
)

// pushbackHeader is the trailer a server uses to override the client's
// computed backoff for the next retry, in milliseconds. A negative value
// tells the client not to retry at all, per the gRPC retry design this
// module's RetryPolicy is modeled on.
const pushbackHeader = "grpc-retry-pushback-ms"

// retryUnary implements spec §4.J's retry path: run attempts until one
// succeeds, a non-retryable status is seen, MaxAttempts is exhausted, or the
// channel's Throttler reports the bucket has run dry. Backoff follows
// RetryPolicy's exponential schedule unless a server pushback trailer
// overrides it.
func (ch *Channel) retryUnary(ctx context.Context, desc MethodDesc, mi *MethodInfo, req, resp interface{}, opts CallOptions) error {
	rp := mi.Config.RetryPolicy
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rp.InitialBackoff
	bo.MaxInterval = rp.MaxBackoff
	bo.Multiplier = rp.BackoffMultiplier
	bo.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not wall time
	// The library's default RandomizationFactor (0.5) jitters symmetrically
	// around the capped interval, so NextBackOff can overshoot MaxInterval
	// by up to 1.5x. The computed delay must never exceed MaxBackoff, so
	// randomization is disabled here rather than risk that overshoot.
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := 1; attempt <= rp.MaxAttempts; attempt++ {
		err := ch.unaryOnce(ctx, desc, mi, req, resp, opts, attempt)
		lastErr = err
		if err == nil {
			ch.throttler.OnSuccess()
			return nil
		}

		st, _ := status.FromError(err)
		if !rp.RetryableStatusCodes[st.Code()] {
			return err
		}
		if ch.throttler.Throttled() {
			return err
		}
		ch.throttler.OnFailure()

		if attempt == rp.MaxAttempts {
			return err
		}

		delay, retry := nextRetryDelay(bo, st)
		if !retry {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// nextRetryDelay honors a server pushback trailer when present, falling
// back to the exponential schedule otherwise. A negative pushback value
// means "do not retry".
func nextRetryDelay(bo *backoff.ExponentialBackOff, st *status.Status) (time.Duration, bool) {
	if ms, ok := pushbackMillis(st); ok {
		if ms < 0 {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	return bo.NextBackOff(), true
}

// pushbackMillis extracts the grpc-retry-pushback-ms trailer value from st,
// if present and well-formed. Shared by the retry and hedging paths, since
// both must honor a server's override of the client's own backoff schedule.
func pushbackMillis(st *status.Status) (int64, bool) {
	v, ok := st.Trailers().Value(pushbackHeader)
	if !ok {
		return 0, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
