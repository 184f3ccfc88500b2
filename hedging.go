package grpccore

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/status"
)

// hedgeResult is one attempt's outcome, fed into the first-wins arbitration
// channel hedgeUnary reads from.
type hedgeResult struct {
	err error
}

// hedgeUnary implements spec §4.J's hedging path: up to HedgingPolicy.
// MaxAttempts concurrent attempts are started HedgingDelay apart; the first
// to finish with either success or a fatal (non-listed) status commits and
// cancels the rest. errgroup.WithContext supervises the fan-out's
// lifecycle (so the parent ctx cancelling stops every attempt),
// while a dedicated channel — not errgroup's own error aggregation, which
// only reports the first non-nil error rather than "the first result worth
// committing" — arbitrates which attempt's outcome the caller sees.
//
// Attempts are dispatched one at a time rather than all scheduled up front,
// so a server pushback trailer observed on one attempt can still affect the
// delay (or cancel the spawning of) attempts that haven't started yet, and
// so throttling that engages mid-delay with nothing in flight can stop the
// hedge before sending another doomed request.
func (ch *Channel) hedgeUnary(ctx context.Context, desc MethodDesc, mi *MethodInfo, req, resp interface{}, opts CallOptions) error {
	hp := mi.Config.HedgingPolicy
	if ch.throttler.Throttled() {
		return ch.unaryOnce(ctx, desc, mi, req, resp, opts, 1)
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(groupCtx)
	// nonFatal only ever receives attempts that did NOT commit, so draining
	// it after every attempt has returned yields exactly the outcome to
	// report in the all-non-fatal case, with no race against committedCh.
	nonFatal := make(chan hedgeResult, hp.MaxAttempts)

	var winnerOnce sync.Once
	var committed error
	committedCh := make(chan struct{})

	var scheduleMu sync.Mutex
	nextDelay := hp.HedgingDelay
	var stopSpawning atomic.Bool
	var inFlight atomic.Int32

	commit := func(err error, attemptResp interface{}) {
		winnerOnce.Do(func() {
			if err == nil {
				copyInto(resp, attemptResp)
			}
			committed = err
			close(committedCh)
		})
	}

	runAttempt := func(attemptNum int) {
		inFlight.Add(1)
		defer inFlight.Add(-1)
		// Each attempt gets its own response destination so concurrent
		// attempts never race writing into the caller's resp value; only
		// the committed attempt's decode is kept.
		attemptResp := cloneZeroValue(resp)
		err := ch.unaryOnce(gctx, desc, mi, req, attemptResp, opts, attemptNum)

		fatal := err == nil
		if err != nil {
			st, _ := status.FromError(err)
			fatal = !hp.NonFatalStatusCodes[st.Code()]
			if ms, ok := pushbackMillis(st); ok {
				if ms < 0 {
					stopSpawning.Store(true)
				} else {
					scheduleMu.Lock()
					nextDelay = time.Duration(ms) * time.Millisecond
					scheduleMu.Unlock()
				}
			}
		}
		if fatal {
			commit(err, attemptResp)
			return
		}
		nonFatal <- hedgeResult{err: err}
	}

	// Dispatcher: itself run under the errgroup so g.Wait() below blocks
	// until every attempt it spawns (via nested g.Go calls) has finished,
	// not just until the loop below returns.
	g.Go(func() error {
		for i := 0; i < hp.MaxAttempts; i++ {
			if i > 0 {
				scheduleMu.Lock()
				d := nextDelay
				scheduleMu.Unlock()
				select {
				case <-gctx.Done():
					return nil
				case <-committedCh:
					return nil
				case <-time.After(d):
				}
				if stopSpawning.Load() {
					return nil
				}
				// A pushback trailer or an earlier failure may have
				// tripped the throttler while this attempt was waiting
				// out its hedge delay; if nothing else is in flight,
				// stop here instead of sending another attempt.
				if inFlight.Load() == 0 && ch.throttler.Throttled() {
					commit(status.New(codes.Canceled, "Retries stopped because retry throttling is active.").Err(), nil)
					return nil
				}
			}
			attemptNum := i + 1
			g.Go(func() error {
				runAttempt(attemptNum)
				return nil
			})
		}
		return nil
	})

	drained := make(chan error, 1)
	go func() {
		g.Wait()
		close(nonFatal)
		var last error
		for r := range nonFatal {
			last = r.err
		}
		drained <- last
	}()

	select {
	case <-committedCh:
		ch.recordHedgeOutcome(committed)
		cancel()
		return committed
	case last := <-drained:
		// Every attempt returned a non-fatal status without ever
		// committing; surface the last one observed.
		ch.recordHedgeOutcome(last)
		return last
	}
}

func (ch *Channel) recordHedgeOutcome(err error) {
	if err == nil {
		ch.throttler.OnSuccess()
	} else {
		ch.throttler.OnFailure()
	}
}

// cloneZeroValue allocates a fresh zero value of v's pointed-to type so
// concurrent hedged attempts never decode into the same response message,
// mirroring how protobuf-generated messages are always pointers to structs.
func cloneZeroValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		return reflect.New(rv.Type().Elem()).Interface()
	}
	return v
}

// copyInto assigns src's pointed-to value onto dst, used once a hedged
// attempt's scratch response has won the race.
func copyInto(dst, src interface{}) {
	dv := reflect.ValueOf(dst)
	sv := reflect.ValueOf(src)
	if dv.Kind() == reflect.Ptr && sv.Kind() == reflect.Ptr && dv.Type() == sv.Type() {
		dv.Elem().Set(sv.Elem())
	}
}
