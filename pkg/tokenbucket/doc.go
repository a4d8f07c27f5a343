// Package tokenbucket provides a lock-free token bucket rate limiter.
//
// A Bucket admits or rejects requests for tokens so that the long-run
// admission rate is bounded by a configured rate and short-term bursts are
// bounded by a fixed capacity. It is meant to be embedded in servers,
// schedulers and I/O paths that throttle work across many goroutines
// without taking a lock.
//
// # Quick Start
//
//	bucket, err := tokenbucket.New(10, 5) // 10 tokens/sec, burst of 5
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ok, err := bucket.Consume(1)
//	if err != nil {
//	    // invalid request: zero tokens or more than the burst
//	}
//	if !ok {
//	    // not enough credit yet; retry later or drop the work
//	}
//
// # Virtual Time
//
// A Bucket does not count tokens. It keeps one number, the virtual time: the
// cumulative time cost of all tokens granted so far, where one token costs
// TimePerToken = 1s/rate. A request for n tokens is granted when
//
//	max(virtualTime, now - TimePerBurst) + n*TimePerToken <= now
//
// and the grant moves the virtual time to the left-hand side. Idle periods
// leave the virtual time behind now, which is the accrued credit; clamping it
// to now - TimePerBurst caps that credit at burst tokens. There is no refill
// goroutine and no separate token counter.
//
// # Concurrency
//
// Consume is lock-free. It loads the virtual time, computes the new value and
// publishes it with a compare-and-swap. If another goroutine got there first
// the swap fails and Consume retries from the fresh value. A single call can
// retry an unbounded number of times under heavy contention, but every failed
// swap means some other call succeeded, so the system as a whole always makes
// progress. There is no fairness between contending callers.
//
// A Bucket must not be copied once in use; go vet reports copies. Use Clone
// or Snapshot instead. The rate and burst are fixed at construction; to
// reconfigure, create a new bucket and swap it in.
//
// # Errors
//
// A false result from Consume is the normal "try later" outcome and is never
// an error. Errors are reserved for misuse:
//   - New rejects a zero rate, a rate above 1e9 tokens/s, a zero burst and a
//     burst whose total cost overflows a time.Duration. All wrap
//     ErrInvalidConfig.
//   - Consume rejects zero tokens (ErrInvalidTokens) and more tokens than the
//     burst (ErrExceedsBurst), before touching any state.
//
// # Precision
//
// Time is kept in nanoseconds. TimePerToken is 1s/rate truncated to whole
// nanoseconds, so when rate does not divide 1e9 the enforced rate is slightly
// above the configured one (rate 3 enforces 3.000000003 tokens/s).
// EffectiveRate reports the enforced value.
//
// # Registry
//
// Registry keeps one bucket per client key and policy, built from a
// RegistryConfig that can be loaded from YAML:
//
//	defaults:
//	  rate: 10
//	  burst: 100
//	policies:
//	  login:
//	    rate: 1
//	    burst: 5
//	cleanup_interval: 10m
//
// Buckets are created on first use. Cleanup evicts only rested buckets, which
// are identical to new ones, so eviction never loosens a limit.
//
// The httplimit subpackage wraps a Registry as net/http middleware, and the
// metrics subpackage exports registry activity to Prometheus.
//
// # Testing
//
// Inject a ManualClock with WithClock or WithRegistryClock to drive buckets
// deterministically:
//
//	clock := tokenbucket.NewManualClock(0)
//	bucket, _ := tokenbucket.New(10, 5, tokenbucket.WithClock(clock))
//	clock.Advance(100 * time.Millisecond)
package tokenbucket
