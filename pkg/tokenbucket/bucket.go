package tokenbucket

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// rested is the initial virtual time. It lies behind every possible burst
// floor, so a new bucket starts with its full burst available.
const rested = math.MinInt64

// Bucket is a lock-free token bucket.
//
// Instead of counting tokens, a Bucket keeps a single virtual time: the
// cumulative time cost of every token it has granted. Granting n tokens
// advances the virtual time by n × TimePerToken, and a grant is only
// committed if the virtual time does not pass the current time. Idle time
// accrues credit implicitly, capped by clamping the virtual time to no
// earlier than now − TimePerBurst on every access.
//
// All methods are safe for concurrent use. A Bucket must not be copied after
// first use; use Clone for an independent copy.
type Bucket struct {
	// virtualTime is the only mutable field. It is only ever advanced, and
	// only through CompareAndSwap.
	virtualTime atomic.Int64

	timePerToken int64 // nanoseconds
	timePerBurst int64 // nanoseconds
	rate         uint64
	burst        uint64
	clock        Clock
}

// Snapshot is a consistent, point-in-time view of a Bucket.
type Snapshot struct {
	Rate         uint64
	Burst        uint64
	TimePerToken time.Duration
	TimePerBurst time.Duration
	// VirtualTime is math.MinInt64 for a bucket that has never granted tokens.
	VirtualTime time.Duration
}

// New creates a bucket granting rate tokens per second on average, with at
// most burst tokens granted at once after a long enough idle period.
//
// The time per token is 1s/rate truncated to whole nanoseconds, so for rates
// that do not divide 1e9 the enforced rate is slightly higher than requested;
// see EffectiveRate.
//
// Example: New(10, 5) admits 5 tokens immediately and then one token every
// 100ms.
func New(rate, burst uint64, opts ...Option) (*Bucket, error) {
	o := bucketOptions{clock: SystemClock()}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	perToken, perBurst, err := derive(rate, burst)
	if err != nil {
		return nil, err
	}

	b := &Bucket{
		timePerToken: int64(perToken),
		timePerBurst: int64(perBurst),
		rate:         rate,
		burst:        burst,
		clock:        o.clock,
	}
	b.virtualTime.Store(rested)
	return b, nil
}

// derive validates rate and burst and converts them to durations.
func derive(rate, burst uint64) (perToken, perBurst time.Duration, err error) {
	if rate == 0 {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrZeroRate)
	}
	if rate > uint64(time.Second) {
		return 0, 0, fmt.Errorf("%w: %w: %d tokens/s", ErrInvalidConfig, ErrRateTooHigh, rate)
	}
	if burst == 0 {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrZeroBurst)
	}

	perToken = time.Second / time.Duration(rate)
	if burst > uint64(math.MaxInt64/int64(perToken)) {
		return 0, 0, fmt.Errorf("%w: %w: burst %d at %v per token", ErrInvalidConfig, ErrBurstOverflow, burst, perToken)
	}
	perBurst = time.Duration(burst) * perToken
	return perToken, perBurst, nil
}

// Consume atomically claims tokens from the bucket. All of them are granted
// or none are.
//
// It returns (true, nil) when the tokens were granted and (false, nil) when
// not enough credit has accrued yet; the latter leaves the bucket untouched
// and the caller decides whether to retry, wait or drop the work. A non-nil
// error means the request itself is invalid: ErrInvalidTokens for zero
// tokens, ErrExceedsBurst for more tokens than the burst capacity.
//
// Consume never blocks. Under contention it retries its compare-and-swap;
// an individual call may retry any number of times, but every failed
// attempt means another caller succeeded.
func (b *Bucket) Consume(tokens uint64) (bool, error) {
	if err := b.checkTokens(tokens); err != nil {
		return false, err
	}

	now := int64(b.clock.Now())
	// tokens <= burst and burst*timePerToken was checked in New, so this
	// cannot overflow.
	need := int64(tokens) * b.timePerToken
	floor := b.floor(now)

	old := b.virtualTime.Load()
	for {
		// Compare before adding: start+need may not fit in an int64 when the
		// clock reads close to math.MaxInt64.
		start := max(old, floor)
		if start > now || need > now-start {
			return false, nil
		}
		if b.virtualTime.CompareAndSwap(old, start+need) {
			return true, nil
		}
		// Another caller was granted tokens first.
		old = b.virtualTime.Load()
	}
}

// Allow consumes a single token. It reports whether the token was granted.
func (b *Bucket) Allow() bool {
	// A bucket always has burst >= 1, so Consume(1) cannot fail.
	ok, _ := b.Consume(1)
	return ok
}

// Available returns the number of whole tokens that could be consumed right
// now. The value is a snapshot and may be stale as soon as it is returned.
func (b *Bucket) Available() uint64 {
	now := int64(b.clock.Now())
	start := max(b.virtualTime.Load(), b.floor(now))
	if start >= now {
		return 0
	}
	return min(uint64((now-start)/b.timePerToken), b.burst)
}

// RetryAfter returns how long until Consume(tokens) could succeed, assuming
// nobody else consumes in the meantime. It returns 0 if the tokens are
// available now. It has the same argument errors as Consume.
func (b *Bucket) RetryAfter(tokens uint64) (time.Duration, error) {
	if err := b.checkTokens(tokens); err != nil {
		return 0, err
	}

	now := int64(b.clock.Now())
	start := max(b.virtualTime.Load(), b.floor(now))
	wait := int64(tokens) * b.timePerToken
	if start <= now {
		wait -= now - start
	} else {
		wait += start - now
	}
	if wait <= 0 {
		return 0, nil
	}
	return time.Duration(wait), nil
}

// Rested reports whether the bucket has its full burst available, making it
// indistinguishable from a newly created bucket.
func (b *Bucket) Rested() bool {
	now := int64(b.clock.Now())
	return b.virtualTime.Load() <= b.floor(now)
}

// Rate returns the configured rate in tokens per second.
func (b *Bucket) Rate() uint64 { return b.rate }

// Burst returns the burst capacity in tokens.
func (b *Bucket) Burst() uint64 { return b.burst }

// TimePerToken returns the time cost of one token.
func (b *Bucket) TimePerToken() time.Duration { return time.Duration(b.timePerToken) }

// TimePerBurst returns the time cost of a full burst.
func (b *Bucket) TimePerBurst() time.Duration { return time.Duration(b.timePerBurst) }

// EffectiveRate returns the rate actually enforced, in tokens per second.
// It equals Rate when Rate divides 1e9 and is slightly higher otherwise,
// because TimePerToken is truncated to whole nanoseconds.
func (b *Bucket) EffectiveRate() float64 {
	return float64(time.Second) / float64(b.timePerToken)
}

// Snapshot returns a consistent view of the bucket. The configuration never
// changes after New and the virtual time is read with one atomic load, so
// the fields always belong together.
func (b *Bucket) Snapshot() Snapshot {
	return Snapshot{
		Rate:         b.rate,
		Burst:        b.burst,
		TimePerToken: time.Duration(b.timePerToken),
		TimePerBurst: time.Duration(b.timePerBurst),
		VirtualTime:  time.Duration(b.virtualTime.Load()),
	}
}

// Clone returns an independent bucket with the same configuration and clock,
// starting from the current virtual time. Later activity on either bucket
// does not affect the other.
func (b *Bucket) Clone() *Bucket {
	c := &Bucket{
		timePerToken: b.timePerToken,
		timePerBurst: b.timePerBurst,
		rate:         b.rate,
		burst:        b.burst,
		clock:        b.clock,
	}
	c.virtualTime.Store(b.virtualTime.Load())
	return c
}

func (b *Bucket) checkTokens(tokens uint64) error {
	return checkTokens(tokens, b.burst)
}

func checkTokens(tokens, burst uint64) error {
	if tokens == 0 {
		return ErrInvalidTokens
	}
	if tokens > burst {
		return fmt.Errorf("%w: requested %d, burst %d", ErrExceedsBurst, tokens, burst)
	}
	return nil
}

// floor is the oldest virtual time allowed at now. It saturates instead of
// wrapping for clocks reading close to math.MinInt64.
func (b *Bucket) floor(now int64) int64 {
	if now < math.MinInt64+b.timePerBurst {
		return math.MinInt64
	}
	return now - b.timePerBurst
}
