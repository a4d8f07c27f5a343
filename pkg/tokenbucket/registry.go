package tokenbucket

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Decision contains the result of a Registry.Consume call.
type Decision struct {
	// Allowed indicates whether the tokens were granted
	Allowed bool

	// Remaining is the number of whole tokens available after the decision
	Remaining uint64

	// Limit is the burst capacity of the bucket
	Limit uint64

	// RetryAfter is how long until the same request could succeed.
	// It is 0 when Allowed is true.
	RetryAfter time.Duration

	// Key is the client key that was checked
	Key string

	// Policy is the policy the key resolved to
	Policy string
}

type bucketKey struct {
	policy string
	key    string
}

// Registry holds one lock-free Bucket per (policy, key) pair, creating them
// lazily from a RegistryConfig. It is safe for concurrent use.
//
// The map is guarded by a RWMutex. Consume holds the read lock while it
// consumes, so many callers proceed in parallel and the buckets themselves
// stay lock-free; only bucket creation and Cleanup take the write lock.
type Registry struct {
	mu       sync.RWMutex
	buckets  map[bucketKey]*Bucket
	config   *RegistryConfig
	clock    Clock
	logger   zerolog.Logger
	recorder Recorder
}

// NewRegistry creates a registry. A nil config means NewRegistryConfig().
// The config is copied, so later changes to it have no effect.
func NewRegistry(config *RegistryConfig, opts ...RegistryOption) (*Registry, error) {
	if config == nil {
		config = NewRegistryConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := *config
	cfg.Policies = maps.Clone(config.Policies)

	r := &Registry{
		buckets:  make(map[bucketKey]*Bucket),
		config:   &cfg,
		clock:    SystemClock(),
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return r, nil
}

// Consume claims tokens for key under the named policy. An unknown or empty
// policy uses the defaults. Keys are independent per policy.
//
// A denied request is not an error: it returns a Decision with Allowed set
// to false. Errors are returned for an empty key (ErrInvalidKey) and for
// invalid token counts (see Bucket.Consume), whether or not the policy is
// enabled.
func (r *Registry) Consume(policy, key string, tokens uint64) (Decision, error) {
	if key == "" {
		return Decision{}, ErrInvalidKey
	}

	cfg, resolved := r.config.PolicyFor(policy)
	// Checked before the Enabled shortcut and before any bucket is created.
	if err := checkTokens(tokens, cfg.Burst); err != nil {
		return Decision{}, err
	}
	if !cfg.IsEnabled() {
		r.recorder.ObserveConsume(resolved, tokens, true)
		return Decision{
			Allowed:   true,
			Remaining: cfg.Burst,
			Limit:     cfg.Burst,
			Key:       key,
			Policy:    resolved,
		}, nil
	}

	k := bucketKey{policy: resolved, key: key}

	r.mu.RLock()
	bucket, ok := r.buckets[k]
	if ok {
		decision, err := decide(bucket, tokens, key, resolved)
		r.mu.RUnlock()
		return r.observe(decision, tokens, err)
	}
	r.mu.RUnlock()

	// The first request for a key consumes under the write lock, so Cleanup
	// cannot evict the new bucket before it is used.
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok = r.buckets[k]
	if !ok {
		var err error
		bucket, err = cfg.NewBucket(WithClock(r.clock))
		if err != nil {
			return Decision{}, fmt.Errorf("failed to create bucket: %w", err)
		}
		r.buckets[k] = bucket
		r.logger.Debug().
			Str("policy", resolved).
			Str("key", key).
			Uint64("rate", cfg.Rate).
			Uint64("burst", cfg.Burst).
			Msg("bucket created")
	}

	decision, err := decide(bucket, tokens, key, resolved)
	return r.observe(decision, tokens, err)
}

func decide(bucket *Bucket, tokens uint64, key, policy string) (Decision, error) {
	allowed, err := bucket.Consume(tokens)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed:   allowed,
		Remaining: bucket.Available(),
		Limit:     bucket.Burst(),
		Key:       key,
		Policy:    policy,
	}
	if !allowed {
		// tokens was validated by Consume above
		decision.RetryAfter, _ = bucket.RetryAfter(tokens)
	}
	return decision, nil
}

func (r *Registry) observe(decision Decision, tokens uint64, err error) (Decision, error) {
	if err != nil {
		return Decision{}, err
	}
	r.recorder.ObserveConsume(decision.Policy, tokens, decision.Allowed)
	return decision, nil
}

// Cleanup removes rested buckets and returns how many were removed.
// A rested bucket has its full burst available and behaves exactly like a
// newly created one, so evicting it never changes a future decision.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	removed := 0
	for k, bucket := range r.buckets {
		if bucket.Rested() {
			delete(r.buckets, k)
			removed++
		}
	}
	remaining := len(r.buckets)
	r.mu.Unlock()

	r.logger.Info().
		Int("removed", removed).
		Int("remaining", remaining).
		Msg("bucket cleanup finished")
	r.recorder.ObserveCleanup(removed, remaining)
	return removed
}

// Count returns the number of buckets currently held.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}

// Config returns a copy of the registry configuration.
func (r *Registry) Config() RegistryConfig {
	cfg := *r.config
	cfg.Policies = maps.Clone(r.config.Policies)
	return cfg
}

// StartBackgroundCleanup starts a goroutine that calls Cleanup every
// CleanupInterval until ctx is done or the returned function is called.
// The returned function waits for the goroutine to exit and may be called
// more than once. A zero CleanupInterval starts nothing.
func (r *Registry) StartBackgroundCleanup(ctx context.Context) func() {
	interval := time.Duration(r.config.CleanupInterval)
	if interval == 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info().Dur("interval", interval).Msg("background cleanup started")
		for {
			select {
			case <-ticker.C:
				r.Cleanup()
			case <-ctx.Done():
				r.logger.Info().Msg("background cleanup stopped")
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
