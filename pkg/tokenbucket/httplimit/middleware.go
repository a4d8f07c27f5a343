// Package httplimit applies a tokenbucket.Registry to HTTP traffic.
//
//	registry, _ := tokenbucket.NewRegistry(cfg)
//	limiter, _ := httplimit.New(registry,
//	    httplimit.WithKeyExtractor(httplimit.ExtractIPWithProxy()),
//	)
//	http.Handle("/api/", limiter.Middleware(apiHandler))
//
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining.
// Rejected requests get 429 Too Many Requests with Retry-After and
// X-RateLimit-Reset set. Requests whose key cannot be extracted, or whose
// cost is zero or above the policy burst, get 400 Bad Request.
package httplimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/KanavDutta/tokenbucket/pkg/tokenbucket"
)

// Option is a functional option for configuring a Limiter.
type Option func(*Limiter) error

// WithKeyExtractor sets how clients are identified. Defaults to ExtractIP().
func WithKeyExtractor(extractor KeyExtractor) Option {
	return func(l *Limiter) error {
		if extractor == nil {
			return fmt.Errorf("%w: key extractor cannot be nil", tokenbucket.ErrInvalidConfig)
		}
		l.keyExtractor = extractor
		return nil
	}
}

// WithPolicyFunc sets how a request maps to a registry policy.
// Defaults to the URL path, so policies can be named after routes.
func WithPolicyFunc(fn func(*http.Request) string) Option {
	return func(l *Limiter) error {
		if fn == nil {
			return fmt.Errorf("%w: policy func cannot be nil", tokenbucket.ErrInvalidConfig)
		}
		l.policyFunc = fn
		return nil
	}
}

// WithCost sets how many tokens a request consumes. Defaults to 1.
func WithCost(fn func(*http.Request) uint64) Option {
	return func(l *Limiter) error {
		if fn == nil {
			return fmt.Errorf("%w: cost func cannot be nil", tokenbucket.ErrInvalidConfig)
		}
		l.costFunc = fn
		return nil
	}
}

// WithLogger sets the logger for rejected and failed requests.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) error {
		l.logger = logger
		return nil
	}
}

// Limiter rate limits HTTP requests against a Registry.
type Limiter struct {
	registry     *tokenbucket.Registry
	keyExtractor KeyExtractor
	policyFunc   func(*http.Request) string
	costFunc     func(*http.Request) uint64
	logger       zerolog.Logger
}

// New creates a Limiter backed by registry.
func New(registry *tokenbucket.Registry, opts ...Option) (*Limiter, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry cannot be nil", tokenbucket.ErrInvalidConfig)
	}

	l := &Limiter{
		registry:     registry,
		keyExtractor: ExtractIP(),
		policyFunc:   func(r *http.Request) string { return r.URL.Path },
		costFunc:     func(*http.Request) uint64 { return 1 },
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return l, nil
}

// Allow extracts the key, policy and cost of r and consumes from the registry.
func (l *Limiter) Allow(r *http.Request) (tokenbucket.Decision, error) {
	key, err := l.keyExtractor(r)
	if err != nil {
		return tokenbucket.Decision{}, err
	}
	return l.registry.Consume(l.policyFunc(r), key, l.costFunc(r))
}

type errorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// Middleware wraps next with rate limiting.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := l.Allow(r)
		if err != nil {
			switch {
			case errors.Is(err, ErrKeyExtractionFailed):
				l.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("rate limit key extraction failed")
				writeJSON(w, http.StatusBadRequest, errorResponse{
					Error:   "missing_client_key",
					Message: "Could not identify the client for rate limiting.",
				})
			case errors.Is(err, tokenbucket.ErrInvalidTokens), errors.Is(err, tokenbucket.ErrExceedsBurst):
				// The request can never be admitted, so retrying will not help.
				l.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("request cost outside policy limits")
				writeJSON(w, http.StatusBadRequest, errorResponse{
					Error:   "invalid_request_cost",
					Message: "Request cost is outside the rate limit policy.",
				})
			default:
				l.logger.Error().Err(err).Str("path", r.URL.Path).Msg("rate limit check failed")
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Error:   "internal_error",
					Message: "Rate limit check failed.",
				})
			}
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatUint(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatUint(decision.Remaining, 10))

		if !decision.Allowed {
			retrySeconds := max(int64(math.Ceil(decision.RetryAfter.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(decision.RetryAfter).Unix(), 10))

			l.logger.Debug().
				Str("key", decision.Key).
				Str("policy", decision.Policy).
				Dur("retry_after", decision.RetryAfter).
				Msg("request rate limited")

			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:        "rate_limit_exceeded",
				Message:      "Too many requests. Please try again later.",
				RetryAfterMs: decision.RetryAfter.Milliseconds(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
