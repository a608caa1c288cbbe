// Package errors defines the error kinds of the trade tape and the retry
// machinery around them: classification, backoff-driven retry and a
// per-component circuit breaker.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-trade-tape/internal/config"
)

// Domain error kinds. Packages wrap these with %w so callers can test with errors.Is.
var (
	// ErrTransientFetch is a network or timeout failure talking to the trade source.
	// Retry with backoff; never drop local data because of it.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrDiscontiguousRanges means a fetched batch leaves a strict time gap against the log.
	ErrDiscontiguousRanges = errors.New("discontiguous ranges")

	// ErrCorruptPersistedState means a stored trade log could not be decoded.
	ErrCorruptPersistedState = errors.New("corrupt persisted state")

	// ErrDegenerateSmoothing means a smoothed volume reached zero and a rate is undefined.
	ErrDegenerateSmoothing = errors.New("degenerate smoothing")

	// ErrInvalidMarket is returned for malformed market identifiers.
	ErrInvalidMarket = errors.New("invalid market")

	// ErrMarketNotSubscribed is returned when querying a market nobody is tracking.
	ErrMarketNotSubscribed = errors.New("market not subscribed")
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeTransientFetch ErrorType = "transient_fetch"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeCircuitOpen    ErrorType = "circuit_open"

	// Non-retryable error types
	ErrorTypeDiscontiguous ErrorType = "discontiguous"
	ErrorTypeCorruptState  ErrorType = "corrupt_state"
	ErrorTypeDegenerate    ErrorType = "degenerate_smoothing"
	ErrorTypeCaller        ErrorType = "caller"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeCanceled      ErrorType = "canceled"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err         error     `json:"error"`
	Type        ErrorType `json:"type"`
	Severity    Severity  `json:"severity"`
	Retryable   bool      `json:"retryable"`
	Component   string    `json:"component"`
	Operation   string    `json:"operation"`
	Timestamp   time.Time `json:"timestamp"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches another ClassifiedError by type, or anything in the wrapped chain
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// ErrorClassifier handles error classification and retry logic
type ErrorClassifier struct {
	config          config.ErrorHandlingConfig
	logger          *slog.Logger
	mu              sync.RWMutex
	stats           map[ErrorType]ErrorStats
	circuitBreakers map[string]*CircuitBreaker
}

// ErrorStats tracks error statistics for monitoring
type ErrorStats struct {
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(cfg config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorClassifier{
		config:          cfg,
		logger:          logger,
		stats:           make(map[ErrorType]ErrorStats),
		circuitBreakers: make(map[string]*CircuitBreaker),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	severity := determineSeverity(errorType)
	retryable := ec.isRetryable(errorType)

	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severity,
		Retryable: retryable,
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}

	ec.updateStats(errorType)

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", severity.String(),
		"retryable", retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// classifyErrorType checks the domain sentinels first and falls back to
// message heuristics for errors from outside the module.
func classifyErrorType(err error) ErrorType {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, ErrDiscontiguousRanges):
		return ErrorTypeDiscontiguous
	case errors.Is(err, ErrCorruptPersistedState):
		return ErrorTypeCorruptState
	case errors.Is(err, ErrDegenerateSmoothing):
		return ErrorTypeDegenerate
	case errors.Is(err, ErrInvalidMarket), errors.Is(err, ErrMarketNotSubscribed):
		return ErrorTypeCaller
	case errors.Is(err, ErrTransientFetch):
		return ErrorTypeTransientFetch
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "service unavailable"),
		strings.Contains(errStr, "bad gateway"):
		return ErrorTypeServerError
	case strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "malformed"):
		return ErrorTypeValidation
	}

	return ErrorTypeUnknown
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network unreachable",
		"no such host",
		"eof",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// determineSeverity assigns a severity level based on error type
func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeCorruptState:
		return SeverityCritical
	case ErrorTypeDegenerate:
		return SeverityHigh
	case ErrorTypeDiscontiguous, ErrorTypeValidation, ErrorTypeCaller:
		return SeverityMedium
	case ErrorTypeTransientFetch, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRetryable determines if an error type should be retried
func (ec *ErrorClassifier) isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransientFetch, ErrorTypeNetwork, ErrorTypeTimeout,
		ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeCircuitOpen:
		return true
	case ErrorTypeDiscontiguous, ErrorTypeCorruptState, ErrorTypeDegenerate,
		ErrorTypeCaller, ErrorTypeValidation, ErrorTypeCanceled:
		return false
	}

	for _, retryableType := range ec.config.GlobalRetryPolicy.RetryableErrors {
		if string(errorType) == retryableType {
			return true
		}
	}
	return false
}

func (ec *ErrorClassifier) updateStats(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Count++
	stats.LastSeen = time.Now()
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}
	ec.stats[errorType] = stats
}

// Retry executes fn until it succeeds, returns a non-retryable error, or the
// component's retry policy is exhausted.
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.getRetryPolicy(component)
	backoffStrategy := createBackoffStrategy(policy)

	var lastErr *ClassifiedError
	attempts := 0

	for {
		attempts++

		err := fn()
		if err == nil {
			if attempts > 1 {
				ec.logger.Debug("operation succeeded after retry",
					"component", component,
					"operation", operation,
					"attempts", attempts)
			}
			return nil
		}

		classified := ec.Classify(err, component, operation)
		classified.Attempts = attempts
		classified.LastAttempt = time.Now()
		lastErr = classified

		if !classified.Retryable {
			return classified
		}

		ec.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"error_type", classified.Type,
			"error", err.Error())

		if attempts >= policy.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		}

		nextBackoff := backoffStrategy.NextBackOff()
		if nextBackoff == backoff.Stop {
			break
		}

		select {
		case <-time.After(nextBackoff):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	ec.logger.Error("operation failed after all retries",
		"component", component,
		"operation", operation,
		"attempts", attempts)
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// getRetryPolicy returns the retry policy for a component
func (ec *ErrorClassifier) getRetryPolicy(component string) config.RetryPolicyConfig {
	if policy, exists := ec.config.ComponentPolicies[component]; exists {
		return policy
	}
	return ec.config.GlobalRetryPolicy
}

// NewBackOff builds the backoff strategy a retry policy describes. The
// strategy stops after MaxAttempts-1 retries.
func NewBackOff(policy config.RetryPolicyConfig) backoff.BackOff {
	return createBackoffStrategy(policy)
}

// createBackoffStrategy creates a backoff strategy based on configuration
func createBackoffStrategy(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay, _ := time.ParseDuration(policy.InitialDelay)
	maxDelay, _ := time.ParseDuration(policy.MaxDelay)

	var strategy backoff.BackOff
	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{interval: initialDelay, max: maxDelay}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		exponential.Reset()
		strategy = exponential
	}

	if policy.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	maxRetries := policy.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(strategy, uint64(maxRetries))
}

// GetStats returns a copy of the error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// CircuitBreaker returns the breaker registered under name, creating it on first use.
// Returns nil when circuit breaking is disabled.
func (ec *ErrorClassifier) CircuitBreaker(name string) *CircuitBreaker {
	if !ec.config.EnableCircuitBreaker {
		return nil
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	cb, ok := ec.circuitBreakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, ec.config.CircuitBreakerConfig)
		ec.circuitBreakers[name] = cb
	}
	return cb
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name         string
	config       config.CircuitBreakerConfig
	state        CircuitState
	failures     int
	lastFailure  time.Time
	nextRetry    time.Time
	testRequests int
	mu           sync.Mutex
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  CircuitClosed,
	}
}

// Call executes a function through the circuit breaker. Only retryable
// failures count towards opening the circuit.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if cb == nil {
		return fn()
	}
	if !cb.allowRequest() {
		return &ClassifiedError{
			Err:       fmt.Errorf("circuit breaker is open for %s: %w", cb.name, ErrTransientFetch),
			Type:      ErrorTypeCircuitOpen,
			Severity:  SeverityMedium,
			Retryable: true,
			Component: "circuit_breaker",
			Operation: cb.name,
			Timestamp: time.Now(),
		}
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Now().After(cb.nextRetry) {
			cb.state = CircuitHalfOpen
			cb.testRequests = 0
			return true
		}
		return false
	case CircuitHalfOpen:
		return cb.testRequests < cb.config.HalfOpenRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !countsAsFailure(err) {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func countsAsFailure(err error) bool {
	switch classifyErrorType(err) {
	case ErrorTypeTransientFetch, ErrorTypeNetwork, ErrorTypeTimeout,
		ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	}
	return false
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.testRequests++
		if cb.testRequests >= cb.config.HalfOpenRequests {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.testRequests = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.setNextRetry()
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.testRequests = 0
		cb.setNextRetry()
	}
}

func (cb *CircuitBreaker) setNextRetry() {
	timeout, _ := time.ParseDuration(cb.config.RecoveryTimeout)
	cb.nextRetry = time.Now().Add(timeout)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LinearBackoff grows the delay by a fixed interval up to max
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.max > 0 && lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	offset := (2.0*float64(time.Now().UnixNano()%1000)/1000.0 - 1.0) * jitter
	return next + time.Duration(offset)
}

// IsRetryable reports whether err, or any ClassifiedError it wraps, is retryable.
// Unclassified errors are retryable when they wrap ErrTransientFetch.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, ErrTransientFetch)
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return classifyErrorType(err)
}
