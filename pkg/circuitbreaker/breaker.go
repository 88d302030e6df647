package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before one trial call.
	Timeout       time.Duration
	OnStateChange func(name string, from State, to State)
	Logger        *zap.Logger
	now           func() time.Time
}

// CircuitBreaker guards an optional backing service. Context cancellation
// is not counted as a failure.
type CircuitBreaker struct {
	name             string
	failureThreshold uint32
	timeout          time.Duration
	onStateChange    func(name string, from State, to State)
	logger           *zap.Logger
	now              func() time.Time

	mu       sync.Mutex
	state    State
	failures uint32
	trial    bool
	openedAt time.Time
	// generation changes on every transition so results of calls started
	// under an earlier state are dropped.
	generation uint64
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger,
		now:              cfg.now,
	}
	if cb.failureThreshold == 0 {
		cb.failureThreshold = 5
	}
	if cb.timeout == 0 {
		cb.timeout = 60 * time.Second
	}
	if cb.logger == nil {
		cb.logger = zap.NewNop()
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker is open. ctx is checked before fn runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, false)
			panic(r)
		}
	}()

	err = fn()
	cb.afterRequest(generation, err == nil || errors.Is(err, context.Canceled))
	return err
}

// ExecuteWithResult is Execute for operations that return a value.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return cb.generation, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trial {
			return cb.generation, ErrTooManyRequests
		}
		cb.trial = true
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	if generation != cb.generation {
		return
	}

	switch {
	case success && state == StateHalfOpen:
		cb.setState(StateClosed)
	case success:
		cb.failures = 0
	case state == StateHalfOpen:
		cb.setState(StateOpen)
	default:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.setState(StateOpen)
		}
	}
}

// currentState moves an open breaker to half-open once its timeout passed.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.timeout {
		cb.setState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State) {
	prev := cb.state
	failures := cb.failures

	cb.state = state
	cb.generation++
	cb.failures = 0
	cb.trial = false
	if state == StateOpen {
		cb.openedAt = cb.now()
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
		zap.Uint32("failures", failures),
	)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.currentState()
}
