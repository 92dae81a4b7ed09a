package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without invoking the protected call while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	Logger   *zap.Logger
}

type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	logger           *zap.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &CircuitBreaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		logger:           cfg.Logger,
	}
}

// Execute runs fn unless the breaker is open. Results feed the state machine.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()
	cb.afterCall(err == nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	return nil
}

func (cb *CircuitBreaker) afterCall(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.successThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}

	cb.logger.Warn("Circuit breaker state change",
		zap.String("breaker", cb.name),
		zap.String("from", cb.state.String()),
		zap.String("to", to.String()),
	)

	cb.state = to
	cb.failures = 0
	cb.successes = 0
}
