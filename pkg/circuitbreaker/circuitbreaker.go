package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

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
	FailureThreshold    int           `yaml:"failure_threshold"` // consecutive failures that open the circuit
	SuccessThreshold    int           `yaml:"success_threshold"` // half-open successes that close it
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`

	// IsFailure classifies results. Nil counts every non-nil error. Context
	// cancellation by the caller never counts.
	IsFailure func(err error) bool `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         15 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

type Counts struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	InFlightHalfOpen     int
}

type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time

	onStateChange []func(name string, from, to State)
}

func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxRequestsHalfOpen < 1 {
		cfg.MaxRequestsHalfOpen = 1
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

// OnStateChange adds fn to the listeners called synchronously, under no lock,
// after a transition.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	cb.onStateChange = append(cb.onStateChange, fn)
	cb.mu.Unlock()
}

// Execute runs fn unless the circuit is open, in which case ErrOpen is
// returned without calling it. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(ctx, err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	var transition func()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		transition = cb.setState(StateHalfOpen)
		cb.counts.InFlightHalfOpen++
	case StateHalfOpen:
		if cb.counts.InFlightHalfOpen >= cb.cfg.MaxRequestsHalfOpen {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.counts.InFlightHalfOpen++
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
	return nil
}

func (cb *CircuitBreaker) after(ctx context.Context, err error) {
	failed := err != nil
	if failed && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		failed = false
	}
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}

	cb.mu.Lock()
	var transition func()
	if cb.state == StateHalfOpen && cb.counts.InFlightHalfOpen > 0 {
		cb.counts.InFlightHalfOpen--
	}

	if failed {
		cb.counts.ConsecutiveSuccesses = 0
		cb.counts.ConsecutiveFailures++
		switch cb.state {
		case StateHalfOpen:
			transition = cb.setState(StateOpen)
		case StateClosed:
			if cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
				transition = cb.setState(StateOpen)
			}
		}
	} else {
		cb.counts.ConsecutiveFailures = 0
		cb.counts.ConsecutiveSuccesses++
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			transition = cb.setState(StateClosed)
		}
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// setState must be called with mu held. It returns the notification to run
// after unlocking, or nil.
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.counts = Counts{}
	if to == StateOpen {
		cb.openedAt = cb.now()
	}

	listeners := cb.onStateChange
	if len(listeners) == 0 {
		return nil
	}
	name := cb.name
	return func() {
		for _, fn := range listeners {
			fn(name, from, to)
		}
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	transition := cb.setState(StateClosed)
	cb.counts = Counts{}
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
}
