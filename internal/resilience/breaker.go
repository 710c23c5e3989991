package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected because the breaker is open.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// BreakerConfig controls breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 5m.
	Cooldown time.Duration
}

// Breaker is a consecutive-failure circuit breaker for one feed source.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a breaker named after the source it guards.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Breaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose cool-down
// has elapsed moves to half-open and admits the caller as its probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.nowFunc().Sub(b.lastFailure) < b.cfg.Cooldown {
			return eris.Wrapf(ErrBreakerOpen, "resilience: %s", b.name)
		}
		b.transition(BreakerHalfOpen)
	}
	return nil
}

// Record feeds the outcome of a call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		if b.state != BreakerOpen {
			b.transition(BreakerOpen)
		}
	}
}

// State returns the current state, reporting half-open once the cool-down of
// an open breaker has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFunc().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(to BreakerState) {
	zap.L().Info("circuit breaker state change",
		zap.String("source", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}

// Breakers manages one breaker per source name.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it if needed.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// States returns a snapshot of every breaker's state.
func (r *Breakers) States() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
