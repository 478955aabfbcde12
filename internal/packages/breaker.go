package packages

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// breakerState represents the circuit breaker state
type breakerState int

const (
	stateClosed   breakerState = iota // Normal operation
	stateOpen                         // Failing, reject requests
	stateHalfOpen                     // Testing recovery
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards one upstream key. Consecutive failures open the circuit;
// after the cooldown a single probe is admitted and its outcome decides
// between closing and re-opening.
type Breaker struct {
	mu               sync.Mutex
	state            breakerState
	failureCount     int
	probing          bool
	failureThreshold int
	cooldown         time.Duration
	lastFailureTime  time.Time

	totalRequests atomic.Int64
	totalFailures atomic.Int64
	totalRejected atomic.Int64
}

// NewBreaker creates a circuit breaker with the given threshold and cooldown.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            stateClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Allow checks if a call should be attempted.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests.Add(1)

	switch b.state {
	case stateClosed:
		return true, nil

	case stateOpen:
		if time.Since(b.lastFailureTime) >= b.cooldown {
			b.state = stateHalfOpen
			b.probing = true
			return true, nil
		}
		b.totalRejected.Add(1)
		return false, fmt.Errorf("circuit breaker is open")

	case stateHalfOpen:
		if !b.probing {
			b.probing = true
			return true, nil
		}
		b.totalRejected.Add(1)
		return false, fmt.Errorf("circuit breaker probe already in flight")
	}

	return false, fmt.Errorf("unknown circuit breaker state")
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		b.failureCount = 0
	case stateHalfOpen:
		b.state = stateClosed
		b.failureCount = 0
		b.probing = false
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures.Add(1)

	switch b.state {
	case stateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = stateOpen
			b.lastFailureTime = time.Now()
		}
	case stateHalfOpen:
		b.state = stateOpen
		b.lastFailureTime = time.Now()
		b.probing = false
	}
}

// State returns the current state name.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// BreakerSet manages breakers keyed by upstream cache key.
type BreakerSet struct {
	mu               sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	cooldown         time.Duration
}

// NewBreakerSet creates a keyed breaker manager with shared tuning.
func NewBreakerSet(failureThreshold int, cooldown time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Get returns the breaker for key, creating it on first use.
func (s *BreakerSet) Get(key string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[key]; ok {
		return b
	}
	b = NewBreaker(s.failureThreshold, s.cooldown)
	s.breakers[key] = b
	return b
}

// States returns the state of every known breaker.
func (s *BreakerSet) States() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string, len(s.breakers))
	for key, b := range s.breakers {
		result[key] = b.State()
	}
	return result
}
