package core

import (
	"math/rand"
	"sync"
	"time"
)

// Clock supplies the current time. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant
type FixedClock time.Time

// Now returns the fixed instant
func (c FixedClock) Now() time.Time { return time.Time(c) }

// RandomSource drives the probabilistic gates
type RandomSource interface {
	Float64() float64
	Intn(n int) int
}

// LockedRand is a seeded math/rand source safe for concurrent ticks
type LockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a RandomSource seeded with seed
func NewRand(seed int64) *LockedRand {
	return &LockedRand{rnd: rand.New(rand.NewSource(seed))}
}

// Float64 returns a number in [0,1)
func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// Intn returns a number in [0,n)
func (r *LockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}
