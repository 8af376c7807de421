// Package entropy provides the random source behind wrath rolls, wrath
// delays and omen picks. Tests substitute a scripted Source.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// Source is the randomness the scheduler consumes.
type Source interface {
	Float64() float64     // [0, 1)
	Int63n(n int64) int64 // [0, n)
	Intn(n int) int       // [0, n)
}

// Seeded is a deterministic Source, safe for concurrent use.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded creates a deterministic source.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewSource(seed))}
}

// NewCryptoSeeded seeds a Seeded source from crypto/rand.
func NewCryptoSeeded() *Seeded {
	return NewSeeded(int64(cryptoUint64() >> 1))
}

func (s *Seeded) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Seeded) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63n(n)
}

func (s *Seeded) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func cryptoUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		return 0x9e3779b97f4a7c15
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// CryptoFloat returns a random float in [0, 1) from crypto/rand.
func CryptoFloat() float64 {
	// Use only 53 bits for a uniform float64 in [0, 1).
	return float64(cryptoUint64()>>11) / float64(1<<53)
}
