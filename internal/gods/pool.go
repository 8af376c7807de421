package gods

import (
	"context"
	"errors"
	"fmt"
)

// Subject is who an omen is about. The zero Subject means the colony.
type Subject struct {
	Name   string
	Gender string
}

// Omen is an effect drawn at random from a Pool.
type Omen func(ctx context.Context, s Subject) error

// NamedOmen pairs an omen with a name for logs.
type NamedOmen struct {
	Name string
	Run  Omen
}

// Picker chooses an index in [0, n).
type Picker interface {
	Intn(n int) int
}

// Pool is a fixed set of omens, one of which fires per call.
type Pool struct {
	name  string
	omens []NamedOmen
}

// NewPool builds a pool.
func NewPool(name string, omens ...NamedOmen) *Pool {
	return &Pool{name: name, omens: omens}
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Len returns the number of omens.
func (p *Pool) Len() int { return len(p.omens) }

// Fire runs one randomly chosen omen and returns its name.
func (p *Pool) Fire(ctx context.Context, rng Picker, s Subject) (string, error) {
	if p == nil || len(p.omens) == 0 {
		return "", errors.New("empty omen pool")
	}
	o := p.omens[rng.Intn(len(p.omens))]
	if err := o.Run(ctx, s); err != nil {
		return o.Name, fmt.Errorf("%s omen %s: %w", p.name, o.Name, err)
	}
	return o.Name, nil
}
