// Package state holds everything the scheduler must remember across
// process restarts: the process-wide counters and one Instance per world
// seed the mod has seen.
package state

import (
	"context"
	"sort"

	"github.com/talgya/pantheon/internal/scheduler"
)

// CounterSet is a set of named stored-favor counters.
type CounterSet map[string]int

// Get returns the counter value, zero if absent.
func (c CounterSet) Get(name string) int { return c[name] }

// Add increments a counter by n.
func (c CounterSet) Add(name string, n int) { c[name] += n }

// Spend decrements a positive counter and reports whether it did.
func (c CounterSet) Spend(name string) bool {
	if c[name] <= 0 {
		return false
	}
	c[name]--
	return true
}

// Names returns the counter names, sorted.
func (c CounterSet) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Instance is the state tied to one world seed.
type Instance struct {
	Seed           int64
	Mood           map[string]float64 // colonist name → mood percentage
	Schedule       *scheduler.Store
	Dead           map[string]bool
	AltarState     int
	LastPolledTick int64
}

// NewInstance creates empty state for a seed.
func NewInstance(seed int64) *Instance {
	return &Instance{
		Seed:     seed,
		Mood:     make(map[string]float64),
		Schedule: scheduler.NewStore(),
		Dead:     make(map[string]bool),
	}
}

// Durable is the complete persisted state.
type Durable struct {
	Counters  CounterSet
	Instances map[int64]*Instance

	// WorldSeed is the seed of the world last played, 0 if none yet.
	WorldSeed int64
	// SeenLog is the tail of the offering log already turned into
	// schedule entries. nil means the log was never read; an empty
	// slice means it was read and was empty.
	SeenLog []string
}

// New creates empty durable state.
func New() *Durable {
	return &Durable{
		Counters:  make(CounterSet),
		Instances: make(map[int64]*Instance),
	}
}

// Instance returns the state for seed, creating it on first sight.
func (d *Durable) Instance(seed int64) *Instance {
	inst, ok := d.Instances[seed]
	if !ok {
		inst = NewInstance(seed)
		d.Instances[seed] = inst
	}
	return inst
}

// Seeds returns the known seeds, sorted.
func (d *Durable) Seeds() []int64 {
	seeds := make([]int64, 0, len(d.Instances))
	for s := range d.Instances {
		seeds = append(seeds, s)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })
	return seeds
}

// Backend loads and saves Durable state.
type Backend interface {
	Load(ctx context.Context) (*Durable, error)
	Save(ctx context.Context, d *Durable) error
}
