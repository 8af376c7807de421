package pantheon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"

	"github.com/talgya/pantheon/internal/claims"
	"github.com/talgya/pantheon/internal/scheduler"
)

// Outcome of one dispatch attempt.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeRetry      Outcome = "retry"
	OutcomeDeferred   Outcome = "deferred"
	OutcomeDropped    Outcome = "dropped"
)

// Dispatch is one journal row.
type Dispatch struct {
	Tick    int64   `json:"tick" db:"tick"`
	Seed    int64   `json:"seed" db:"seed"`
	EntryID string  `json:"entry_id" db:"entry_id"`
	Kind    string  `json:"kind" db:"kind"`
	Subject string  `json:"subject" db:"subject"`
	Outcome Outcome `json:"outcome" db:"outcome"`
	Error   string  `json:"error,omitempty" db:"error"`
}

// Journal records dispatch outcomes.
type Journal interface {
	RecordDispatch(ctx context.Context, d Dispatch) error
}

func (d *Driver) record(ctx context.Context, tick int64, e scheduler.Entry, outcome Outcome, err error) {
	if d.journal == nil {
		return
	}
	row := Dispatch{
		Tick:    tick,
		Seed:    d.inst.Seed,
		EntryID: e.ID.String(),
		Kind:    e.Action.Kind().String(),
		Subject: e.Subject(),
		Outcome: outcome,
	}
	if err != nil {
		row.Error = err.Error()
	}
	if jerr := d.journal.RecordDispatch(ctx, row); jerr != nil {
		slog.Warn("journal write failed", "id", row.EntryID, "error", jerr)
	}
}

// After queues fn to run delay ticks from now. Follow-ups live only in
// memory; a restart drops them.
func (d *Driver) After(delay int64, name string, fn func(ctx context.Context) error) {
	d.laterMu.Lock()
	defer d.laterMu.Unlock()
	e := scheduler.NewEntry(scheduler.Continuation{Name: name, Run: fn})
	d.later.Insert(delay, d.now.Load(), e)
}

// ErrInactive is returned by operations that need an active world.
var ErrInactive = errors.New("pantheon not active")

// SetAltarState records the colony's altar level (0 = none).
func (d *Driver) SetAltarState(level int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst == nil {
		return ErrInactive
	}
	if level < 0 {
		return fmt.Errorf("altar state %d: must not be negative", level)
	}
	d.inst.AltarState = level
	slog.Info("altar state changed", "seed", d.inst.Seed, "altar", level)
	return nil
}

// AddCounter adds n stored favors to a counter.
func (d *Driver) AddCounter(name string, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.durable == nil {
		return ErrInactive
	}
	d.durable.Counters.Add(name, n)
	d.dirty = true
	return nil
}

// SpendFavor uses one stored favor of god immediately.
func (d *Driver) SpendFavor(ctx context.Context, god string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.durable == nil {
		return ErrInactive
	}
	if d.durable.Counters.Get(god) <= 0 {
		return fmt.Errorf("no stored favor for %q", god)
	}
	if err := d.gods.Invoke(ctx, god, true, true); err != nil {
		return fmt.Errorf("spend favor %q: %w", god, err)
	}
	d.durable.Counters.Spend(god)
	d.dirty = true
	slog.Info("stored favor spent", "god", god, "remaining", d.durable.Counters.Get(god))
	return nil
}

// Submit schedules an offering line as if the bridge had written it.
// It returns false when the line is not an offering or is below cost.
func (d *Driver) Submit(line string) (scheduler.Entry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst == nil {
		return scheduler.Entry{}, false, ErrInactive
	}
	c, ok := claims.Parse(line)
	if !ok {
		return scheduler.Entry{}, false, nil
	}
	e, ok := d.schedule(c, d.now.Load())
	return e, ok, nil
}

// Status is a point-in-time view for the API.
type Status struct {
	Active     bool               `json:"active"`
	Tick       int64              `json:"tick"`
	Seed       int64              `json:"seed"`
	AltarState int                `json:"altar_state"`
	Pending    int                `json:"pending"`
	Counters   map[string]int     `json:"counters"`
	Mood       map[string]float64 `json:"mood"`
	Dead       []string           `json:"dead"`
}

// Status returns the current status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Active: d.active, Tick: d.now.Load()}
	if d.durable != nil {
		st.Counters = maps.Clone(d.durable.Counters)
	}
	if d.inst != nil {
		st.Seed = d.inst.Seed
		st.AltarState = d.inst.AltarState
		st.Pending = d.inst.Schedule.Len()
		st.Mood = maps.Clone(d.inst.Mood)
		for name := range d.inst.Dead {
			st.Dead = append(st.Dead, name)
		}
		sort.Strings(st.Dead)
	}
	return st
}

// Pending returns the current world's scheduled entries in due order.
func (d *Driver) Pending() []scheduler.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst == nil {
		return nil
	}
	return d.inst.Schedule.Pending()
}
