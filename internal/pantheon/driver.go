// Package pantheon drives the gods from the host game's tick. Each host
// step it drains due actions, polls the offering log, watches the colony,
// and keeps the durable state current.
package pantheon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talgya/pantheon/internal/claims"
	"github.com/talgya/pantheon/internal/colony"
	"github.com/talgya/pantheon/internal/config"
	"github.com/talgya/pantheon/internal/entropy"
	"github.com/talgya/pantheon/internal/gods"
	"github.com/talgya/pantheon/internal/scheduler"
	"github.com/talgya/pantheon/internal/state"
	"github.com/talgya/pantheon/internal/tailer"
)

// Host is the game the gods live in.
type Host interface {
	WorldSeed() int64
	Playing() bool
	Colonists() []*colony.Colonist
	ResearchActive() bool
	BoostResearch()
	Notify(title, text string)
}

// Config wires a Driver. Journal, Backend, State and Rand are optional.
type Config struct {
	Host     Host
	Gods     *gods.Registry
	Congrats *gods.Pool
	Wraths   *gods.Pool
	Backend  state.Backend
	Journal  Journal
	Rand     entropy.Source
	Tuning   config.Tuning

	// State, when set, is used by Start instead of loading from Backend.
	State *state.Durable

	LogPath          string
	ReplayLogOnStart bool
}

// Driver is the scheduler. All methods are safe to call from other
// goroutines; Step holds the lock for its whole run.
type Driver struct {
	mu sync.Mutex

	host     Host
	gods     *gods.Registry
	congrats *gods.Pool
	wraths   *gods.Pool
	backend  state.Backend
	journal  Journal
	rng      entropy.Source
	tuning   config.Tuning
	policy   claims.Policy
	tracked  map[string]bool

	logPath string
	replay  bool
	tail    *tailer.Tailer

	active    bool
	preloaded *state.Durable
	durable   *state.Durable
	inst      *state.Instance
	dirty     bool

	// Follow-ups may be queued by handlers while Step holds mu.
	laterMu sync.Mutex
	later   *scheduler.Store
	now     atomic.Int64
}

// New creates an inactive driver; call Start before the first Step.
func New(cfg Config) *Driver {
	rng := cfg.Rand
	if rng == nil {
		rng = entropy.NewCryptoSeeded()
	}
	tracked := make(map[string]bool, len(cfg.Tuning.Counters))
	for _, name := range cfg.Tuning.Counters {
		tracked[name] = true
	}
	return &Driver{
		host:      cfg.Host,
		gods:      cfg.Gods,
		congrats:  cfg.Congrats,
		wraths:    cfg.Wraths,
		backend:   cfg.Backend,
		journal:   cfg.Journal,
		preloaded: cfg.State,
		rng:       rng,
		tuning:    cfg.Tuning,
		policy:    claims.NewPolicy(cfg.Tuning.Privileged, cfg.Tuning.PartialPrivileged),
		tracked:   tracked,
		logPath:   cfg.LogPath,
		replay:    cfg.ReplayLogOnStart,
		tail:      tailer.New(),
		later:     scheduler.NewStore(),
	}
}

// Start loads durable state and resumes the offering log where the last
// run left it. Load failures leave the driver running on empty state.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.preloaded != nil:
		d.durable = d.preloaded
	case d.backend != nil:
		d.durable = state.LoadOrEmpty(ctx, d.backend)
	default:
		d.durable = state.New()
	}
	d.resumeTail(ctx)
	d.active = true
	slog.Info("pantheon active",
		"instances", len(d.durable.Instances),
		"gods", len(d.gods.Names()),
		"log", d.logPath,
	)
}

// Shutdown saves the durable state.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return nil
	}
	return d.save(ctx)
}

// resumeTail restores the seen part of the offering log, so lines the
// bridge wrote while the game was closed are picked up by the first poll.
// Without a saved record the current content is taken as history and the
// record is written at once.
func (d *Driver) resumeTail(ctx context.Context) {
	if d.replay || d.logPath == "" {
		return
	}
	if d.durable.SeenLog != nil {
		d.tail.Restore(d.durable.SeenLog)
		slog.Info("offering log resumed", "path", d.logPath, "seen", d.tail.Seen())
		return
	}
	if err := d.tail.Prime(d.logPath); err != nil {
		slog.Warn("offering log unreadable at start", "path", d.logPath, "error", err)
	}
	d.durable.SeenLog = d.tail.Lines()
	if err := d.save(ctx); err != nil {
		slog.Error("save after priming offering log failed", "error", err)
	}
}

// Step runs once per host tick.
func (d *Driver) Step(ctx context.Context, tick int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active || !d.host.Playing() {
		return
	}
	d.now.Store(tick)
	d.checkSeed()
	d.runContinuations(ctx, tick)

	cal := d.tuning.Calendar
	inst := d.inst
	last := inst.LastPolledTick

	if crossed(tick, last, cal.FinePhase()) {
		d.dispatchDue(ctx, tick)

		if crossed(tick, last, cal.MediumPhase()) {
			d.pollOfferings(tick)

			if crossed(tick, last, cal.TicksPerHour) {
				d.healBlessed()

				if crossed(tick, last, cal.TicksPerDay) {
					d.trackMoods()
					d.detectDeaths(tick)

					if tick > 0 && crossed(tick, last, cal.TicksPerTwelfth) {
						d.scheduleSurvival(tick)
					}
				}
			}
		}
		inst.LastPolledTick = tick

		if d.dirty && crossed(tick, last, cal.MediumPhase()) {
			if err := d.save(ctx); err != nil {
				slog.Error("incremental save failed", "tick", tick, "error", err)
			}
		}
	}

	d.consumeResearchBoost()
}

// crossed reports whether tick and last fall in different phases.
func crossed(tick, last, phase int64) bool {
	if phase <= 0 {
		return true
	}
	return tick/phase != last/phase
}

func (d *Driver) checkSeed() {
	seed := d.host.WorldSeed()
	if d.inst != nil && d.inst.Seed == seed {
		return
	}
	if d.inst != nil {
		d.laterMu.Lock()
		dropped := d.later.Len()
		d.later = scheduler.NewStore()
		d.laterMu.Unlock()
		if dropped > 0 {
			slog.Info("follow-ups dropped with the previous world", "seed", d.inst.Seed, "count", dropped)
		}
	}
	_, known := d.durable.Instances[seed]
	d.inst = d.durable.Instance(seed)
	if d.durable.WorldSeed != seed {
		d.durable.WorldSeed = seed
		d.dirty = true
	}
	slog.Info("world seed changed", "seed", seed, "restored", known, "pending", d.inst.Schedule.Len())
}

func (d *Driver) save(ctx context.Context) error {
	if d.backend == nil {
		d.dirty = false
		return nil
	}
	if err := d.backend.Save(ctx, d.durable); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	d.dirty = false
	return nil
}

// dispatchDue drains the due actions. Within one drain a CallGod repeated
// with the same god and flags is deferred rather than run twice.
func (d *Driver) dispatchDue(ctx context.Context, tick int64) {
	batch := d.inst.Schedule.Drain(tick)
	if len(batch) == 0 {
		return
	}
	d.dirty = true
	seen := make(map[scheduler.CallGod]bool)
	for _, e := range batch {
		if key, ok := e.DuplicateKey(); ok {
			if seen[key] {
				due := d.inst.Schedule.Insert(d.tuning.Calendar.DeferTicks(), tick, e)
				slog.Info("duplicate call deferred", "id", e.ID, "subject", e.Subject(), "due", due)
				d.record(ctx, tick, e, OutcomeDeferred, nil)
				continue
			}
			seen[key] = true
		}
		d.execute(ctx, tick, e)
	}
}

func (d *Driver) execute(ctx context.Context, tick int64, e scheduler.Entry) {
	err := d.run(ctx, e)
	switch {
	case err == nil:
		slog.Info("action dispatched", "id", e.ID, "kind", e.Action.Kind(), "subject", e.Subject(), "tick", tick)
		d.record(ctx, tick, e, OutcomeDispatched, nil)
	case errors.Is(err, gods.ErrNotRegistered), errors.Is(err, gods.ErrDisabled):
		d.record(ctx, tick, e, OutcomeDropped, err)
	default:
		e.Attempts++
		due := d.inst.Schedule.Insert(d.tuning.RetryDelayTicks, tick, e)
		slog.Error("action failed, retrying",
			"id", e.ID,
			"subject", e.Subject(),
			"attempt", e.Attempts,
			"retry_at", due,
			"error", err,
		)
		d.record(ctx, tick, e, OutcomeRetry, err)
	}
}

// run executes one action. A panicking handler is reported as an error.
func (d *Driver) run(ctx context.Context, e scheduler.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch a := e.Action.(type) {
	case scheduler.CallGod:
		if err := d.gods.Invoke(ctx, a.God, a.Favor, a.Announce); err != nil {
			return err
		}
		if a.Favor && d.tracked[a.God] {
			d.durable.Counters.Add(a.God, 1)
			d.dirty = true
		}
		return nil
	case scheduler.SurvivalReward:
		d.host.Notify("The gods are pleased", "Your colony has endured. The pantheon sends its regards.")
		_, err := d.congrats.Fire(ctx, d.rng, gods.Subject{})
		return err
	case scheduler.WrathCall:
		if _, err := d.wraths.Fire(ctx, d.rng, gods.Subject{Name: a.Actor, Gender: a.Gender}); err != nil {
			return err
		}
		delete(d.inst.Mood, a.Actor)
		return nil
	case scheduler.Continuation:
		return a.Run(ctx)
	default:
		return fmt.Errorf("unhandled action %T", a)
	}
}

// pollOfferings turns new offering lines into scheduled calls.
func (d *Driver) pollOfferings(tick int64) {
	if d.logPath == "" {
		return
	}
	lines, err := d.tail.Poll(d.logPath)
	if err != nil {
		slog.Warn("offering log unreadable", "path", d.logPath, "error", err)
		return
	}
	if len(lines) > 0 {
		d.durable.SeenLog = d.tail.Lines()
		d.dirty = true
	}
	for _, line := range lines {
		c, ok := claims.Parse(line)
		if !ok {
			slog.Debug("not an offering", "line", line)
			continue
		}
		d.schedule(c, tick)
	}
}

// schedule applies the cost policy and queues the call. Favors are due on
// the next tick; wraths wait out the grace period, then arrive at once or a
// day later if the colony has an altar.
func (d *Driver) schedule(c claims.Claim, tick int64) (scheduler.Entry, bool) {
	if !d.policy.Accept(c) {
		slog.Info("offering below cost", "actor", c.Actor, "god", c.God, "points", c.Points, "cost", c.Cost)
		return scheduler.Entry{}, false
	}
	e := scheduler.NewEntry(scheduler.CallGod{God: c.God, Favor: c.Favor, Announce: true})
	due := d.inst.Schedule.Insert(d.claimDelay(c.Favor, tick), tick, e)
	e.Due = due
	d.dirty = true
	slog.Info("offering accepted", "id", e.ID, "actor", c.Actor, "subject", e.Subject(), "due", due)
	return e, true
}

func (d *Driver) claimDelay(favor bool, tick int64) int64 {
	if favor {
		return 1
	}
	cal := d.tuning.Calendar
	grace := cal.TicksPerDay * d.tuning.GraceDays
	if tick > grace {
		if d.inst.AltarState == 0 {
			return 0
		}
		return cal.TicksPerDay
	}
	return grace - tick
}

func (d *Driver) healBlessed() {
	for _, c := range d.host.Colonists() {
		if c.Dead || !c.HasTrait(d.tuning.HealTrait) {
			continue
		}
		if healed := colony.HealSlowly(c, d.tuning.HealBudget); healed > 0 {
			slog.Debug("blessed colonist healed", "name", c.Name, "amount", healed)
		}
	}
}

func (d *Driver) trackMoods() {
	for _, c := range d.host.Colonists() {
		if !c.Dead {
			d.inst.Mood[c.Name] = c.MoodPercent()
		}
	}
}

// detectDeaths gives each newly dead colonist a chance of a wrath call at
// a random point within the next season.
func (d *Driver) detectDeaths(tick int64) {
	for _, c := range d.host.Colonists() {
		if !c.Dead || d.inst.Dead[c.Name] {
			continue
		}
		d.inst.Dead[c.Name] = true
		if d.rng.Float64() >= d.tuning.WrathChance {
			slog.Info("colonist died, the gods are silent", "name", c.Name)
			continue
		}
		delay := d.rng.Int63n(d.tuning.Calendar.TicksPerSeason)
		e := scheduler.NewEntry(scheduler.WrathCall{Actor: c.Name, Gender: string(c.Gender)})
		due := d.inst.Schedule.Insert(delay, tick, e)
		d.dirty = true
		slog.Info("colonist died, wrath scheduled", "name", c.Name, "id", e.ID, "due", due)
	}
}

func (d *Driver) scheduleSurvival(tick int64) {
	for _, c := range d.host.Colonists() {
		if !c.Dead {
			e := scheduler.NewEntry(scheduler.SurvivalReward{})
			due := d.inst.Schedule.Insert(d.tuning.SurvivalDelayTicks, tick, e)
			d.dirty = true
			slog.Info("survival reward scheduled", "id", e.ID, "due", due)
			return
		}
	}
}

func (d *Driver) consumeResearchBoost() {
	name := d.tuning.ResearchCounter
	if name == "" || d.durable.Counters.Get(name) <= 0 || !d.host.ResearchActive() {
		return
	}
	d.host.BoostResearch()
	d.durable.Counters.Spend(name)
	d.dirty = true
}

// runContinuations runs every follow-up due at or before tick.
func (d *Driver) runContinuations(ctx context.Context, tick int64) {
	d.laterMu.Lock()
	due := d.later.Drain(tick + 1)
	d.laterMu.Unlock()
	for _, e := range due {
		if err := d.run(ctx, e); err != nil {
			slog.Error("follow-up failed", "name", e.Subject(), "error", err)
		}
	}
}
