// Package engine provides the host clock: a tick loop that stands in for
// the game's own update loop when the scheduler runs headless.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/pantheon/internal/config"
)

// Engine drives the tick counter forward.
type Engine struct {
	Interval time.Duration // Base tick interval at speed 1
	Calendar config.Calendar

	// Callbacks, populated during setup.
	OnTick func(ctx context.Context, tick int64) // Every tick
	OnDay  func(ctx context.Context, tick int64) // Every Calendar.TicksPerDay

	mu    sync.Mutex
	tick  int64
	speed float64 // 1.0 = Interval per tick, 0 = paused
}

// NewEngine creates an engine at tick 0 running at speed 1.
func NewEngine(cal config.Calendar) *Engine {
	return &Engine{
		Interval: 10 * time.Millisecond,
		Calendar: cal,
		speed:    1.0,
	}
}

// Run steps until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("engine started", "tick", e.Tick(), "speed", e.Speed())

	for ctx.Err() == nil {
		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			sleep(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		e.Step(ctx)

		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			sleep(ctx, target-elapsed)
		}
	}

	slog.Info("engine stopped", "tick", e.Tick(), "sim_time", SimTime(e.Tick(), e.Calendar))
}

// Step advances by one tick and runs the callbacks. It returns the new tick.
func (e *Engine) Step(ctx context.Context) int64 {
	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(ctx, tick)
	}
	if day := e.Calendar.TicksPerDay; day > 0 && tick%day == 0 && e.OnDay != nil {
		e.OnDay(ctx, tick)
	}
	return tick
}

// Tick returns the current tick.
func (e *Engine) Tick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick moves the clock, e.g. to resume a saved game.
func (e *Engine) SetTick(tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick = tick
}

// Speed returns the speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var seasonNames = [4]string{"Spring", "Summer", "Autumn", "Winter"}

// SimTime returns a human-readable game time for a tick.
func SimTime(tick int64, cal config.Calendar) string {
	if cal.TicksPerHour <= 0 || cal.TicksPerDay <= 0 || cal.TicksPerSeason <= 0 {
		return fmt.Sprintf("tick %d", tick)
	}
	seasons := tick / cal.TicksPerSeason
	day := (tick%cal.TicksPerSeason)/cal.TicksPerDay + 1
	hour := (tick % cal.TicksPerDay) / cal.TicksPerHour
	year := seasons/4 + 1

	return fmt.Sprintf("%s Day %d, %02dh Year %d",
		seasonNames[seasons%4], day, hour, year)
}
