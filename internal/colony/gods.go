package colony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/pantheon/internal/gods"
)

// ErrNoTarget is returned by effects that found nobody to act on. The
// scheduler retries such calls.
var ErrNoTarget = errors.New("no valid target")

// Deferrer queues a follow-up effect a number of ticks from now.
type Deferrer interface {
	After(delay int64, name string, fn func(ctx context.Context) error)
}

// raidWaveDelay is the gap between the two waves of a raid.
const raidWaveDelay = 250

// RegisterGods adds the demo pantheon to reg. Each god has one favor and
// one wrath acting on c; later carries multi-stage effects.
func RegisterGods(reg *gods.Registry, c *Colony, later Deferrer) {
	reg.Register("ares", func(ctx context.Context, favor, announce bool) error {
		if favor {
			return c.mend(announce)
		}
		if err := c.raid(announce, 4); err != nil {
			return err
		}
		if later != nil {
			later.After(raidWaveDelay, "ares second wave", func(context.Context) error {
				return c.raid(announce, 2)
			})
		}
		return nil
	})
	reg.Register("demeter", func(ctx context.Context, favor, announce bool) error {
		if favor {
			col := c.Spawn()
			c.announce(announce, "Demeter's bloom", fmt.Sprintf("%s has joined the colony.", col.Name))
			return nil
		}
		if c.shiftMood(-0.2) == 0 {
			return ErrNoTarget
		}
		c.announce(announce, "Demeter's blight", "The harvest withers. Spirits sink.")
		return nil
	})
	reg.Register("hermes", func(ctx context.Context, favor, announce bool) error {
		if !c.ResearchActive() {
			return fmt.Errorf("hermes: %w: no research project", ErrNoTarget)
		}
		if favor {
			for i := 0; i < 3; i++ {
				c.BoostResearch()
			}
			c.announce(announce, "Hermes' insight", "Your researchers make a breakthrough.")
			return nil
		}
		c.mu.Lock()
		c.progress = max(0, c.progress-20)
		c.mu.Unlock()
		c.announce(announce, "Hermes' trick", "Research notes have gone missing.")
		return nil
	})
	reg.Register("zeus", func(ctx context.Context, favor, announce bool) error {
		if favor {
			if c.shiftMood(0.2) == 0 {
				return ErrNoTarget
			}
			c.announce(announce, "Zeus' blessing", "A warm wind lifts every heart.")
			return nil
		}
		col, ok := c.pick()
		if !ok {
			return ErrNoTarget
		}
		c.injure(col, "torso", 8)
		c.announce(announce, "Zeus' thunderbolt", fmt.Sprintf("Lightning strikes %s.", col.Name))
		return nil
	})
}

// CongratsPool returns the omens sent when the colony survives a twelfth.
func CongratsPool(c *Colony) *gods.Pool {
	return gods.NewPool("congrats",
		gods.NamedOmen{Name: "feast", Run: func(context.Context, gods.Subject) error {
			c.shiftMood(0.1)
			return nil
		}},
		gods.NamedOmen{Name: "insight", Run: func(context.Context, gods.Subject) error {
			c.BoostResearch()
			return nil
		}},
		gods.NamedOmen{Name: "mending", Run: func(context.Context, gods.Subject) error {
			for _, col := range c.Living() {
				HealSlowly(col, 1)
			}
			return nil
		}},
	)
}

// WrathPool returns the omens sent after a colonist dies.
func WrathPool(c *Colony) *gods.Pool {
	return gods.NewPool("wrath",
		gods.NamedOmen{Name: "haunting", Run: func(_ context.Context, s gods.Subject) error {
			c.Notify("A haunting", fmt.Sprintf("The ghost of %s walks among %s kin.", s.Name, possessive(s.Gender)))
			c.shiftMood(-0.1)
			return nil
		}},
		gods.NamedOmen{Name: "vengeance", Run: func(_ context.Context, s gods.Subject) error {
			col, ok := c.pick()
			if !ok {
				return ErrNoTarget
			}
			c.injure(col, "leg", 3)
			c.Notify("Vengeance", fmt.Sprintf("%s is struck down in the name of %s.", col.Name, s.Name))
			return nil
		}},
	)
}

func possessive(gender string) string {
	switch Gender(gender) {
	case GenderMale:
		return "his"
	case GenderFemale:
		return "her"
	default:
		return "their"
	}
}

func (c *Colony) announce(on bool, title, text string) {
	if on {
		c.Notify(title, text)
	}
}

func (c *Colony) injure(col *Colonist, part string, severity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col.Injuries = append(col.Injuries, &Injury{Part: part, Severity: severity})
	slog.Debug("colonist injured", "name", col.Name, "part", part, "severity", severity)
}

// mend heals the worst-hurt colonist.
func (c *Colony) mend(announce bool) error {
	var worst *Colonist
	for _, col := range c.Living() {
		if col.TotalSeverity() > 0 && (worst == nil || col.TotalSeverity() > worst.TotalSeverity()) {
			worst = col
		}
	}
	if worst == nil {
		return ErrNoTarget
	}
	c.mu.Lock()
	healed := HealSlowly(worst, 5)
	c.mu.Unlock()
	c.announce(announce, "Ares' mercy", fmt.Sprintf("%s's wounds close (%.1f).", worst.Name, healed))
	return nil
}

func (c *Colony) raid(announce bool, severity float64) error {
	col, ok := c.pick()
	if !ok {
		return ErrNoTarget
	}
	c.injure(col, "arm", severity)
	c.announce(announce, "Ares' raid", fmt.Sprintf("Raiders wound %s.", col.Name))
	return nil
}
