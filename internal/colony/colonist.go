// Package colony models the colonists the gods act upon, and provides an
// in-memory colony that stands in for the game when running headless.
package colony

import (
	"slices"
	"sort"
)

// Gender of a colonist, as written into wrath letters.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderNone   Gender = "none"
)

// Injury is one wound on a colonist.
type Injury struct {
	Part     string  `json:"part"`
	Severity float64 `json:"severity"`
}

// Colonist is a player-controlled pawn.
type Colonist struct {
	Name     string    `json:"name"`
	Gender   Gender    `json:"gender"`
	Mood     float64   `json:"mood"` // 0..1
	Dead     bool      `json:"dead"`
	Traits   []string  `json:"traits,omitempty"`
	Injuries []*Injury `json:"injuries,omitempty"`
}

// HasTrait reports whether the colonist carries trait.
func (c *Colonist) HasTrait(trait string) bool {
	return slices.Contains(c.Traits, trait)
}

// MoodPercent returns mood as a percentage.
func (c *Colonist) MoodPercent() float64 {
	return c.Mood * 100
}

// TotalSeverity sums the severity of every injury.
func (c *Colonist) TotalSeverity() float64 {
	total := 0.0
	for _, inj := range c.Injuries {
		total += inj.Severity
	}
	return total
}

// HealSlowly spends up to budget severity points healing c, smallest
// injury first. Fully healed injuries are removed. Returns the amount healed.
func HealSlowly(c *Colonist, budget float64) float64 {
	if c.Dead || budget <= 0 || len(c.Injuries) == 0 {
		return 0
	}
	sort.SliceStable(c.Injuries, func(i, j int) bool {
		return c.Injuries[i].Severity < c.Injuries[j].Severity
	})

	healed := 0.0
	kept := c.Injuries[:0]
	for _, inj := range c.Injuries {
		if budget > 0 {
			amount := min(inj.Severity, budget)
			inj.Severity -= amount
			budget -= amount
			healed += amount
		}
		if inj.Severity > 0 {
			kept = append(kept, inj)
		}
	}
	c.Injuries = kept
	return healed
}
