package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Calendar converts game time units to ticks.
type Calendar struct {
	TicksPerHour    int64 `yaml:"ticks_per_hour"`
	TicksPerDay     int64 `yaml:"ticks_per_day"`
	TicksPerTwelfth int64 `yaml:"ticks_per_twelfth"`
	TicksPerSeason  int64 `yaml:"ticks_per_season"`
}

// Tuning holds the scheduling constants.
type Tuning struct {
	Calendar Calendar `yaml:"calendar"`

	// Allow-lists that bypass the offering cost.
	Privileged        []string `yaml:"privileged"`
	PartialPrivileged []string `yaml:"partial_privileged"`

	GraceDays          int64   `yaml:"grace_days"`           // early wraths wait until this day
	RetryDelayTicks    int64   `yaml:"retry_delay_ticks"`    // after a failed dispatch
	SurvivalDelayTicks int64   `yaml:"survival_delay_ticks"` // twelfth reward
	WrathChance        float64 `yaml:"wrath_chance"`         // per colonist death
	HealBudget         float64 `yaml:"heal_budget"`          // severity per hour
	HealTrait          string  `yaml:"heal_trait"`

	// Gods whose favors are stored for later spending.
	Counters        []string `yaml:"counters"`
	ResearchCounter string   `yaml:"research_counter"`
}

// DefaultTuning returns the stock constants. The calendar matches a
// 2500-tick hour.
func DefaultTuning() Tuning {
	return Tuning{
		Calendar: Calendar{
			TicksPerHour:    2500,
			TicksPerDay:     60000,
			TicksPerTwelfth: 300000,
			TicksPerSeason:  900000,
		},
		GraceDays:          3,
		RetryDelayTicks:    10,
		SurvivalDelayTicks: 5,
		WrathChance:        0.7,
		HealBudget:         2,
		HealTrait:          "blessed",
		Counters:           []string{"ares", "demeter", "hermes", "zeus"},
		ResearchCounter:    "research",
	}
}

// FinePhase is how often due actions are drained.
func (c Calendar) FinePhase() int64 { return c.TicksPerHour / 8 }

// MediumPhase is how often the offering log is polled.
func (c Calendar) MediumPhase() int64 { return c.TicksPerHour / 2 }

// DeferTicks is how far a duplicate call in the same drain is pushed back.
func (c Calendar) DeferTicks() int64 { return c.TicksPerHour/2 - 1 }

// LoadTuning reads path over DefaultTuning. An empty path or a missing
// file yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate checks that the phases are usable.
func (t Tuning) Validate() error {
	c := t.Calendar
	if c.TicksPerHour < 16 {
		return fmt.Errorf("ticks_per_hour %d: must be at least 16", c.TicksPerHour)
	}
	if c.TicksPerDay < c.TicksPerHour || c.TicksPerTwelfth < c.TicksPerDay || c.TicksPerSeason <= 0 {
		return errors.New("calendar units must grow hour <= day <= twelfth")
	}
	if t.WrathChance < 0 || t.WrathChance > 1 {
		return fmt.Errorf("wrath_chance %v: must be within [0, 1]", t.WrathChance)
	}
	return nil
}
