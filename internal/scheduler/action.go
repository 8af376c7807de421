// Package scheduler holds pending god invocations keyed by the absolute
// tick at which they become due.
package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Kind names an Action variant. It is the discriminator used by the
// persisted formats.
type Kind uint8

const (
	KindCallGod        Kind = iota // a god's favor or wrath
	KindSurvivalReward             // periodic congratulation
	KindWrathCall                  // a dead colonist's revenge
	KindContinuation               // in-memory follow-up, never persisted
)

// String returns the persisted name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCallGod:
		return "callGod"
	case KindSurvivalReward:
		return "survivalReward"
	case KindWrathCall:
		return "wrathCall"
	case KindContinuation:
		return "continuation"
	default:
		return "unknown"
	}
}

// ParseKind maps a persisted kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "callGod":
		return KindCallGod, nil
	case "survivalReward":
		return KindSurvivalReward, nil
	case "wrathCall":
		return KindWrathCall, nil
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

// Action is one of CallGod, SurvivalReward, WrathCall or Continuation.
type Action interface {
	Kind() Kind
	action()
}

// CallGod invokes a registered god.
type CallGod struct {
	God      string
	Favor    bool
	Announce bool
}

// SurvivalReward congratulates the colony for staying alive.
type SurvivalReward struct{}

// WrathCall avenges a dead colonist.
type WrathCall struct {
	Actor  string
	Gender string
}

// Continuation is a follow-up step an effect asks to run a few ticks later.
type Continuation struct {
	Name string
	Run  func(ctx context.Context) error
}

func (CallGod) Kind() Kind        { return KindCallGod }
func (SurvivalReward) Kind() Kind { return KindSurvivalReward }
func (WrathCall) Kind() Kind      { return KindWrathCall }
func (Continuation) Kind() Kind   { return KindContinuation }

func (CallGod) action()        {}
func (SurvivalReward) action() {}
func (WrathCall) action()      {}
func (Continuation) action()   {}

// Entry is a scheduled Action. The ID survives retries and deferrals so a
// single request can be followed through the logs.
type Entry struct {
	ID       uuid.UUID
	Due      int64
	Attempts int
	Action   Action
}

// NewEntry wraps an action with a fresh ID.
func NewEntry(a Action) Entry {
	return Entry{ID: uuid.New(), Action: a}
}

// Subject returns a short description for logs and the journal.
func (e Entry) Subject() string {
	switch a := e.Action.(type) {
	case CallGod:
		polarity := "wrath"
		if a.Favor {
			polarity = "favor"
		}
		return a.God + " " + polarity
	case SurvivalReward:
		return "survival"
	case WrathCall:
		return a.Actor
	case Continuation:
		return a.Name
	default:
		return ""
	}
}

// DuplicateKey identifies CallGod entries that would produce the same effect.
// Other kinds never collide.
func (e Entry) DuplicateKey() (CallGod, bool) {
	c, ok := e.Action.(CallGod)
	return c, ok
}
