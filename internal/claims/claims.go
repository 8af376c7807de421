// Package claims parses offering lines written by the donation bridge and
// decides whether an offering paid enough to move its god.
package claims

import (
	"strconv"
	"strings"
)

// Claim is one parsed offering line.
type Claim struct {
	Actor  string
	Favor  bool
	God    string
	Points int
	Cost   int
}

// Parse reads a line of the form "<actor> <favor|wrath> <god> <points> <cost>".
// Lines of any other shape are not offerings and return false.
func Parse(line string) (Claim, bool) {
	tokens := strings.Fields(line)
	if len(tokens) != 5 {
		return Claim{}, false
	}
	points, ok := parseAmount(tokens[3])
	if !ok {
		return Claim{}, false
	}
	cost, ok := parseAmount(tokens[4])
	if !ok {
		return Claim{}, false
	}
	return Claim{
		Actor:  tokens[0],
		Favor:  strings.EqualFold(tokens[1], "favor"),
		God:    tokens[2],
		Points: points,
		Cost:   cost,
	}, true
}

func parseAmount(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Policy holds the allow-lists that bypass the cost threshold.
// Privileged actors always pass; partially privileged actors pay half.
type Policy struct {
	privileged map[string]bool
	partial    map[string]bool
}

// NewPolicy builds a policy. Names compare case-insensitively.
func NewPolicy(privileged, partial []string) Policy {
	return Policy{
		privileged: nameSet(privileged),
		partial:    nameSet(partial),
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[n] = true
		}
	}
	return set
}

// Accept reports whether the claim earns its god's attention.
func (p Policy) Accept(c Claim) bool {
	if c.Points >= c.Cost {
		return true
	}
	actor := strings.ToLower(c.Actor)
	if p.privileged[actor] {
		return true
	}
	return p.partial[actor] && c.Points >= c.Cost/2
}
