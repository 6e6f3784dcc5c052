package node

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTerminal Status = "terminal"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusActive, StatusInactive, StatusTerminal:
		return s, nil
	case "cancelled":
		return StatusTerminal, nil
	default:
		return "", fmt.Errorf("invalid status %q (expected active|inactive|terminal)", raw)
	}
}

// TransitionTable lists the statuses reachable from each status.
type TransitionTable map[Status][]Status

var lifecycleTransitions = TransitionTable{
	StatusActive:   {StatusInactive, StatusTerminal},
	StatusInactive: {StatusActive, StatusTerminal},
	StatusTerminal: nil,
}

// Organizations only toggle between active and inactive.
var toggleTransitions = TransitionTable{
	StatusActive:   {StatusInactive},
	StatusInactive: {StatusActive},
}

func TransitionsFor(kind Kind) TransitionTable {
	if kind == KindOrganization {
		return toggleTransitions
	}
	return lifecycleTransitions
}

func (t TransitionTable) Allows(from, to Status) bool {
	if from == to {
		return false
	}
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransition(kind Kind, from, to Status) bool {
	return TransitionsFor(kind).Allows(from, to)
}
