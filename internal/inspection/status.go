// Package inspection models the pin inspection workflow and the closure
// review applied before a pin may be signed off.
package inspection

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusOpen               Status = "Open"
	StatusReadyForInspection Status = "ReadyForInspection"
	StatusClosed             Status = "Closed"
)

var transitions = map[Status][]Status{
	StatusOpen:               {StatusReadyForInspection},
	StatusReadyForInspection: {StatusClosed, StatusOpen},
	StatusClosed:             {StatusOpen},
}

// ParseStatus accepts the canonical names case-insensitively. An empty value
// is Open.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "open":
		return StatusOpen, nil
	case "readyforinspection", "ready_for_inspection", "ready":
		return StatusReadyForInspection, nil
	case "closed":
		return StatusClosed, nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from may move to to. Staying put is allowed.
func CanTransition(from, to Status) bool {
	if from == "" {
		from = StatusOpen
	}
	if from == to {
		return to.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProximityAdvice returns guidance for a new pin given the statuses of the
// pins already placed near it.
func ProximityAdvice(nearby []Status) []string {
	advice := []string{}
	switch {
	case len(nearby) == 0:
		advice = append(advice, "No nearby pins - isolated issue")
	case len(nearby) > 5:
		advice = append(advice, "High concentration area - may indicate systemic issue")
	case len(nearby) > 3:
		advice = append(advice, "High pin density detected - consider consolidating related issues")
	}
	for _, status := range nearby {
		if status == StatusOpen || status == "" {
			advice = append(advice, "Open pins nearby - coordinate resolution efforts")
			break
		}
	}
	return advice
}
