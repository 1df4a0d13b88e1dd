package inspection

import (
	"fmt"
	"strings"
	"time"
)

type Decision string

const (
	DecisionApprove         Decision = "APPROVE"
	DecisionReject          Decision = "REJECT"
	DecisionRequestMoreInfo Decision = "REQUEST_MORE_INFO"
)

// Subject is everything the closure review looks at for one pin.
type Subject struct {
	Status           Status
	HasClosingPhoto  bool
	ChildStatuses    []Status
	Notes            string
	CorrectiveAction string
	DueDate          *time.Time
}

// Checks holds the individual outcomes. WithinSLA is nil when no due date is set.
type Checks struct {
	HasClosingPhoto       bool  `json:"hasClosingPhoto"`
	ReadyForInspection    bool  `json:"readyForInspection"`
	AllChildrenClosed     bool  `json:"allChildrenClosed"`
	HasDocumentation      bool  `json:"hasDocumentation"`
	WithinSLA             *bool `json:"withinSla"`
	ResolutionAppropriate bool  `json:"resolutionAppropriate"`
}

type Result struct {
	Decision   Decision `json:"decision"`
	Rationale  string   `json:"rationale"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Checks     Checks   `json:"checks"`
	Failed     []string `json:"failed,omitempty"`
}

func Evaluate(subject Subject, now time.Time) Checks {
	checks := Checks{
		HasClosingPhoto:    subject.HasClosingPhoto,
		ReadyForInspection: subject.Status == StatusReadyForInspection,
		AllChildrenClosed:  true,
		HasDocumentation:   strings.TrimSpace(subject.Notes) != "" || strings.TrimSpace(subject.CorrectiveAction) != "",
	}
	for _, child := range subject.ChildStatuses {
		if child != StatusClosed {
			checks.AllChildrenClosed = false
			break
		}
	}
	if subject.DueDate != nil {
		within := !now.After(*subject.DueDate)
		checks.WithinSLA = &within
	}
	checks.ResolutionAppropriate = len(strings.TrimSpace(subject.CorrectiveAction)) > 10
	return checks
}

// Review decides whether a pin can be closed. Any failed critical check is a
// rejection; otherwise the quality score picks the outcome.
func Review(subject Subject, now time.Time) Result {
	checks := Evaluate(subject, now)

	var failed []string
	if !checks.HasClosingPhoto {
		failed = append(failed, "has_closing_photo")
	}
	if !checks.ReadyForInspection {
		failed = append(failed, "status_ready_for_review")
	}
	if !checks.AllChildrenClosed {
		failed = append(failed, "all_children_closed")
	}
	if len(failed) > 0 {
		return Result{
			Decision:   DecisionReject,
			Rationale:  "Critical requirements not met: " + strings.Join(failed, ", "),
			Confidence: 0.95,
			Checks:     checks,
			Failed:     failed,
		}
	}

	score := 0.0
	if checks.HasDocumentation {
		score++
	}
	switch {
	case checks.WithinSLA == nil:
		score += 0.5
	case *checks.WithinSLA:
		score++
	}
	if checks.ResolutionAppropriate {
		score++
	}
	ratio := score / 3

	result := Result{Score: ratio, Checks: checks}
	switch {
	case ratio >= 0.8:
		result.Decision = DecisionApprove
		result.Rationale = fmt.Sprintf("All critical requirements met, quality score: %.1f%%", ratio*100)
		result.Confidence = 0.9
	case ratio >= 0.6:
		result.Decision = DecisionRequestMoreInfo
		result.Rationale = fmt.Sprintf("Marginal quality score: %.1f%%. Need additional documentation", ratio*100)
		result.Confidence = 0.7
	default:
		result.Decision = DecisionReject
		result.Rationale = fmt.Sprintf("Low quality score: %.1f%%. Insufficient documentation", ratio*100)
		result.Confidence = 0.8
	}
	return result
}
