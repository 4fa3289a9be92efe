package discovery

import (
	"time"

	"github.com/xkilldash9x/locus/api/schemas"
)

// State is the terminal state of a discovery run.
type State string

const (
	StateCompleted                State = "Completed"
	StatePartiallyMappedAndHalted State = "PartiallyMappedAndHalted"
	StateFailed                   State = "Failed"
)

// Mapping is a step resolved to a durable locator and executed.
type Mapping struct {
	StepNumber   int                        `json:"step_number"`
	Description  string                     `json:"description"`
	ActionType   schemas.ActionType         `json:"action_type"`
	Locator      schemas.Locator            `json:"locator"`
	Value        string                     `json:"value,omitempty"`
	Confidence   int                        `json:"confidence"`
	Method       schemas.Method             `json:"method"`
	Reason       string                     `json:"reason,omitempty"`
	Element      schemas.ElementDescriptor  `json:"element"`
	IsInModal    bool                       `json:"is_in_modal"`
	Alternatives []schemas.ElementCandidate `json:"alternatives,omitempty"`
}

// UnmappedStep is the step that halted a run.
type UnmappedStep struct {
	StepNumber  int                   `json:"step_number"`
	Description string                `json:"description"`
	Reason      string                `json:"reason"`
	Failures    []schemas.TierFailure `json:"failures,omitempty"`
}

// LogEntry is one line of the execution log.
type LogEntry struct {
	Time       time.Time `json:"time"`
	StepNumber int       `json:"step_number,omitempty"`
	Message    string    `json:"message"`
}

// Report is the result of DiscoverElementsSequentially.
type Report struct {
	Scenario          string         `json:"scenario"`
	ProjectID         string         `json:"project_id"`
	State             State          `json:"state"`
	TotalSteps        int            `json:"total_steps"`
	Mappings          []Mapping      `json:"mappings"`
	Unmapped          []UnmappedStep `json:"unmapped_steps"`
	OverallConfidence float64        `json:"overall_confidence"`
	ExecutionLog      []LogEntry     `json:"execution_log"`
	Error             string         `json:"error,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
}

func (r *Report) finish(now time.Time) {
	r.FinishedAt = now
	if len(r.Mappings) == 0 {
		r.OverallConfidence = 0
		return
	}
	sum := 0
	for _, m := range r.Mappings {
		sum += m.Confidence
	}
	r.OverallConfidence = float64(sum) / float64(len(r.Mappings))
}

// Skipped is the number of steps that produced neither a mapping nor an
// unmapped entry: non-executable steps, page level navigation and every step
// after a halt.
func (r *Report) Skipped() int {
	n := r.TotalSteps - len(r.Mappings) - len(r.Unmapped)
	if n < 0 {
		return 0
	}
	return n
}
