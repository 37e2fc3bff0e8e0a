package pipeline

import "fmt"

// Phase is the coarse display state a UI derives from the event stream.
type Phase string

// Display phases.
const (
	PhaseInProgress Phase = "in_progress"
	PhaseFailed     Phase = "failed"
	PhaseDone       Phase = "done"
)

// State is the renderable view of a single event.
type State struct {
	Phase   Phase
	Step    Step
	Status  Status
	Percent *float64
	Message string
}

// DescribeState maps an event onto the three states every UI must render.
func DescribeState(evt ProgressEvent) State {
	st := State{Step: evt.Step, Status: evt.Status, Percent: evt.Value, Message: evt.Message}
	switch {
	case evt.Status == StatusFailed:
		st.Phase = PhaseFailed
		st.Message = evt.Error
		if st.Message == "" {
			st.Message = fmt.Sprintf("step %s failed", evt.Step)
		}
	case evt.IsTerminal():
		st.Phase = PhaseDone
	default:
		st.Phase = PhaseInProgress
	}
	return st
}

// String renders the state on a single line.
func (s State) String() string {
	switch s.Phase {
	case PhaseFailed:
		return fmt.Sprintf("%s failed: %s", s.Step, s.Message)
	case PhaseDone:
		return "pipeline done"
	}
	if s.Status == StatusDone {
		return fmt.Sprintf("%s done", s.Step)
	}
	out := fmt.Sprintf("%s in progress", s.Step)
	if s.Percent != nil {
		out = fmt.Sprintf("%s (%.0f%%)", out, *s.Percent)
	}
	if s.Message != "" {
		out += ": " + s.Message
	}
	return out
}

const (
	minDepth     = 50
	maxDepth     = 1000
	defaultDepth = 250
)

// ClampDepth bounds a requested crawl depth to the allowed range. Zero or
// negative values fall back to the default.
func ClampDepth(n int) int {
	switch {
	case n <= 0:
		return defaultDepth
	case n < minDepth:
		return minDepth
	case n > maxDepth:
		return maxDepth
	default:
		return n
	}
}
