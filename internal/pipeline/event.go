package pipeline

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Step names a pipeline stage. StepPipeline is synthetic and stands for the
// whole run rather than a remotely executed stage.
type Step string

// Steps in protocol order.
const (
	StepInitializing Step = "initializing"
	StepCrawling     Step = "crawling"
	StepEmbedding    Step = "embedding"
	StepIndexing     Step = "indexing"
	StepPipeline     Step = "pipeline"
)

// RemoteSteps lists the stages executed by the backend, in order.
var RemoteSteps = []Step{StepInitializing, StepCrawling, StepEmbedding, StepIndexing}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	switch s {
	case StepInitializing, StepCrawling, StepEmbedding, StepIndexing, StepPipeline:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state carried by an event.
type Status string

// Supported statuses.
const (
	StatusStart      Status = "start"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStart, StatusInProgress, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// ProgressEvent is one message of the progress protocol.
type ProgressEvent struct {
	// Step is the stage the event refers to.
	Step Step `json:"step"`
	// Status is the stage lifecycle state.
	Status Status `json:"status"`
	// Value is an optional completion percentage (0-100), usually only set
	// on in_progress events.
	Value *float64 `json:"value,omitempty"`
	// Message is optional human-readable context.
	Message string `json:"message,omitempty"`
	// Error carries the failure reason on failed events.
	Error string `json:"error,omitempty"`
	// Synthetic marks events generated locally rather than received.
	Synthetic bool `json:"-"`
}

// StepFunc receives progress events in the order they were received.
type StepFunc func(ProgressEvent)

// IsTerminal reports whether evt ends a run.
func (e ProgressEvent) IsTerminal() bool {
	return e.Step == StepPipeline && (e.Status == StatusDone || e.Status == StatusFailed)
}

// Validate checks the event against the protocol.
func (e ProgressEvent) Validate() error {
	if !e.Step.Valid() {
		return errors.Newf("unknown step %q", e.Step)
	}
	if !e.Status.Valid() {
		return errors.Newf("unknown status %q", e.Status)
	}
	if e.Value != nil && (*e.Value < 0 || *e.Value > 100) {
		return errors.Newf("value %v out of range 0-100", *e.Value)
	}
	return nil
}

// DecodeEvent parses one inbound message. Anything that does not match the
// protocol is returned as a protocol error.
func DecodeEvent(data []byte) (ProgressEvent, error) {
	var evt ProgressEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ProgressEvent{}, MarkProtocol(errors.Wrap(err, "decode progress event"))
	}
	if err := evt.Validate(); err != nil {
		return ProgressEvent{}, MarkProtocol(errors.Wrap(err, "invalid progress event"))
	}
	return evt, nil
}

// Start builds a local start notification for step.
func Start(step Step) ProgressEvent {
	return ProgressEvent{Step: step, Status: StatusStart, Synthetic: true}
}

// Percent is a helper for building events with a value.
func Percent(v float64) *float64 {
	return &v
}

// Result maps each step seen during a run to its most recent event.
type Result map[Step]ProgressEvent

// Record stores evt under its step.
func (r Result) Record(evt ProgressEvent) {
	r[evt.Step] = evt
}

// Merge copies every entry of other into r.
func (r Result) Merge(other Result) {
	for step, evt := range other {
		r[step] = evt
	}
}

// Steps returns the recorded steps in protocol order.
func (r Result) Steps() []Step {
	out := make([]Step, 0, len(r))
	for _, s := range append(append([]Step(nil), RemoteSteps...), StepPipeline) {
		if _, ok := r[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
