package progress

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

// Event is a progress message tagged with the run it belongs to.
type Event struct {
	// RunKey identifies the logical run.
	RunKey string
	// ClientID is the identity the run was started with.
	ClientID string
	// TS is the UTC time the event was observed locally.
	TS time.Time
	// Step and Status mirror the protocol event.
	Step   pipeline.Step
	Status pipeline.Status
	// Value is the optional completion percentage.
	Value *float64
	// Message and Error carry optional text from the backend.
	Message string
	Error   string
	// Synthetic marks events generated by the client.
	Synthetic bool
}

// FromProgress tags a protocol event with its run.
func FromProgress(runKey, clientID string, ts time.Time, evt pipeline.ProgressEvent) Event {
	return Event{
		RunKey:    runKey,
		ClientID:  clientID,
		TS:        ts.UTC(),
		Step:      evt.Step,
		Status:    evt.Status,
		Value:     evt.Value,
		Message:   evt.Message,
		Error:     evt.Error,
		Synthetic: evt.Synthetic,
	}
}

// Terminal reports whether the event ends its run.
func (e Event) Terminal() bool {
	return e.Step == pipeline.StepPipeline && (e.Status == pipeline.StatusDone || e.Status == pipeline.StatusFailed)
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunKey == "" {
		return errors.New("run key is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return pipeline.ProgressEvent{Step: e.Step, Status: e.Status, Value: e.Value}.Validate()
}
