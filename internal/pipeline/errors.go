package pipeline

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds. Errors returned by the connection manager and orchestrator are
// marked with exactly one of these; test with errors.Is or KindOf.
var (
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrRemoteFailure = errors.New("remote failure")
	ErrTimeout       = errors.New("timeout")
	ErrAbandoned     = errors.New("abandoned")
)

// Kind is a coarse error classification suitable for display.
type Kind string

// Supported kinds.
const (
	KindTransport     Kind = "transport"
	KindProtocol      Kind = "protocol"
	KindRemoteFailure Kind = "remote_failure"
	KindTimeout       Kind = "timeout"
	KindAbandoned     Kind = "abandoned"
	KindUnknown       Kind = "unknown"
)

// KindOf classifies err. Nil errors report KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrRemoteFailure):
		return KindRemoteFailure
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrAbandoned):
		return KindAbandoned
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// MarkTransport tags err as a connection-level failure.
func MarkTransport(err error) error { return errors.Mark(err, ErrTransport) }

// MarkProtocol tags err as a malformed message failure.
func MarkProtocol(err error) error { return errors.Mark(err, ErrProtocol) }

// MarkTimeout tags err as a deadline failure.
func MarkTimeout(err error) error { return errors.Mark(err, ErrTimeout) }

// MarkAbandoned tags err as a local abandonment.
func MarkAbandoned(err error) error { return errors.Mark(err, ErrAbandoned) }

// RemoteError is returned when the backend reports a failed status.
type RemoteError struct {
	Step    Step
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Step, e.Message)
}

// NewRemoteError builds a marked RemoteError from a failed event.
func NewRemoteError(evt ProgressEvent) error {
	msg := evt.Error
	if msg == "" {
		msg = fmt.Sprintf("step %s failed", evt.Step)
	}
	return errors.Mark(&RemoteError{Step: evt.Step, Message: msg}, ErrRemoteFailure)
}

// Failed builds the synthetic pipeline failure event reported to subscribers
// when a run ends with err.
func Failed(err error) ProgressEvent {
	msg := "pipeline error"
	if err != nil {
		msg = err.Error()
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		msg = remote.Message
	}
	return ProgressEvent{Step: StepPipeline, Status: StatusFailed, Error: msg, Synthetic: true}
}

// Done builds the synthetic pipeline completion event.
func Done() ProgressEvent {
	return ProgressEvent{Step: StepPipeline, Status: StatusDone, Synthetic: true}
}
