package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes how a request ended.
type Stage string

// Supported request stages.
const (
	// StageRequestDone marks a request answered with 200 or a HEAD handled silently.
	StageRequestDone Stage = "REQUEST_DONE"
	// StageRequestRejected marks a request answered with 400 or 405.
	StageRequestRejected Stage = "REQUEST_REJECTED"
	// StageRequestAbandoned marks a connection closed without a response.
	StageRequestAbandoned Stage = "REQUEST_ABANDONED"
)

// Event captures the outcome of a single command request.
type Event struct {
	// RequestID uniquely identifies the request using the 16-byte UUID form.
	RequestID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes how the request ended.
	Stage Stage
	// Method is the request method, possibly empty for abandoned reads.
	Method string
	// Command is the parsed command name; empty for the static page.
	Command string
	// Status is the HTTP status written, or 0 when nothing was written.
	Status int
	// Delivered counts the subscribers the command was fired at.
	Delivered int
	// Dur is the time from accept to close.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RequestID == [16]byte{} {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRequestDone:
		if e.Method == "" {
			return errors.New("completed request requires method")
		}
	case StageRequestRejected:
		if e.Status == 0 {
			return errors.New("rejected request requires status")
		}
	case StageRequestAbandoned:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Delivered < 0 {
		return errors.New("delivered must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RequestUUID converts the binary request ID to uuid.UUID.
func (e Event) RequestUUID() uuid.UUID {
	return uuid.UUID(e.RequestID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// StatusLabel renders a status code for metric labels; 0 becomes "none".
func StatusLabel(code int) string {
	if code == 0 {
		return "none"
	}
	return fmt.Sprintf("%d", code)
}
