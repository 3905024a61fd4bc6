package models

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// ErrMissingField is returned when an event lacks an identifier its kind requires.
var ErrMissingField = xerrors.New("missing required field")

// Kind is the wire discriminator of an Event ("type" in JSON).
type Kind string

const (
	KindEnter         Kind = "HamsterEnter"
	KindExit          Kind = "HamsterExit"
	KindSpin          Kind = "WheelSpin"
	KindSensorFailure Kind = "SensorFailure"
)

// Event is the tagged union of sensor telemetry. Only the fields of its Kind are meaningful:
//
//	HamsterEnter, HamsterExit: HamsterID, WheelID
//	WheelSpin:                 WheelID, DurationMs
//	SensorFailure:             SensorID, ErrorCode
type Event struct {
	Type       Kind   `json:"type" binding:"required"`
	HamsterID  string `json:"hamsterId,omitempty"`
	WheelID    string `json:"wheelId,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	SensorID   string `json:"sensorId,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

func Enter(hamsterID, wheelID string) Event {
	return Event{Type: KindEnter, HamsterID: hamsterID, WheelID: wheelID}
}

func Exit(hamsterID, wheelID string) Event {
	return Event{Type: KindExit, HamsterID: hamsterID, WheelID: wheelID}
}

func Spin(wheelID string, durationMs int64) Event {
	return Event{Type: KindSpin, WheelID: wheelID, DurationMs: durationMs}
}

func SensorFailure(sensorID, errorCode string) Event {
	return Event{Type: KindSensorFailure, SensorID: sensorID, ErrorCode: errorCode}
}

// Validate rejects events that cannot be applied. A negative spin duration is
// not a validation failure; the dispatcher treats it as a no-op.
func (e Event) Validate() error {
	switch e.Type {
	case KindEnter, KindExit:
		if strings.TrimSpace(e.HamsterID) == "" {
			return xerrors.Errorf("%s: hamsterId: %w", e.Type, ErrMissingField)
		}
		if strings.TrimSpace(e.WheelID) == "" {
			return xerrors.Errorf("%s: wheelId: %w", e.Type, ErrMissingField)
		}
	case KindSpin:
		if strings.TrimSpace(e.WheelID) == "" {
			return xerrors.Errorf("%s: wheelId: %w", e.Type, ErrMissingField)
		}
	case KindSensorFailure:
	case "":
		return xerrors.Errorf("type: %w", ErrMissingField)
	default:
		return xerrors.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func (e Event) String() string {
	switch e.Type {
	case KindEnter, KindExit:
		return fmt.Sprintf("%s{hamster=%s wheel=%s}", e.Type, e.HamsterID, e.WheelID)
	case KindSpin:
		return fmt.Sprintf("%s{wheel=%s durationMs=%d}", e.Type, e.WheelID, e.DurationMs)
	case KindSensorFailure:
		return fmt.Sprintf("%s{sensor=%s code=%s}", e.Type, e.SensorID, e.ErrorCode)
	default:
		return fmt.Sprintf("%s{}", e.Type)
	}
}

// Envelope is an Event as accepted by ingress.
// ReceivedAt is stamped by the server and decides which day the event counts towards.
type Envelope struct {
	ID         string    `json:"id"`
	Event      Event     `json:"event"`
	SensorID   string    `json:"sensorId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// EventIngestResponse is returned by POST /events.
type EventIngestResponse struct {
	EventID    string    `json:"event_id"`
	ReceivedAt time.Time `json:"received_at"`
}
