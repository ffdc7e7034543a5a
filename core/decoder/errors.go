package decoder

import (
	"errors"
	"fmt"
)

// Reason classifies why a message could not be decoded.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonMissingVehicleID Reason = "missing_vehicle_id"
)

var (
	// ErrMalformed is matched by decode failures on unparsable payloads.
	ErrMalformed = errors.New("malformed payload")
	// ErrMissingVehicleID is matched when neither body nor topic name a vehicle.
	ErrMissingVehicleID = errors.New("missing vehicle id")
)

// DecodeError is returned by Decode for every rejected message.
type DecodeError struct {
	Reason Reason
	Topic  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s (topic %q): %v", e.Reason, e.Topic, e.Err)
	}
	return fmt.Sprintf("decode %s (topic %q)", e.Reason, e.Topic)
}

// Unwrap exposes both the reason sentinel and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	sentinel := ErrMalformed
	if e.Reason == ReasonMissingVehicleID {
		sentinel = ErrMissingVehicleID
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

func malformed(topic string, err error) error {
	return &DecodeError{Reason: ReasonMalformed, Topic: topic, Err: err}
}
