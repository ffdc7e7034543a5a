package ingest

import "time"

// DeadLetter is the record kept for a message that could not be processed.
type DeadLetter struct {
	Time      time.Time `json:"time"`
	Topic     string    `json:"topic"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	Key       string    `json:"key,omitempty"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Payload   []byte    `json:"payload,omitempty"`
}

// DeadLetterWriter persists dropped messages for later inspection.
type DeadLetterWriter interface {
	WriteDeadLetter(DeadLetter) error
}

type nopDeadLetters struct{}

func (nopDeadLetters) WriteDeadLetter(DeadLetter) error { return nil }
