package storage

import (
	"errors"
	"fmt"
)

// Direction tells whether a message was received or sent by the monitored party.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"

	// Any matches both directions in queries.
	Any Direction = ""
)

// Valid reports whether d is a concrete direction.
func (d Direction) Valid() bool {
	return d == Incoming || d == Outgoing
}

// ParseDirection maps user input to a Direction. Empty, "any" and "all" map to Any.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "any", "all":
		return Any, nil
	case "in", "incoming":
		return Incoming, nil
	case "out", "outgoing":
		return Outgoing, nil
	}
	return Any, fmt.Errorf("invalid direction %q (use incoming, outgoing or any)", s)
}

// Message is a single stored chat message. Records are immutable once stored.
type Message struct {
	ID        string
	Sender    string
	Timestamp string // verbatim "HH:MM, DD/MM/YYYY"
	Text      string
	Date      string // YYYY-MM-DD, empty when Timestamp is unparseable
	Direction Direction
}

// DateStats is the number of messages stored for one calendar date and direction.
type DateStats struct {
	Date      string
	Direction Direction
	Count     int
}

// StorageError wraps any failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err (or anything it wraps) is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
