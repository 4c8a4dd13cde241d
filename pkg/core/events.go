package core

import "time"

// Event is the interface for all ledger events.
type Event interface {
	eventMarker()
}

// AttemptStarted is emitted after an attempt has been opened and committed.
type AttemptStarted struct {
	Attempt   *Attempt
	Rework    bool
	Timestamp time.Time
}

func (*AttemptStarted) eventMarker() {}

// AttemptCompleted is emitted after an attempt has been closed and committed.
type AttemptCompleted struct {
	Attempt    *Attempt
	Duration   time.Duration
	UnitStatus string
	Timestamp  time.Time
}

func (*AttemptCompleted) eventMarker() {}

// ItemSerialized is emitted when an in-process item passes identity conversion.
type ItemSerialized struct {
	ItemID    string
	Serial    *SerializedItem
	Timestamp time.Time
}

func (*ItemSerialized) eventMarker() {}
