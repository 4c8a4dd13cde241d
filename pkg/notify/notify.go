// Package notify delivers ledger events to downstream consumers such as
// label printing and failure-rate alerting.
//
// Delivery is fire-and-forget: the Dispatcher runs each delivery in its own
// goroutine with its own timeout, logs failures and never retries. The
// ledger result never depends on a sink.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// Sink receives committed ledger events.
type Sink interface {
	Notify(ctx context.Context, event core.Event) error
}

// FuncSink adapts a function to Sink.
type FuncSink func(ctx context.Context, event core.Event) error

func (f FuncSink) Notify(ctx context.Context, event core.Event) error { return f(ctx, event) }

// Message types.
const (
	TypeAttemptStarted   = "attempt.started"
	TypeAttemptCompleted = "attempt.completed"
	TypeItemSerialized   = "item.serialized"
)

// Message is the wire form of an event.
type Message struct {
	Type         string    `json:"type"`
	AttemptID    int64     `json:"attempt_id,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	OperationID  string    `json:"operation_id,omitempty"`
	Position     int       `json:"position,omitempty"`
	Operator     string    `json:"operator,omitempty"`
	Result       string    `json:"result,omitempty"`
	Rework       bool      `json:"rework,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
	UnitStatus   string    `json:"unit_status,omitempty"`
	ItemID       string    `json:"item_id,omitempty"`
	SerialID     string    `json:"serial_id,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewMessage converts an event into its wire form.
func NewMessage(event core.Event) (Message, error) {
	switch e := event.(type) {
	case *core.AttemptStarted:
		m := attemptMessage(TypeAttemptStarted, e.Attempt, e.Timestamp)
		m.Rework = e.Rework
		return m, nil
	case *core.AttemptCompleted:
		m := attemptMessage(TypeAttemptCompleted, e.Attempt, e.Timestamp)
		m.Result = string(e.Attempt.Result)
		m.DurationMS = e.Duration.Milliseconds()
		m.UnitStatus = e.UnitStatus
		return m, nil
	case *core.ItemSerialized:
		m := Message{Type: TypeItemSerialized, ItemID: e.ItemID, Timestamp: e.Timestamp}
		if e.Serial != nil {
			m.SerialID = e.Serial.ID
			m.SerialNumber = e.Serial.SerialNumber
			m.Unit = core.SerialUnit(e.Serial.ID).Key()
		}
		return m, nil
	}
	return Message{}, fmt.Errorf("notify: unsupported event %T", event)
}

func attemptMessage(typ string, a *core.Attempt, ts time.Time) Message {
	return Message{
		Type:        typ,
		AttemptID:   a.ID,
		Unit:        a.UnitKey,
		OperationID: a.OperationID,
		Position:    a.OperationPosition,
		Operator:    a.Operator,
		Timestamp:   ts,
	}
}
