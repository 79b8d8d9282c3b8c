package v1

import (
	"encoding/json"
	"strings"

	"subforge/internal/pkg/errors"
)

// EventType tags an inbound event envelope.
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
)

// Event is a decoded inbound event. Exactly one of Progress and Result is set.
type Event struct {
	Type     EventType
	Progress *ProgressEvent
	Result   *ResultEvent
}

// ProgressOf wraps a progress event.
func ProgressOf(p ProgressEvent) Event {
	return Event{Type: EventProgress, Progress: &p}
}

// ResultOf wraps a result event.
func ResultOf(r ResultEvent) Event {
	return Event{Type: EventResult, Result: &r}
}

// OperationID returns the correlation id carried by the event.
func (e Event) OperationID() string {
	switch {
	case e.Progress != nil:
		return e.Progress.OperationID
	case e.Result != nil:
		return e.Result.OperationID
	default:
		return ""
	}
}

// Validate checks that the event is well formed.
func (e Event) Validate() error {
	switch e.Type {
	case EventProgress:
		if e.Progress == nil {
			return errors.Validation("progress event has no payload")
		}
		return e.Progress.Validate()
	case EventResult:
		if e.Result == nil {
			return errors.Validation("result event has no payload")
		}
		return e.Result.Validate()
	default:
		return errors.ValidationField("type", "unknown event type: "+string(e.Type))
	}
}

// envelope is the flat wire form of an Event. Pointer fields tell a
// missing value apart from a zero one.
type envelope struct {
	Type        EventType `json:"type"`
	OperationID string    `json:"operation_id"`
	Percent     *float64  `json:"percent,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// MarshalJSON encodes the event as a flat envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	env := envelope{Type: e.Type}
	switch {
	case e.Progress != nil:
		env.OperationID = e.Progress.OperationID
		env.Percent = &e.Progress.Percent
		env.Stage = e.Progress.Stage
	case e.Result != nil:
		env.OperationID = e.Result.OperationID
		env.Success = &e.Result.Success
		env.OutputPath = e.Result.OutputPath
		env.Error = e.Result.Error
	}
	return json.Marshal(env)
}

// DecodeEvent parses and validates an inbound event envelope.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, errors.WrapWithCode(err, errors.CodeValidation, "renderer.decode", "malformed event")
	}

	var ev Event
	switch EventType(strings.ToLower(string(env.Type))) {
	case EventProgress:
		if env.Percent == nil {
			return Event{}, errors.ValidationField("percent", "progress event without percent")
		}
		ev = ProgressOf(ProgressEvent{
			OperationID: env.OperationID,
			Percent:     *env.Percent,
			Stage:       env.Stage,
		})
	case EventResult:
		if env.Success == nil {
			return Event{}, errors.ValidationField("success", "result event without success flag")
		}
		ev = ResultOf(ResultEvent{
			OperationID: env.OperationID,
			Success:     *env.Success,
			OutputPath:  env.OutputPath,
			Error:       env.Error,
		})
	default:
		return Event{}, errors.ValidationField("type", "unknown event type: "+string(env.Type))
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
