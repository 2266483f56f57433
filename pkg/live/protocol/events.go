package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/vango-go/village-live/pkg/village"
)

// Event is one decoded server-to-client message.
type Event interface {
	EventType() string
	payload() any
}

// Connected is the server greeting sent right after the socket opens.
type Connected struct {
	Message   string            `json:"message"`
	Timestamp village.Timestamp `json:"timestamp"`
}

func (e Connected) EventType() string { return TypeConnected }
func (e Connected) payload() any      { return e }

// Subscribed acknowledges a subscribe_call directive.
type Subscribed struct {
	CallID string `json:"call_id"`
}

func (e Subscribed) EventType() string { return TypeSubscribed }
func (e Subscribed) payload() any      { return e }

type Pong struct{}

func (e Pong) EventType() string { return TypePong }
func (e Pong) payload() any      { return struct{}{} }

// ServerError reports a server-side problem with a client directive.
type ServerError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e ServerError) EventType() string { return TypeError }
func (e ServerError) payload() any      { return e }

type CallStarted struct {
	CallID  string `json:"call_id"`
	ElderID string `json:"elder_id"`
}

func (e CallStarted) EventType() string { return TypeCallStarted }
func (e CallStarted) payload() any      { return e }

type CallStatus struct {
	CallID string             `json:"call_id"`
	Status village.CallStatus `json:"status"`
}

func (e CallStatus) EventType() string { return TypeCallStatus }
func (e CallStatus) payload() any      { return e }

type TranscriptUpdate struct {
	Line village.TranscriptLine
}

func (e TranscriptUpdate) EventType() string { return TypeTranscriptUpdate }
func (e TranscriptUpdate) payload() any      { return e.Line }

// BiometricUpdate is accepted on the wire but not projected.
type BiometricUpdate struct {
	Biometrics village.Biometrics
}

func (e BiometricUpdate) EventType() string { return TypeBiometricUpdate }
func (e BiometricUpdate) payload() any      { return e.Biometrics }

// WellbeingUpdate carries a partial assessment: only the dimensions present
// on the wire are set.
type WellbeingUpdate struct {
	Update village.WellbeingAssessment
}

func (e WellbeingUpdate) EventType() string { return TypeWellbeingUpdate }
func (e WellbeingUpdate) payload() any      { return e.Update }

type ProfileUpdate struct {
	Fact village.ProfileFact
}

func (e ProfileUpdate) EventType() string { return TypeProfileUpdate }
func (e ProfileUpdate) payload() any      { return e.Fact }

type ConcernDetected struct {
	Concern village.Concern
}

func (e ConcernDetected) EventType() string { return TypeConcernDetected }
func (e ConcernDetected) payload() any      { return e.Concern }

type VillageActionStarted struct {
	Action village.VillageAction
}

func (e VillageActionStarted) EventType() string { return TypeVillageActionStarted }
func (e VillageActionStarted) payload() any      { return e.Action }

// VillageActionUpdate patches an action that was announced earlier. A nil
// Response means the server did not send one.
type VillageActionUpdate struct {
	ID       string               `json:"id"`
	Status   village.ActionStatus `json:"status"`
	Response *string              `json:"response,omitempty"`
}

func (e VillageActionUpdate) EventType() string { return TypeVillageActionUpdate }
func (e VillageActionUpdate) payload() any      { return e }

type CallEnded struct {
	CallID  string               `json:"call_id"`
	Summary *village.CallSummary `json:"summary"`
}

func (e CallEnded) EventType() string { return TypeCallEnded }
func (e CallEnded) payload() any      { return e }

// TimerUpdate is a server-side elapsed counter; the dashboard keeps its own
// clock so this is informational.
type TimerUpdate struct {
	ElapsedSeconds int `json:"elapsed_seconds"`
}

func (e TimerUpdate) EventType() string { return TypeTimerUpdate }
func (e TimerUpdate) payload() any      { return e }

// Unknown is any frame whose tag this version does not understand. It is
// surfaced rather than rejected so newer servers stay compatible.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (e Unknown) EventType() string { return e.Type }
func (e Unknown) payload() any      { return e.Raw }

// DecodeServerMessage decodes one text frame into a typed event. Frames that
// are not valid JSON, lack a type, or carry a payload that does not fit the
// tag yield a *DecodeError. Unrecognized tags decode to Unknown.
func DecodeServerMessage(data []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}
	payload := envelope.Data
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("{}")
	}

	switch typ {
	case TypeConnected:
		var ev Connected
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSubscribed:
		var ev Subscribed
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		return ev, nil
	case TypePong:
		return Pong{}, nil
	case TypeError:
		var ev ServerError
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeCallStarted:
		var ev CallStarted
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		if err := requireField(ev.CallID, typ, "call_id"); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeCallStatus:
		var ev CallStatus
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		if err := requireField(ev.CallID, typ, "call_id"); err != nil {
			return nil, err
		}
		if err := requireField(string(ev.Status), typ, "status"); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeTranscriptUpdate:
		var line village.TranscriptLine
		if err := decodePayload(payload, &line, typ); err != nil {
			return nil, err
		}
		return TranscriptUpdate{Line: line}, nil
	case TypeBiometricUpdate:
		var sample village.Biometrics
		if err := decodePayload(payload, &sample, typ); err != nil {
			return nil, err
		}
		return BiometricUpdate{Biometrics: sample}, nil
	case TypeWellbeingUpdate:
		var update village.WellbeingAssessment
		if err := decodePayload(payload, &update, typ); err != nil {
			return nil, err
		}
		return WellbeingUpdate{Update: update}, nil
	case TypeProfileUpdate:
		var fact village.ProfileFact
		if err := decodePayload(payload, &fact, typ); err != nil {
			return nil, err
		}
		return ProfileUpdate{Fact: fact}, nil
	case TypeConcernDetected:
		var concern village.Concern
		if err := decodePayload(payload, &concern, typ); err != nil {
			return nil, err
		}
		return ConcernDetected{Concern: concern}, nil
	case TypeVillageActionStarted:
		var action village.VillageAction
		if err := decodePayload(payload, &action, typ); err != nil {
			return nil, err
		}
		if err := requireField(action.ID, typ, "id"); err != nil {
			return nil, err
		}
		return VillageActionStarted{Action: action}, nil
	case TypeVillageActionUpdate:
		var ev VillageActionUpdate
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		if err := requireField(ev.ID, typ, "id"); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeCallEnded:
		var ev CallEnded
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		if err := requireField(ev.CallID, typ, "call_id"); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeTimerUpdate:
		var ev TimerUpdate
		if err := decodePayload(payload, &ev, typ); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return Unknown{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}

func decodePayload(payload json.RawMessage, dst any, typ string) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return badRequest("invalid "+typ+" payload: "+err.Error(), "data")
	}
	return nil
}

func requireField(value, typ, field string) error {
	if strings.TrimSpace(value) == "" {
		return badRequest(typ+"."+field+" is required", "data."+field)
	}
	return nil
}
