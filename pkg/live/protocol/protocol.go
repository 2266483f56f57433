package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Server event tags.
const (
	TypeConnected            = "connected"
	TypeSubscribed           = "subscribed"
	TypePong                 = "pong"
	TypeError                = "error"
	TypeCallStarted          = "call_started"
	TypeCallStatus           = "call_status"
	TypeTranscriptUpdate     = "transcript_update"
	TypeBiometricUpdate      = "biometric_update"
	TypeWellbeingUpdate      = "wellbeing_update"
	TypeProfileUpdate        = "profile_update"
	TypeConcernDetected      = "concern_detected"
	TypeVillageActionStarted = "village_action_started"
	TypeVillageActionUpdate  = "village_action_update"
	TypeCallEnded            = "call_ended"
	TypeTimerUpdate          = "timer_update"
)

// Client directive tags.
const (
	TypeSubscribeCall = "subscribe_call"
	TypePing          = "ping"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

// DecodeError codes.
const (
	CodeBadRequest  = "bad_request"
	CodeUnsupported = "unsupported"
)

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: CodeUnsupported, Message: message, Param: param}
}

// Envelope is the frame shape for every server-to-client message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientSubscribe associates the connection with one call.
type ClientSubscribe struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

// NewSubscribe builds a subscribe_call directive.
func NewSubscribe(callID string) ClientSubscribe {
	return ClientSubscribe{Type: TypeSubscribeCall, CallID: callID}
}

type ClientPing struct {
	Type string `json:"type"`
}

// NewPing builds an application-level keep-alive.
func NewPing() ClientPing {
	return ClientPing{Type: TypePing}
}

// DecodeClientMessage decodes a client directive. It is used by the relay.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSubscribeCall:
		var msg ClientSubscribe
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid subscribe_call frame", "")
		}
		msg.CallID = strings.TrimSpace(msg.CallID)
		if msg.CallID == "" {
			return nil, badRequest("subscribe_call.call_id is required", "call_id")
		}
		return msg, nil
	case TypePing:
		return ClientPing{Type: TypePing}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// Encode wraps data in an envelope of the given type.
func Encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}

// EncodeEvent encodes a typed server event into its wire frame.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("event must not be nil")
	}
	if u, ok := ev.(Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}
	return Encode(ev.EventType(), ev.payload())
}
