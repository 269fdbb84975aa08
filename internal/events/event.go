package events

import (
	"encoding/json"
	"errors"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("frame has no type")
	ErrPayloadShape   = errors.New("payload does not match event shape")
)

// Kind is the variant tag of an event; for wire events it equals the frame type.
type Kind string

// Lifecycle kinds emitted by the stream manager.
const (
	KindConnect            Kind = "connect"
	KindDisconnect         Kind = "disconnect"
	KindError              Kind = "error"
	KindReconnectExhausted Kind = "reconnect_failed"
	KindStateChange        Kind = "state_change"
)

// Domain kinds sent by the backend.
const (
	KindCognitiveState  Kind = "cognitive_state_update"
	KindKnowledgeUpdate Kind = "knowledge_update"
	KindReasoningUpdate Kind = "reasoning-update"
	KindQueryResponse   Kind = "query_response"
)

// Event is implemented by every variant.
type Event interface {
	Kind() Kind
}

// Connected is emitted when a transport link opens. Attempt is the
// reconnect attempt that succeeded (0 for a caller-initiated connect).
type Connected struct {
	URL     string
	Attempt int
}

func (Connected) Kind() Kind { return KindConnect }

// Disconnected is emitted when the link closes.
type Disconnected struct {
	Code        int
	Reason      string
	Intentional bool
}

func (Disconnected) Kind() Kind { return KindDisconnect }

// TransportError reports a non-fatal transport failure.
type TransportError struct {
	Err error
}

func (TransportError) Kind() Kind { return KindError }

// ReconnectExhausted is the terminal signal after the last reconnect attempt failed.
type ReconnectExhausted struct {
	Attempts int
}

func (ReconnectExhausted) Kind() Kind { return KindReconnectExhausted }

// StateChanged reports a connection state transition.
type StateChanged struct {
	From string
	To   string
}

func (StateChanged) Kind() Kind { return KindStateChange }

// CognitiveStateUpdate carries a snapshot of the backend's cognitive state.
type CognitiveStateUpdate struct {
	AttentionFocus  []string        `json:"attention_focus,omitempty"`
	ActiveProcesses []string        `json:"active_processes,omitempty"`
	ProcessingLoad  float64         `json:"processing_load,omitempty"`
	Timestamp       float64         `json:"timestamp,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

func (CognitiveStateUpdate) Kind() Kind { return KindCognitiveState }

func (e CognitiveStateUpdate) withRaw(raw json.RawMessage) Event {
	e.Raw = raw
	return e
}

// KnowledgeUpdate announces a change in the knowledge store.
type KnowledgeUpdate struct {
	Action  string          `json:"action,omitempty"` // "added", "updated", "removed"
	ItemID  string          `json:"item_id,omitempty"`
	Concept string          `json:"concept,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (KnowledgeUpdate) Kind() Kind { return KindKnowledgeUpdate }

func (e KnowledgeUpdate) withRaw(raw json.RawMessage) Event {
	e.Raw = raw
	return e
}

// ReasoningUpdate is one step of a reasoning trace.
type ReasoningUpdate struct {
	QueryID     string          `json:"query_id,omitempty"`
	Step        int             `json:"step,omitempty"`
	Description string          `json:"description,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

func (ReasoningUpdate) Kind() Kind { return KindReasoningUpdate }

func (e ReasoningUpdate) withRaw(raw json.RawMessage) Event {
	e.Raw = raw
	return e
}

// QueryResponse is the streamed answer to a submitted query.
type QueryResponse struct {
	QueryID    string          `json:"query_id,omitempty"`
	Query      string          `json:"query,omitempty"`
	Response   string          `json:"response,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func (QueryResponse) Kind() Kind { return KindQueryResponse }

func (e QueryResponse) withRaw(raw json.RawMessage) Event {
	e.Raw = raw
	return e
}

// Unknown is any wire event whose type has no dedicated variant.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (u Unknown) Kind() Kind { return Kind(u.Type) }

// Payload returns the raw data of a wire event, or nil for lifecycle events.
func Payload(ev Event) json.RawMessage {
	switch e := ev.(type) {
	case CognitiveStateUpdate:
		return e.Raw
	case KnowledgeUpdate:
		return e.Raw
	case ReasoningUpdate:
		return e.Raw
	case QueryResponse:
		return e.Raw
	case Unknown:
		return e.Data
	}
	return nil
}
