package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type payload interface {
	Event
	withRaw(json.RawMessage) Event
}

var decoders = map[Kind]func(json.RawMessage) (Event, error){
	KindCognitiveState:  decodeAs[CognitiveStateUpdate],
	KindKnowledgeUpdate: decodeAs[KnowledgeUpdate],
	KindReasoningUpdate: decodeAs[ReasoningUpdate],
	KindQueryResponse:   decodeAs[QueryResponse],
}

// Decode parses one inbound frame into its typed variant.
//
// Only invalid JSON or a missing type yields a nil Event. A payload that does
// not fit its variant still returns the variant, with zero fields and Raw
// set, together with an error wrapping ErrPayloadShape.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return nil, ErrMissingType
	}

	decode, ok := decoders[Kind(f.Type)]
	if !ok {
		return Unknown{Type: f.Type, Data: f.Data}, nil
	}

	ev, err := decode(f.Data)
	if err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrPayloadShape, f.Type, err)
	}
	return ev, nil
}

// EncodeFrame builds an inbound-shaped frame from a kind and its data.
func EncodeFrame(kind Kind, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	return json.Marshal(frame{Type: string(kind), Data: raw})
}

func decodeAs[T payload](raw json.RawMessage) (Event, error) {
	var v T
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &v); err != nil {
			var zero T
			return zero.withRaw(raw), err
		}
	}
	return v.withRaw(raw), nil
}
