package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboundMessage is a frame sent to the backend. Data is encoded when the
// message is built, so later changes to the caller's value do not leak in.
type OutboundMessage struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
	Data      json.RawMessage `json:"data"`
}

// NewOutbound builds an outbound message stamped with now.
func NewOutbound(msgType string, data any, now time.Time) (OutboundMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return OutboundMessage{}, fmt.Errorf("marshal %s data: %w", msgType, err)
	}
	return OutboundMessage{
		Type:      msgType,
		Timestamp: now.UnixMilli(),
		Data:      raw,
	}, nil
}

// Encode returns the wire form.
func (m OutboundMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
