// Package events defines the typed event model of the cognitive stream.
//
// Every inbound frame is a JSON object {"type": ..., "data": ...}. The type
// string is the variant tag (Kind); Decode maps it onto one of the concrete
// variants below, falling back to Unknown for types this client does not
// model. Lifecycle variants (Connected, Disconnected, TransportError,
// ReconnectExhausted, StateChanged) are produced locally by the stream
// manager, never decoded from the wire.
package events
