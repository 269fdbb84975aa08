// Package relay re-publishes stream events on an in-process watermill bus so
// that widgets can subscribe by topic without holding the stream manager.
//
// Topics: queryResponse, knowledgeUpdate, cognitiveStateUpdate,
// reasoningUpdate and connectionStatus.
package relay
