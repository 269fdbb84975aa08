package relay

import "github.com/rickgao/cogdash/internal/events"

// Topic names.
const (
	TopicQueryResponse    = "queryResponse"
	TopicKnowledgeUpdate  = "knowledgeUpdate"
	TopicCognitiveState   = "cognitiveStateUpdate"
	TopicReasoningUpdate  = "reasoningUpdate"
	TopicConnectionStatus = "connectionStatus"
)

// Message metadata keys.
const (
	MetaEventType = "event_type"
	MetaRelayedAt = "relayed_at"
)

var domainTopics = map[events.Kind]string{
	events.KindQueryResponse:   TopicQueryResponse,
	events.KindKnowledgeUpdate: TopicKnowledgeUpdate,
	events.KindCognitiveState:  TopicCognitiveState,
	events.KindReasoningUpdate: TopicReasoningUpdate,
}

// TopicFor returns the topic a domain event kind is relayed on.
func TopicFor(kind events.Kind) (string, bool) {
	t, ok := domainTopics[kind]
	return t, ok
}

// ConnectionStatus is the payload of the connectionStatus topic.
type ConnectionStatus struct {
	State    string `json:"state"` // connected, disconnected, failed
	URL      string `json:"url,omitempty"`
	Code     int    `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}
