package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cogdash/internal/events"
	"github.com/rickgao/cogdash/internal/relay"
)

// DefaultTraceLimit bounds the reasoning trace kept in a snapshot.
const DefaultTraceLimit = 50

// Snapshot is a point-in-time copy of the dashboard.
type Snapshot struct {
	Connection       relay.ConnectionStatus       `json:"connection"`
	CognitiveState   *events.CognitiveStateUpdate `json:"cognitive_state,omitempty"`
	KnowledgeUpdates int                          `json:"knowledge_updates"`
	LastKnowledge    *events.KnowledgeUpdate      `json:"last_knowledge,omitempty"`
	ReasoningTrace   []events.ReasoningUpdate     `json:"reasoning_trace,omitempty"`
	LastQuery        *events.QueryResponse        `json:"last_query,omitempty"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// State is the live dashboard model. Safe for concurrent use.
type State struct {
	logger     *slog.Logger
	now        func() time.Time
	traceLimit int

	mu   sync.RWMutex
	snap Snapshot
}

// NewState creates an empty state.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		logger:     logger.With("component", "dashboard"),
		now:        time.Now,
		traceLimit: DefaultTraceLimit,
		snap:       Snapshot{Connection: relay.ConnectionStatus{State: "disconnected"}},
	}
}

// Topics lists the relay topics the state follows.
var Topics = []string{
	relay.TopicConnectionStatus,
	relay.TopicCognitiveState,
	relay.TopicKnowledgeUpdate,
	relay.TopicReasoningUpdate,
	relay.TopicQueryResponse,
}

// Follow subscribes to every relay topic before it returns, so messages
// published from then on are kept. The returned func applies them until ctx
// is done.
func (s *State) Follow(ctx context.Context, r *relay.Relay) (func() error, error) {
	subs := make(map[string]<-chan *message.Message, len(Topics))
	for _, topic := range Topics {
		msgs, err := r.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs[topic] = msgs
	}

	return func() error {
		g, gctx := errgroup.WithContext(ctx)
		for topic, msgs := range subs {
			g.Go(func() error {
				return r.Consume(gctx, topic, msgs, func(msg *message.Message) error {
					return s.Apply(topic, msg)
				})
			})
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}, nil
}

// Run follows every relay topic until ctx is done.
func (s *State) Run(ctx context.Context, r *relay.Relay) error {
	run, err := s.Follow(ctx, r)
	if err != nil {
		return err
	}
	return run()
}

// Apply folds one relayed message into the state.
func (s *State) Apply(topic string, msg *message.Message) error {
	switch topic {
	case relay.TopicConnectionStatus:
		cs, err := relay.Decode[relay.ConnectionStatus](msg)
		if err != nil {
			return err
		}
		s.update(func(snap *Snapshot) { snap.Connection = cs })

	case relay.TopicCognitiveState:
		st, err := relay.Decode[events.CognitiveStateUpdate](msg)
		if err != nil {
			return err
		}
		s.update(func(snap *Snapshot) { snap.CognitiveState = &st })

	case relay.TopicKnowledgeUpdate:
		ku, err := relay.Decode[events.KnowledgeUpdate](msg)
		if err != nil {
			return err
		}
		s.update(func(snap *Snapshot) {
			snap.KnowledgeUpdates++
			snap.LastKnowledge = &ku
		})

	case relay.TopicReasoningUpdate:
		ru, err := relay.Decode[events.ReasoningUpdate](msg)
		if err != nil {
			return err
		}
		s.update(func(snap *Snapshot) { s.appendTrace(snap, ru) })

	case relay.TopicQueryResponse:
		qr, err := relay.Decode[events.QueryResponse](msg)
		if err != nil {
			return err
		}
		s.update(func(snap *Snapshot) { snap.LastQuery = &qr })

	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
	return nil
}

// appendTrace starts a new trace when the query changes.
func (s *State) appendTrace(snap *Snapshot, ru events.ReasoningUpdate) {
	if n := len(snap.ReasoningTrace); n > 0 && snap.ReasoningTrace[n-1].QueryID != ru.QueryID {
		snap.ReasoningTrace = nil
	}
	snap.ReasoningTrace = append(snap.ReasoningTrace, ru)
	if over := len(snap.ReasoningTrace) - s.traceLimit; over > 0 {
		snap.ReasoningTrace = append([]events.ReasoningUpdate(nil), snap.ReasoningTrace[over:]...)
	}
}

func (s *State) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.UpdatedAt = s.now()
}

// Snapshot returns a copy that later updates do not affect.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	if s.snap.CognitiveState != nil {
		cs := *s.snap.CognitiveState
		cs.AttentionFocus = append([]string(nil), cs.AttentionFocus...)
		cs.ActiveProcesses = append([]string(nil), cs.ActiveProcesses...)
		out.CognitiveState = &cs
	}
	if s.snap.LastKnowledge != nil {
		ku := *s.snap.LastKnowledge
		out.LastKnowledge = &ku
	}
	if s.snap.LastQuery != nil {
		qr := *s.snap.LastQuery
		out.LastQuery = &qr
	}
	out.ReasoningTrace = append([]events.ReasoningUpdate(nil), s.snap.ReasoningTrace...)
	return out
}
