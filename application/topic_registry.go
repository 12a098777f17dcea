package application

import (
	"sync"

	"github.com/rs/zerolog"
)

// TopicRegistry is the append-only set of topics a subscriber bridge keeps
// subscribed across reconnects. Safe for concurrent use.
type TopicRegistry struct {
	state *ConnectionState

	mu     sync.RWMutex
	topics []string
	index  map[string]struct{}

	log zerolog.Logger
}

func NewTopicRegistry(state *ConnectionState, log zerolog.Logger) *TopicRegistry {
	return &TopicRegistry{state: state, index: make(map[string]struct{}), log: log}
}

// Register adds a topic and forces a resubscription pass on the next loop
// iteration. Registering a known topic still forces the pass.
func (r *TopicRegistry) Register(name string) error {
	if name == "" {
		return ErrInvalidTopic
	}

	r.mu.Lock()
	if _, ok := r.index[name]; !ok {
		r.index[name] = struct{}{}
		r.topics = append(r.topics, name)
	}
	r.mu.Unlock()

	if r.state != nil {
		r.state.Apply(EventTopicsChanged)
	}

	r.log.Info().Str("topic", name).Msg("subscription topic registered")
	return nil
}

// ForEach visits a snapshot of the registered topics in insertion order.
// Topics registered while visiting are picked up by the next pass.
func (r *TopicRegistry) ForEach(visit func(topic string)) {
	r.mu.RLock()
	topics := r.topics[:len(r.topics):len(r.topics)]
	r.mu.RUnlock()

	for _, t := range topics {
		visit(t)
	}
}

func (r *TopicRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.topics...)
}

func (r *TopicRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
