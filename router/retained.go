package router

import (
	"sync"

	"github.com/fieldwatch/broker/packet"
)

// RetainedMessage is the last retained PUBLISH stored for an exact topic
// name. MQTT v5.0 3.3.1.3.
type RetainedMessage struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Properties *packet.Properties
}

// RetainedStore holds the single retained message per exact topic name.
// Grounded on the teacher's MemorySubscribed map-guarded-by-RWMutex shape
// in mem_topic.go, repurposed: a publish with a zero-length payload
// clears the row instead of creating a subscriber record.
type RetainedStore struct {
	mu   sync.RWMutex
	rows map[string]RetainedMessage
}

func NewRetainedStore() *RetainedStore {
	return &RetainedStore{rows: make(map[string]RetainedMessage)}
}

// Store saves msg as the retained message for its topic, or clears the
// topic's retained message when the payload is empty [MQTT-3.3.1-10/11].
func (s *RetainedStore) Store(msg RetainedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msg.Payload) == 0 {
		delete(s.rows, msg.Topic)
		return
	}
	s.rows[msg.Topic] = msg
}

// Count reports the number of topics currently holding a retained message.
func (s *RetainedStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// MatchForSubscribe returns the retained messages that should be replayed
// for a new subscription to filter, honoring wildcard matching the same
// way live publishes are routed.
func (s *RetainedStore) MatchForSubscribe(filter string) []RetainedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RetainedMessage
	for topic, msg := range s.rows {
		if topicMatchesFilter(topic, filter) {
			out = append(out, msg)
		}
	}
	return out
}

// topicMatchesFilter applies the same `+`/`#`/`$`-prefix rules as
// Table.Match, but against a single candidate filter rather than a trie —
// used only for retained-message replay, where the candidate set (stored
// topics) is typically small.
func topicMatchesFilter(topic, filter string) bool {
	topicLevels := splitLevels(topic)
	filterLevels := splitLevels(filter)
	dollarTopic := len(topicLevels) > 0 && len(topicLevels[0]) > 0 && topicLevels[0][0] == '$'

	for i, fl := range filterLevels {
		if fl == "#" {
			return !dollarTopic || i > 0
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl == "+" {
			if dollarTopic && i == 0 {
				return false
			}
			continue
		}
		if fl != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
