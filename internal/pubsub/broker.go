package pubsub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// maxCached bounds the replay history kept per topic.
const maxCached = 32

// Broker is an in-memory pub/sub of submission status changes, one topic per submission.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan []byte // topic -> list of subscriber channels
	cache       map[string][][]byte      // topic -> list of cached messages
}

// StatusMessage is what live subscribers receive.
type StatusMessage struct {
	SubmissionID string  `json:"submission_id"`
	Status       string  `json:"status"`
	Score        float64 `json:"score,omitempty"`
	Message      string  `json:"message,omitempty"`
	Final        bool    `json:"final"`
}

var (
	once   sync.Once
	broker *Broker
)

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan []byte),
		cache:       make(map[string][][]byte),
	}
}

// GetBroker returns the process wide Broker.
func GetBroker() *Broker {
	once.Do(func() {
		broker = NewBroker()
	})
	return broker
}

// Subscribe replays the cached messages of the topic, then delivers live ones.
func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	b.mu.Lock()

	ch := make(chan []byte, maxCached+8)
	for _, msg := range b.cache[topic] {
		ch <- msg
	}
	replayed := len(b.cache[topic])

	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subscribers[topic]
			for i, sub := range subscribers {
				if sub == ch {
					b.subscribers[topic] = append(subscribers[:i], subscribers[i+1:]...)
					close(ch)
					break
				}
			}
			zap.S().Debugf("unsubscribed from topic %s", topic)
		})
	}

	zap.S().Debugf("new subscription to topic %s, sent %d cached messages", topic, replayed)
	return ch, unsubscribe
}

// Publish delivers msg to live subscribers without blocking and caches it.
func (b *Broker) Publish(topic string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cached := append(b.cache[topic], msg)
	if len(cached) > maxCached {
		cached = cached[len(cached)-maxCached:]
	}
	b.cache[topic] = cached

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			// Slow subscribers miss messages rather than block the grader.
		}
	}
}

// PublishStatus encodes and publishes a status change of a submission.
func (b *Broker) PublishStatus(msg StatusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		zap.S().Errorf("failed to encode status message for %s: %v", msg.SubmissionID, err)
		return
	}
	b.Publish(msg.SubmissionID, data)
}

// CloseTopic closes all subscriber channels and clears the cache for a given topic.
func (b *Broker) CloseTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers[topic] {
		close(ch)
	}
	delete(b.subscribers, topic)
	delete(b.cache, topic)
	zap.S().Debugf("closed pubsub topic %s", topic)
}
