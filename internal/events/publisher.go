package events

import (
	"context"
	"encoding/json"

	"github.com/ZJUSCT/CSLearn/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher emits domain events after a result commits. Publishing never fails the caller.
type Publisher interface {
	SubmissionJudged(ctx context.Context, event SubmissionJudgedEvent)
	LeaderboardUpdated(ctx context.Context, event LeaderboardUpdatedEvent)
	Close() error
}

type Noop struct{}

func (Noop) SubmissionJudged(context.Context, SubmissionJudgedEvent)     {}
func (Noop) LeaderboardUpdated(context.Context, LeaderboardUpdatedEvent) {}
func (Noop) Close() error                                                { return nil }

type KafkaPublisher struct {
	judged      *kafka.Writer
	leaderboard *kafka.Writer
}

func NewKafkaPublisher(brokers []string, judgedTopic, leaderboardTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		judged:      newWriter(brokers, judgedTopic),
		leaderboard: newWriter(brokers, leaderboardTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				zap.S().Warnf("failed to write %d messages to %s: %v", len(messages), topic, err)
				metrics.IncEvent(topic, "error")
				return
			}
			metrics.IncEvent(topic, "ok")
		},
	}
}

func (p *KafkaPublisher) SubmissionJudged(ctx context.Context, event SubmissionJudgedEvent) {
	p.write(ctx, p.judged, event.UserID, event)
}

func (p *KafkaPublisher) LeaderboardUpdated(ctx context.Context, event LeaderboardUpdatedEvent) {
	p.write(ctx, p.leaderboard, event.ContestID, event)
}

func (p *KafkaPublisher) write(ctx context.Context, w *kafka.Writer, key string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		zap.S().Errorf("failed to marshal event for %s: %v", w.Topic, err)
		return
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data}); err != nil {
		zap.S().Warnf("failed to enqueue event for %s: %v", w.Topic, err)
	}
}

func (p *KafkaPublisher) Close() error {
	err := p.judged.Close()
	if lbErr := p.leaderboard.Close(); err == nil {
		err = lbErr
	}
	return err
}
