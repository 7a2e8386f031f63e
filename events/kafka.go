package events

import (
	"context"
	"encoding/json"
	"fmt"
	"go-exchange-rate-gateway/domain"
	"time"

	"github.com/segmentio/kafka-go"
)

// RateRefreshed is published every time a popular pair is refreshed
type RateRefreshed struct {
	Base      string    `json:"base"`
	Target    string    `json:"target"`
	Rate      float64   `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Publisher announces refreshed rates
type Publisher interface {
	Publish(ctx context.Context, snapshot domain.Snapshot) error
	Close() error
}

// writer is the part of *kafka.Writer used by KafkaPublisher
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes RateRefreshed events as JSON, keyed by pair
type KafkaPublisher struct {
	writer writer
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// message builds the Kafka message for a snapshot. Messages for one pair share
// a key and therefore a partition, keeping them in order.
func message(snapshot domain.Snapshot) (kafka.Message, error) {
	value, err := json.Marshal(RateRefreshed{
		Base:      string(snapshot.Pair.From),
		Target:    string(snapshot.Pair.To),
		Rate:      float64(snapshot.Rate),
		FetchedAt: snapshot.FetchedAt.UTC(),
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(snapshot.Pair.String()),
		Value: value,
		Time:  snapshot.FetchedAt,
	}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, snapshot domain.Snapshot) error {
	msg, err := message(snapshot)
	if err != nil {
		return fmt.Errorf("encode [%v]: %w", snapshot.Pair, err)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish [%v]: %w", snapshot.Pair, err)
	}
	return nil
}

// Close flushes pending messages and releases the connections.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
