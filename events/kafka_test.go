package events

import (
	"context"
	"encoding/json"
	"errors"
	"go-exchange-rate-gateway/domain"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func snapshot() domain.Snapshot {
	return domain.Snapshot{
		Pair:      domain.Pair{From: "USD", To: "EUR"},
		Rate:      0.92,
		FetchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w}

	err := p.Publish(context.Background(), snapshot())

	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "USD:EUR", string(w.messages[0].Key))

	var event RateRefreshed
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, RateRefreshed{
		Base:      "USD",
		Target:    "EUR",
		Rate:      0.92,
		FetchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}, event)

	assert.Nil(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	p := &KafkaPublisher{writer: &mockWriter{err: errors.New("no brokers")}}

	err := p.Publish(context.Background(), snapshot())

	assert.ErrorContains(t, err, "publish [USD:EUR]: no brokers")
}
