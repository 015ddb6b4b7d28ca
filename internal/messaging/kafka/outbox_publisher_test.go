package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

var fixedTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func domainMessage(id, payload string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeSale,
		AggregateID:   "sale-1",
		EventType:     string(domain.SaleEventCreated),
		Payload:       []byte(payload),
	}
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "sale-1", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(value, &env))
		require.Equal(t, "outbox-1", env.ID)
		require.JSONEq(t, `{"status":"paid"}`, string(env.Payload))
		require.True(t, env.PublishedAt.Equal(fixedTime))

		require.Len(t, msg.Headers, 3)
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), "")
	publisher.now = func() time.Time { return fixedTime }
	require.Equal(t, TopicSaleEvents, publisher.Topic())

	require.NoError(t, publisher.Publish(domainMessage("outbox-1", `{"status":"paid"}`)))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_KeyFallsBackToOutboxID(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		require.Equal(t, TopicDeadLetterQueue, msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "outbox-9", string(key))
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicDeadLetterQueue)
	msg := domainMessage("outbox-9", `{}`)
	msg.AggregateID = ""

	require.NoError(t, publisher.Publish(msg))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicSaleEvents)

	require.Error(t, publisher.Publish(domainMessage("outbox-2", `{"status":"cancelled"}`)))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicSaleEvents)
	require.Error(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}))
}
