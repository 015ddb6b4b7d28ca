package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
	"github.com/vladislavdragonenkov/salesledger/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы. Без брокеров
// возвращает nil, nil: события остаются в outbox и уходят в лог.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers выбирает паблишеры событий и DLQ.
func outboxPublishers(producer *kafka.Producer, cfg Config, logger *log.Entry) (events, dlq domain.OutboxPublisher) {
	if producer == nil {
		return logPublisher{logger: logger.WithField("layer", "outbox-log")}, nil
	}

	events = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
	if cfg.KafkaDLQTopic != "" {
		dlq = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	}
	return events, dlq
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// logPublisher — паблишер без брокера: событие только логируется.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	if event.ID == "" {
		return fmt.Errorf("outbox message without id")
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"sale_id":    event.AggregateID,
	}).Info("sale event")
	return nil
}
