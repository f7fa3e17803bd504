/**
 * @description
 * Kafka implementation of the event publisher. It satisfies the same Publish signature
 * as the RabbitMQ producer so the service can run against either broker.
 *
 * @dependencies
 * - github.com/segmentio/kafka-go: Kafka client.
 */
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes JSON events to Kafka topics.
type Publisher struct {
	writer       *kafka.Writer
	defaultTopic string
}

// NewPublisher creates a publisher for the given brokers. Events whose topic argument is
// empty go to defaultTopic.
func NewPublisher(brokers []string, defaultTopic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		defaultTopic: defaultTopic,
	}
}

// Publish writes one event. The routing key travels as the event_type header and the
// key of the message is taken from the body's transfer_id when it has one, so events
// of one transfer stay ordered on a partition.
func (p *Publisher) Publish(ctx context.Context, topic, routingKey string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	if strings.TrimSpace(topic) == "" {
		topic = p.defaultTopic
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     messageKey(data, routingKey),
		Value:   data,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(routingKey)}},
		Time:    time.Now(),
	})
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() {
	_ = p.writer.Close()
}

func messageKey(data []byte, fallback string) []byte {
	var keyed struct {
		TransferID string `json:"transfer_id"`
	}
	if err := json.Unmarshal(data, &keyed); err == nil && keyed.TransferID != "" {
		return []byte(keyed.TransferID)
	}
	return []byte(fallback)
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(raw string) []string {
	brokers := make([]string, 0)
	for _, b := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}
