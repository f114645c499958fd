package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaBus publishes match triggers keyed by ride id, so all triggers for a
// ride land on one partition and arrive in order.
type KafkaBus struct {
	writer *kafka.Writer
}

func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaBus{writer: w}
}

func (k *KafkaBus) PublishMatchTrigger(ctx context.Context, t models.MatchTrigger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.RideID), Value: b})
}

func (k *KafkaBus) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// LocationProducer publishes driver position updates on their own topic,
// keyed by driver id.
type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &LocationProducer{writer: w}
}

func (p *LocationProducer) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b})
}

func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Consumer reads match triggers from Kafka and hands them to the handler.
// Partition assignment keeps per-ride order; redelivery after a crash is
// expected and absorbed by the attempt fence downstream.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(brokers []string, topic, group string, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{reader: r, handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled, backing off on broker errors.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var t models.MatchTrigger
		if err := json.Unmarshal(m.Value, &t); err != nil {
			c.logger.Error("invalid match trigger", "error", err)
			continue
		}
		c.handler(ctx, t)
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
