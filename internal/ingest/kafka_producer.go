package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/signals"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes user positions and signal envelopes. Each message
// names its own topic so one writer serves both streams.
type KafkaProducer struct {
	writer        messageWriter
	locationTopic string
	signalTopic   string
	timeout       time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, signalTopic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, locationTopic, signalTopic)
}

func newProducer(w messageWriter, locationTopic, signalTopic string) *KafkaProducer {
	return &KafkaProducer{writer: w, locationTopic: locationTopic, signalTopic: signalTopic, timeout: 2 * time.Second}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, p models.Position) error {
	if p.UserID == "" {
		return errors.New("ingest: position without user id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: k.locationTopic, Key: []byte(p.UserID), Value: b})
}

// PublishSignal mirrors env to the signal topic keyed by signal type.
func (k *KafkaProducer) PublishSignal(ctx context.Context, env signals.Envelope) error {
	if k.signalTopic == "" {
		return nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: k.signalTopic, Key: []byte(env.Type), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodeLocation parses a position message written by PublishLocation. The
// message key is used when the payload carries no user id.
func DecodeLocation(m kafka.Message) (models.Position, error) {
	var p models.Position
	if err := json.Unmarshal(m.Value, &p); err != nil {
		return models.Position{}, err
	}
	if p.UserID == "" {
		p.UserID = string(m.Key)
	}
	if p.UserID == "" {
		return models.Position{}, errors.New("ingest: position without user id")
	}
	return p, nil
}
