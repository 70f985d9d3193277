package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jonhpyo/MyHTS/internal/infra"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards committed events to a topic, keyed by symbol so a
// partition sees one symbol's events in order.
type KafkaSink struct {
	writer  messageWriter
	breaker *infra.CircuitBreaker
	timeout time.Duration
}

// NewKafkaSink creates a synchronous producer that waits for all replicas.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func newKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		breaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("kafka")),
		timeout: 5 * time.Second,
	}
}

func (k *KafkaSink) Name() string { return "kafka" }

type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Publish writes one event. While the breaker is open events are dropped
// with infra.ErrCircuitOpen instead of stalling the bus on a dead broker.
func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(envelope{Type: ev.GetType().String(), Data: ev})
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.GetType(), err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "seq", Value: []byte(strconv.FormatUint(ev.GetSeq(), 10))},
		},
		Time: ev.GetTs().Time(),
	}

	err = k.breaker.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, k.timeout)
		defer cancel()
		return k.writer.WriteMessages(wctx, msg)
	})
	if errors.Is(err, infra.ErrCircuitOpen) {
		return err
	}
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
