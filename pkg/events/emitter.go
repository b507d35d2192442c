package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Emitter forwards gateway events to an external sink. Emission is
// fire-and-forget: a sink failure never affects the call outcome.
type Emitter interface {
	Emit(evt Event)
}

// LogEmitter writes events to the process log.
type LogEmitter struct{}

func (LogEmitter) Emit(evt Event) {
	b, err := json.Marshal(evt)
	if err != nil {
		log.Printf("event marshal failed: %v", err)
		return
	}
	log.Printf("gateway event: %s", b)
}

// MultiEmitter fans one event out to several sinks.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		e.Emit(evt)
	}
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaEmitter publishes events to a topic for downstream consumers.
type KafkaEmitter struct {
	writer kafkaWriter
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
	}}
}

func (e *KafkaEmitter) Emit(evt Event) {
	b, err := json.Marshal(evt)
	if err != nil {
		log.Printf("event marshal failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.writer.WriteMessages(ctx, kafka.Message{Key: []byte(evt.ToolID), Value: b}); err != nil {
		log.Printf("event publish failed: %v", err)
	}
}
