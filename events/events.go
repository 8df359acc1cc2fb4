// Package events publishes instance lifecycle transitions so operators can
// reconcile partially provisioned instances out of band.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/segmentio/kafka-go"
)

// Stage is the lifecycle stage of a provisioned instance.
type Stage string

const (
	StagePending     Stage = "pending"
	StageInstalled   Stage = "installed"
	StageFailed      Stage = "failed"
	StageReconfigure Stage = "reconfigured"
)

// InstanceEvent is a single lifecycle transition.
type InstanceEvent struct {
	ID     string                    `json:"id"`
	Time   time.Time                 `json:"time"`
	Stage  Stage                     `json:"stage"`
	Client interfaces.Identity       `json:"client"`
	Handle interfaces.InstanceHandle `json:"handle"`
	Kind   interfaces.InstanceKind   `json:"kind"`
	Error  string                    `json:"error,omitempty"`
}

// NewInstanceEvent stamps an event with a fresh ID and the current time.
func NewInstanceEvent(stage Stage, client interfaces.Identity, handle interfaces.InstanceHandle, kind interfaces.InstanceKind) InstanceEvent {
	return InstanceEvent{
		ID:     uuid.NewString(),
		Time:   time.Now().UTC(),
		Stage:  stage,
		Client: client,
		Handle: handle,
		Kind:   kind,
	}
}

// Publisher delivers instance events.
type Publisher interface {
	Publish(ctx context.Context, event InstanceEvent) error
	Close() error
}

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON, keyed by instance handle so the events
// of one instance stay ordered within a partition.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event InstanceEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal instance event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Handle.String()),
		Value: value,
		Time:  event.Time,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish instance event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event InstanceEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
