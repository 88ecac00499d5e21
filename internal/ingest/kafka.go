// Package ingest moves high-volume telemetry and lifecycle events through
// Kafka. Location updates fan in on one topic; ride events fan out on
// another.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/domain"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishLocation writes a driver location keyed by driver so updates for
// one driver stay ordered within a partition.
func (k *KafkaProducer) PublishLocation(ctx context.Context, loc *domain.DriverLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID.String()), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// RideEvent is the envelope written to the ride events topic.
type RideEvent struct {
	Event string       `json:"event"`
	Ride  *domain.Ride `json:"ride"`
	At    time.Time    `json:"at"`
}

type RideEventProducer struct {
	writer *kafka.Writer
}

func NewRideEventProducer(brokers []string, topic string) *RideEventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &RideEventProducer{writer: w}
}

func (p *RideEventProducer) PublishRideEvent(ctx context.Context, event string, ride *domain.Ride) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(RideEvent{Event: event, Ride: ride, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ride.ID.String()), Value: b})
}

func (p *RideEventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
