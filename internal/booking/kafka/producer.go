package kafka

import (
	"context"
	"encoding/json"
	"time"

	"snowpark-booking/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

func (p *Producer) publish(eventType string, b models.Booking) error {
	evt := models.BookingEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		BookingID: b.BookingID,
		Booking:   &b,
		Timestamp: time.Now().UTC(),
	}
	msgBytes, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(b.BookingID),
			Value: msgBytes,
		},
	)
}

// PublishBookingCreated streams the new booking to the events topic.
func (p *Producer) PublishBookingCreated(b models.Booking) error {
	return p.publish(EventBookingCreated, b)
}

// PublishBookingStatusChanged streams a status transition, whether it came
// from reconciliation or a manual override.
func (p *Producer) PublishBookingStatusChanged(b models.Booking) error {
	return p.publish(EventBookingStatusChanged, b)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
