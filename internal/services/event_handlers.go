package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/slotwise/backend/internal/models"
)

// AuditHandler writes a structured audit line for every event it sees.
// Registered first so the audit trail always precedes other side effects.
type AuditHandler struct{}

func NewAuditHandler() *AuditHandler {
	return &AuditHandler{}
}

func (h *AuditHandler) Name() string { return "audit" }

func (h *AuditHandler) Handle(_ context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	log.Printf("AUDIT: %s", string(data))
	return nil
}

// NotificationHandler hands the event to a notifier (SMS, push, email).
// The Notifier is injected; the default logs.
type NotificationHandler struct {
	notify func(event models.Event) error
}

func NewNotificationHandler(notify func(event models.Event) error) *NotificationHandler {
	if notify == nil {
		notify = func(event models.Event) error {
			log.Printf("[NOTIFY] %s: %v", event.Name, event.Payload)
			return nil
		}
	}
	return &NotificationHandler{notify: notify}
}

func (h *NotificationHandler) Name() string { return "notification" }

func (h *NotificationHandler) Handle(_ context.Context, event models.Event) error {
	return h.notify(event)
}

// AMQPChannel is the slice of the amqp channel API the publisher needs.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueuePublisherHandler publishes events to a durable queue named after the
// event, one queue per event name. Consumers (notification, analytics,
// downstream cascades) subscribe by name.
type QueuePublisherHandler struct {
	channel AMQPChannel
}

func NewQueuePublisherHandler(channel AMQPChannel) *QueuePublisherHandler {
	return &QueuePublisherHandler{channel: channel}
}

func (h *QueuePublisherHandler) Name() string { return "queue_publisher" }

func (h *QueuePublisherHandler) Handle(ctx context.Context, event models.Event) error {
	// Idempotent declare; durable so messages survive broker restarts.
	if _, err := h.channel.QueueDeclare(event.Name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", event.Name, err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := h.channel.PublishWithContext(ctx, "", event.Name, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", event.Name, err)
	}
	return nil
}
