package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

type amqpPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ActivityPublisher publishes session events to RabbitMQ. Without a channel it only logs.
type ActivityPublisher struct {
	mu         sync.Mutex
	channel    amqpPublisher
	exchange   string
	routingKey string
}

func NewActivityPublisher(cfg *config.RabbitMQConfig, channel *amqp.Channel) *ActivityPublisher {
	p := &ActivityPublisher{
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}
	if channel != nil {
		p.channel = channel
	}
	return p
}

// Publish sends event as JSON. amqp channels are not safe for concurrent use, so publishes
// are serialized.
func (p *ActivityPublisher) Publish(ctx context.Context, event models.SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.channel == nil {
		log.WithFields(logrus.Fields{
			"user_id": event.UserID,
			"action":  event.Action,
			"reason":  event.Reason,
		}).Debug("Session event (publishing disabled)")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	p.mu.Lock()
	err = p.channel.Publish(
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        event.Action,
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	p.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("Failed to publish session event")
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	log.WithFields(logrus.Fields{
		"user_id":     event.UserID,
		"session_id":  event.SessionID,
		"service":     event.ServiceName,
		"action":      event.Action,
		"exchange":    p.exchange,
		"routing_key": p.routingKey,
	}).Debug("Session event published")

	return nil
}
