package clients

import (
	"errors"
	"fmt"
	"time"

	"timesheet-auth-svc/src/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	cfg     *config.QueueConfig
}

const (
	amqpDialTimeout = 5 * time.Second
	amqpHeartbeat   = 10 * time.Second
)

func NewRabbitMQ(cfg *config.QueueConfig) (*RabbitMQ, error) {
	log.WithField("exchange", cfg.RabbitMQ.Exchange).Info("Connecting to RabbitMQ...")
	conn, err := amqp.DialConfig(cfg.RabbitMQ.Url, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Dial:      amqp.DefaultDial(amqpDialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	r := &RabbitMQ{
		Conn:    conn,
		Channel: channel,
		cfg:     cfg,
	}
	go r.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	log.Info("Connected to RabbitMQ")
	return r, nil
}

// watchClose logs a broker-initiated shutdown. Publishing then fails and is logged per event;
// authentication is not affected.
func (r *RabbitMQ) watchClose(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		log.WithFields(logrus.Fields{
			"code":   err.Code,
			"reason": err.Reason,
		}).Warn("RabbitMQ connection closed by broker")
	}
}

// Close closes the channel and then the connection, reporting every failure.
func (r *RabbitMQ) Close() error {
	var errs []error

	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			log.WithError(err).Error("Failed to close RabbitMQ channel")
			errs = append(errs, err)
		} else {
			log.Info("RabbitMQ channel closed")
		}
	}

	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			log.WithError(err).Error("Failed to close RabbitMQ connection")
			errs = append(errs, err)
		} else {
			log.Info("RabbitMQ connection closed")
		}
	}

	return errors.Join(errs...)
}

// SetupExchange declares the exchange session events are published to.
func (r *RabbitMQ) SetupExchange() error {
	err := r.Channel.ExchangeDeclare(
		r.cfg.RabbitMQ.Exchange,
		r.cfg.RabbitMQ.ExchangeType,
		r.cfg.RabbitMQ.Durable,
		r.cfg.RabbitMQ.AutoDelete,
		r.cfg.RabbitMQ.Internal,
		r.cfg.RabbitMQ.NoWait,
		nil,
	)

	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", r.cfg.RabbitMQ.Exchange, err)
	}

	log.WithFields(logrus.Fields{
		"exchange": r.cfg.RabbitMQ.Exchange,
		"type":     r.cfg.RabbitMQ.ExchangeType,
	}).Debug("RabbitMQ exchange declared")
	return nil
}
