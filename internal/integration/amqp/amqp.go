// Package amqp implements an AMQP / RabbitMQ integration publishing the
// provisioning events to the amq.topic exchange.
package amqp

import (
	"bytes"
	"context"
	"text/template"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/logging"
)

const exchange = "amq.topic"

// Integration implements an AMQP integration.
type Integration struct {
	chPool          *pool
	eventRoutingKey *template.Template
}

// New creates a new AMQP integration.
func New(conf config.Config) (*Integration, error) {
	c := conf.Integration.AMQP

	var i Integration
	var err error

	i.eventRoutingKey, err = template.New("event").Parse(c.EventRoutingKeyTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "integration/amqp: parse event routing-key template error")
	}

	log.Info("integration/amqp: connecting to AMQP server")
	i.chPool, err = newPool(10, c.URL)
	if err != nil {
		return nil, errors.Wrap(err, "integration/amqp: new amqp channel pool error")
	}

	return &i, nil
}

// SendProvisioningEvent publishes the given event.
func (i *Integration) SendProvisioningEvent(ctx context.Context, ev integration.ProvisioningEvent) error {
	routingKey := bytes.NewBuffer(nil)
	if err := i.eventRoutingKey.Execute(routingKey, integration.TemplateContext{
		SlotLabel: ev.SlotLabel,
		EventType: ev.Type,
	}); err != nil {
		return errors.Wrap(err, "execute event routing-key template error")
	}

	b, err := ev.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal event error")
	}

	ch, err := i.chPool.get()
	if err != nil {
		return errors.Wrap(err, "get amqp channel from pool error")
	}
	defer ch.close()

	log.WithFields(log.Fields{
		"routing_key": routingKey.String(),
		"event":       ev.Type,
		"slot":        ev.SlotLabel,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Info("integration/amqp: publishing event")

	err = ch.ch.Publish(
		exchange,
		routingKey.String(),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        b,
		},
	)
	if err != nil {
		ch.markUnusable()
		amqpEventCounter(string(ev.Type), "error").Inc()
		return errors.Wrap(err, "publish event error")
	}

	amqpEventCounter(string(ev.Type), "ok").Inc()
	return nil
}

// Close closes the integration.
func (i *Integration) Close() error {
	log.Info("integration/amqp: closing integration")
	return i.chPool.close()
}
