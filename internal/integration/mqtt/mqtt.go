// Package mqtt implements a MQTT integration publishing the provisioning
// events.
package mqtt

import (
	"bytes"
	"context"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/logging"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/tls"
)

const publishTimeout = 5 * time.Second

// publisher is the subset of paho.Client used by the integration.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Integration implements a MQTT integration.
type Integration struct {
	conn          publisher
	qos           uint8
	eventTemplate *template.Template
}

// New creates a new MQTT integration and connects to the broker. Connecting
// is retried until it succeeds or the context is cancelled.
func New(ctx context.Context, conf config.Config) (*Integration, error) {
	c := conf.Integration.MQTT

	i := Integration{
		qos: c.QOS,
	}

	var err error
	i.eventTemplate, err = template.New("event").Parse(c.EventTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "integration/mqtt: parse event template error")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.Server)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetCleanSession(c.CleanSession)
	opts.SetClientID(c.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(i.onConnected)
	opts.SetConnectionLostHandler(i.onConnectionLost)

	tlsConfig, err := tls.GetClientConfig(c.CACert, c.TLSCert, c.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "integration/mqtt: load tls configuration error")
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	log.WithField("server", c.Server).Info("integration/mqtt: connecting to mqtt broker")
	conn := paho.NewClient(opts)
	for {
		if token := conn.Connect(); token.Wait() && token.Error() != nil {
			log.Errorf("integration/mqtt: connecting to mqtt broker failed, will retry in 2s: %s", token.Error())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		} else {
			break
		}
	}
	i.conn = conn

	return &i, nil
}

// SendProvisioningEvent publishes the given event.
func (i *Integration) SendProvisioningEvent(ctx context.Context, ev integration.ProvisioningEvent) error {
	topic := bytes.NewBuffer(nil)
	if err := i.eventTemplate.Execute(topic, integration.TemplateContext{
		SlotLabel: ev.SlotLabel,
		EventType: ev.Type,
	}); err != nil {
		return errors.Wrap(err, "execute event template error")
	}

	b, err := ev.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal event error")
	}

	log.WithFields(log.Fields{
		"topic":  topic.String(),
		"qos":    i.qos,
		"event":  ev.Type,
		"slot":   ev.SlotLabel,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("integration/mqtt: publishing event")

	token := i.conn.Publish(topic.String(), i.qos, false, b)
	if !token.WaitTimeout(publishTimeout) {
		mqttEventCounter(string(ev.Type), "timeout").Inc()
		return errors.New("integration/mqtt: publish event timeout")
	}
	if err := token.Error(); err != nil {
		mqttEventCounter(string(ev.Type), "error").Inc()
		return errors.Wrap(err, "integration/mqtt: publish event error")
	}

	mqttEventCounter(string(ev.Type), "ok").Inc()
	return nil
}

// Close closes the integration.
func (i *Integration) Close() error {
	log.Info("integration/mqtt: closing integration")
	i.conn.Disconnect(250)
	return nil
}

func (i *Integration) onConnected(c paho.Client) {
	mqttConnectCounter().Inc()
	log.Info("integration/mqtt: connected to mqtt broker")
}

func (i *Integration) onConnectionLost(c paho.Client, reason error) {
	mqttDisconnectCounter().Inc()
	log.Errorf("integration/mqtt: mqtt connection error: %s", reason)
}
