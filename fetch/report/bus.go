package report

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultRoutingKey = "ancillary.update"

// BusSettings is the messaging configuration from the config file.
type BusSettings struct {
	URL        string `yaml:"url" fetch:"required"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// AncillaryUpdate announces that ancillary files have been fetched.
type AncillaryUpdate struct {
	AncillaryType string            `json:"ancillary_type"`
	URIs          []string          `json:"uris"`
	Properties    map[string]string `json:"properties"`
}

// Bus publishes ancillary updates to an AMQP broker. Workers are short
// lived, so each announcement dials its own connection.
type Bus struct {
	settings *BusSettings
}

// NewBus returns a bus for the given settings, or nil when messaging is
// unconfigured.
func NewBus(settings *BusSettings) *Bus {
	if settings == nil {
		return nil
	}
	return &Bus{settings: settings}
}

// Announce publishes one update.
func (b *Bus) Announce(ctx context.Context, update *AncillaryUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return errors.Wrap(err, "encoding ancillary update")
	}

	conn, err := amqp.Dial(b.settings.URL)
	if err != nil {
		return errors.Wrap(err, "connecting to message bus")
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening channel")
	}
	defer func() { _ = ch.Close() }()

	routingKey := b.settings.RoutingKey
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}
	logrus.Debugf("Announcing %q (%d uris)", update.AncillaryType, len(update.URIs))
	err = ch.PublishWithContext(ctx, b.settings.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	return errors.Wrap(err, "publishing ancillary update")
}
