package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/marketplace/delivery-service/config"
)

const queueSuffix = "delivery-service"

// Transport bundles the publisher and subscriber of one broker.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Kind       string
}

// NewTransport connects to RabbitMQ when an AMQP URL is configured and falls
// back to an in-process channel otherwise.
func NewTransport(cfg *config.Config, logger *slog.Logger) (*Transport, error) {
	wmLogger := watermill.NewSlogLogger(logger.With(slog.String("component", "watermill")))

	if cfg.PubSub.AMQPURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		logger.Info("[PUBSUB] using in-process transport")
		return &Transport{Publisher: ch, Subscriber: ch, Kind: "gochannel"}, nil
	}

	amqpCfg := amqp.NewDurablePubSubConfig(cfg.PubSub.AMQPURL, amqp.GenerateQueueNameTopicNameWithSuffix(queueSuffix))

	pub, err := amqp.NewPublisher(amqpCfg, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(amqpCfg, wmLogger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
	}

	logger.Info("[PUBSUB] using amqp transport")
	return &Transport{Publisher: pub, Subscriber: sub, Kind: "amqp"}, nil
}

// Close releases both sides. For the in-process transport they are the same object.
func (t *Transport) Close() error {
	err := t.Publisher.Close()
	if any(t.Subscriber) == any(t.Publisher) {
		return err
	}
	if serr := t.Subscriber.Close(); err == nil {
		err = serr
	}
	return err
}
