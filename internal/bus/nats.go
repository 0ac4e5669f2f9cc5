// internal/bus/nats.go
package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/fawad-mazhar/cmdhub/internal/config"
)

const subscriptionBuffer = 256

// NATS implements Bus on top of a NATS connection
type NATS struct {
	conn *nats.Conn
	log  logrus.FieldLogger
}

func NewNATS(cfg config.NATSConfig, log logrus.FieldLogger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATS{conn: conn, log: log}, nil
}

func (n *NATS) Publish(_ context.Context, channel string, payload []byte) error {
	if err := n.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	out := make(chan Message, subscriptionBuffer)
	raw := make(chan *nats.Msg, subscriptionBuffer)

	subs := make([]*nats.Subscription, 0, len(channels))
	for _, ch := range channels {
		sub, err := n.conn.ChanSubscribe(ch, raw)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", ch, err)
		}
		subs = append(subs, sub)
	}

	go func() {
		defer close(out)
		defer func() {
			for _, s := range subs {
				if err := s.Unsubscribe(); err != nil {
					n.log.WithError(err).WithField("subject", s.Subject).Warn("Failed to unsubscribe")
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-raw:
				select {
				case out <- Message{Channel: msg.Subject, Payload: msg.Data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
