// Package messaging provides a NATS client wrapper for the arena's event
// bus: pick and exhaustion events flow out of every server instance, and
// roster reload requests flow in.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects used by arena services.
const (
	SubjectPick         = "arena.pick"
	SubjectExhausted    = "arena.exhausted"
	SubjectRosterReload = "arena.roster.reload"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *zap.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "arena",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It fails if the
// initial connection fails.
func NewNATSClient(config NATSConfig, log *zap.Logger) (*NATSClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishPick publishes a PickEvent to arena.pick.
func (c *NATSClient) PublishPick(ev PickEvent) error {
	return c.publishJSON(SubjectPick, ev)
}

// PublishExhausted publishes an ExhaustedEvent to arena.exhausted.
func (c *NATSClient) PublishExhausted(ev ExhaustedEvent) error {
	return c.publishJSON(SubjectExhausted, ev)
}

// PublishRosterReload asks every server instance to reload its roster.
func (c *NATSClient) PublishRosterReload(ev RosterReloadEvent) error {
	return c.publishJSON(SubjectRosterReload, ev)
}

// SubscribeRosterReload calls handler for every reload request. Malformed
// payloads are logged and dropped.
func (c *NATSClient) SubscribeRosterReload(handler func(RosterReloadEvent)) error {
	return c.Subscribe(SubjectRosterReload, func(msg *nats.Msg) {
		var ev RosterReloadEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn("bad roster reload payload", zap.Error(err))
			return
		}
		handler(ev)
	})
}

// SubscribeEvents calls handler with the subject and raw payload of every
// pick and exhaustion event.
func (c *NATSClient) SubscribeEvents(handler func(subject string, data []byte)) error {
	for _, subject := range []string{SubjectPick, SubjectExhausted} {
		if err := c.Subscribe(subject, func(msg *nats.Msg) {
			handler(msg.Subject, msg.Data)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes the subscription for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain failed", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain failed", zap.Error(err))
	}

	c.log.Info("client closed")
}

func (c *NATSClient) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats: marshal %s: %w", subject, err)
	}
	return c.Publish(subject, data)
}
