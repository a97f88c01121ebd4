// Package messaging provides a NATS client wrapper for pub/sub across gateway
// instances, plus a Relay that extends room broadcasts to every instance in
// the cluster.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alumnet/platform/internal/room"
)

// NATS subjects used by the realtime gateway.
const (
	// SubjectRoomPrefix carries relayed room broadcasts: room.<room name>.
	SubjectRoomPrefix = "room."

	// SubjectRoomAll carries relayed broadcast-all events (presence).
	SubjectRoomAll = "room._all"

	// SubjectNotify is the ingress for notification requests published by
	// business services after their transaction commits.
	SubjectNotify = "notify.request"

	// NotifyQueue is the queue group for the notification ingress. All gateway
	// instances join the same group so each request is persisted once.
	NotifyQueue = "notify"
)

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "alumnet-gateway",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// QueueSubscribe registers a handler for the given subject as part of a queue
// group, so each message is delivered to exactly one member of the group.
func (c *Client) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeNotify subscribes to the notification ingress subject and passes
// the raw request payload to the handler. The subscription joins the shared
// queue group: with several gateway instances running, exactly one of them
// handles (and persists) each request, while the dispatcher's relay push still
// reaches whichever instance holds the recipient's connections.
func (c *Client) SubscribeNotify(handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectNotify, NotifyQueue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishNotify publishes a notification request to the ingress subject.
func (c *Client) PublishNotify(data []byte) error {
	return c.Publish(SubjectNotify, data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// relayEnvelope is the wire format for relayed room broadcasts. Origin lets
// an instance skip envelopes it published itself; Exclude identifies the
// originating connection and only has meaning on the origin instance.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Relay is a room.Broadcaster that delivers locally and republishes every
// broadcast over NATS so that other gateway instances can deliver to their
// own connections. Each instance runs one Relay around its local Router.
type Relay struct {
	id     string
	local  *room.Router
	client *Client
}

// NewRelay wraps the local router with cross-instance fan-out. id must be
// unique per gateway instance.
func NewRelay(id string, local *room.Router, client *Client) *Relay {
	return &Relay{id: id, local: local, client: client}
}

// Start subscribes to relayed broadcasts from other instances and applies
// them to the local router.
func (r *Relay) Start() error {
	return r.client.Subscribe(SubjectRoomPrefix+">", func(msg *nats.Msg) {
		var env relayEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[relay] malformed envelope on %s: %v", msg.Subject, err)
			return
		}
		if env.Origin == r.id {
			return
		}

		if env.Room == "" {
			r.local.BroadcastAll(env.Data, "")
			return
		}
		r.local.Broadcast(env.Room, env.Data, "")
	})
}

// Broadcast delivers to local members and relays the event to the cluster.
func (r *Relay) Broadcast(roomName string, data []byte, excludeConnID string) {
	r.local.Broadcast(roomName, data, excludeConnID)
	r.publish(SubjectRoomPrefix+roomName, relayEnvelope{
		Origin:  r.id,
		Room:    roomName,
		Exclude: excludeConnID,
		Data:    data,
	})
}

// BroadcastAll delivers to every local connection and relays the event.
func (r *Relay) BroadcastAll(data []byte, excludeConnID string) {
	r.local.BroadcastAll(data, excludeConnID)
	r.publish(SubjectRoomAll, relayEnvelope{
		Origin:  r.id,
		Exclude: excludeConnID,
		Data:    data,
	})
}

func (r *Relay) publish(subject string, env relayEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("[relay] marshal envelope: %v", err)
		return
	}
	if err := r.client.Publish(subject, payload); err != nil {
		log.Printf("[relay] publish %s: %v", subject, err)
	}
}
