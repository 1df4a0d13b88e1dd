// Package realtime fans canvas changes out to other API instances over Redis
// pub/sub and tracks who is looking at which roof.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type EntityKind string

const (
	EntityLayer      EntityKind = "layer"
	EntityPin        EntityKind = "pin"
	EntityLayerOrder EntityKind = "layer_order"
	EntityCanvas     EntityKind = "canvas"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Notification describes one change to a roof canvas. NewState is the full
// entity after an insert or update and is empty for deletes.
type Notification struct {
	RoofID   string          `json:"roof_id"`
	Entity   EntityKind      `json:"entity"`
	ID       string          `json:"id"`
	Change   ChangeType      `json:"change"`
	NewState json.RawMessage `json:"new_state,omitempty"`
	Origin   string          `json:"origin"`
	SentAt   time.Time       `json:"sent_at"`
}

// Bus publishes and receives notifications on one channel per roof.
type Bus struct {
	client *redis.Client
	origin string
	prefix string
}

// NewBus connects to Redis. origin identifies this process; notifications
// it published are not delivered back to it.
func NewBus(redisURL, origin string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewBusWithClient(client, origin), nil
}

func NewBusWithClient(client *redis.Client, origin string) *Bus {
	return &Bus{client: client, origin: origin, prefix: "smartpin:"}
}

func (b *Bus) Origin() string {
	return b.origin
}

func (b *Bus) channel(roofID string) string {
	return b.prefix + "roof:" + roofID
}

// Publish stamps n with this bus's origin and sends it to the roof channel.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	n.Origin = b.origin
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(n.RoofID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscription delivers notifications for one roof until closed.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Close stops delivery and waits for the handler goroutine to exit.
func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe calls handler for every notification on the roof channel that
// came from another origin. Handlers run on a single goroutine, in order.
func (b *Bus) Subscribe(ctx context.Context, roofID string, handler func(Notification)) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(roofID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe roof %s: %w", roofID, err)
	}

	sub := &Subscription{pubsub: pubsub, done: make(chan struct{})}
	messages := pubsub.Channel()
	go func() {
		defer close(sub.done)
		for msg := range messages {
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Printf("realtime: drop malformed notification on %s: %v", msg.Channel, err)
				continue
			}
			if n.Origin == b.origin {
				continue
			}
			handler(n)
		}
	}()
	return sub, nil
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) Close() error {
	return b.client.Close()
}
