// Package relay republishes committed ledger events to Redis pub/sub on
// channels named <prefix>:<event_type>.
package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"

	"github.com/tolelom/tolstake/events"
)

// Config holds connection parameters for the Redis client.
type Config struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TLSEnabled bool   `toml:"tls"`
	Prefix     string `toml:"prefix"`
	Buffer     int    `toml:"buffer"`
}

// Publisher sends a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisBus implements Publisher on a go-redis client.
type RedisBus struct {
	rdb *redis.Client
}

// Dial creates a Redis client and pings it to verify connectivity.
func Dial(ctx context.Context, cfg Config) (*RedisBus, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisBus{rdb: rdb}, nil
}

// Publish sends payload to channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

// Relay forwards events from an Emitter to a Publisher on a background
// goroutine. Events that arrive while the buffer is full are dropped.
type Relay struct {
	pub    Publisher
	prefix string
	queue  chan events.Event

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Relay. Call Attach to start forwarding.
func New(pub Publisher, prefix string, buffer int) *Relay {
	if prefix == "" {
		prefix = "tolstake"
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Relay{pub: pub, prefix: prefix, queue: make(chan events.Event, buffer)}
}

// Channel returns the pub/sub channel used for typ.
func (r *Relay) Channel(typ events.EventType) string {
	return r.prefix + ":" + string(typ)
}

// Attach subscribes to every event on em and starts the publish loop.
func (r *Relay) Attach(ctx context.Context, em *events.Emitter) {
	ctx, r.cancel = context.WithCancel(ctx)
	em.SubscribeAll(r.enqueue)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the publish loop after draining queued events.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Relay) enqueue(ev events.Event) {
	select {
	case r.queue <- ev:
	default:
		log.Warn("Relay buffer full, dropping event", "type", ev.Type, "tx", ev.TxID)
	}
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.publish(context.WithoutCancel(ctx), ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.publish(context.WithoutCancel(ctx), ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn("Failed to encode event", "type", ev.Type, "err", err)
		return
	}
	if err := r.pub.Publish(ctx, r.Channel(ev.Type), payload); err != nil {
		log.Warn("Failed to relay event", "type", ev.Type, "tx", ev.TxID, "err", err)
	}
}
