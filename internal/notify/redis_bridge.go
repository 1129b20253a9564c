package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// envelope is the payload on the Redis channel.
type envelope struct {
	Instance string  `json:"instance"`
	Message  Message `json:"message"`
}

func encodeEnvelope(instance string, msg Message) ([]byte, error) {
	return json.Marshal(envelope{Instance: instance, Message: msg})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Message.Type == "" {
		return envelope{}, fmt.Errorf("envelope without message type")
	}
	return env, nil
}

// outboxSize bounds the local notifications waiting to be sent to Redis.
const outboxSize = 64

// RedisBridge shares notifications between analyzer instances over a Redis
// pub/sub channel. Local publishes go out tagged with this instance's ID;
// messages from other instances are delivered to local subscribers.
//
// Publishing to Redis happens on Run's goroutine. A local Publish only queues
// the message, and drops it when the outbox is full.
type RedisBridge struct {
	rdb      *redis.Client
	channel  string
	instance string
	notifier *Notifier

	outbox  chan Message
	dropped atomic.Uint64
	onDrop  func()
}

func NewRedisBridge(rdb *redis.Client, channel string, n *Notifier) *RedisBridge {
	b := &RedisBridge{
		rdb:      rdb,
		channel:  channel,
		instance: uuid.NewString(),
		notifier: n,
		outbox:   make(chan Message, outboxSize),
	}
	n.OnPublish(b.forward)
	return b
}

func (b *RedisBridge) Instance() string { return b.instance }

// OnDrop registers a callback run for every notification dropped because the
// outbox was full. Call it before publishing starts.
func (b *RedisBridge) OnDrop(fn func()) { b.onDrop = fn }

// Dropped counts notifications never sent to Redis because the outbox was full.
func (b *RedisBridge) Dropped() uint64 { return b.dropped.Load() }

func (b *RedisBridge) forward(msg Message) {
	select {
	case b.outbox <- msg:
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop()
		}
	}
}

func (b *RedisBridge) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbox:
			data, err := encodeEnvelope(b.instance, msg)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode notification")
				continue
			}
			if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("channel", b.channel).Msg("Failed to forward notification to Redis")
			}
		}
	}
}

// Run forwards local notifications and receives remote ones until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.send(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Info().Str("channel", b.channel).Str("instance", b.instance).Msg("Redis notification bridge started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Redis notification bridge stopped")
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle([]byte(m.Payload))
		}
	}
}

func (b *RedisBridge) handle(payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed notification")
		return
	}
	if env.Instance == b.instance {
		return
	}
	b.notifier.Deliver(env.Message)
}
