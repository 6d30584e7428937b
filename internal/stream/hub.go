package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	redisPrefix  = "lifetrack:"
	redisSuffix  = ":events"
	redisPattern = redisPrefix + "*" + redisSuffix

	subscribeTimeout = 2 * time.Second
)

// Hub fans payloads out to websocket clients grouped by channel. With a
// Redis client, broadcasts are relayed so clients connected to other API
// instances receive them too.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	origin  string
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	log     logrus.FieldLogger
	relayed sync.WaitGroup
}

type Client struct {
	Channel string
	Send    chan []byte
}

// envelope tags relayed payloads with the publishing hub so it can skip its
// own messages; those were already delivered locally.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// UserChannel is the channel a user's tracker events are broadcast on.
func UserChannel(userID string) string {
	return "tracker:" + userID
}

func NewHub(redisClient *redis.Client, log logrus.FieldLogger) *Hub {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
		log:     log,
	}

	if redisClient != nil {
		h.pubsub = redisClient.PSubscribe(context.Background(), redisPattern)
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		if _, err := h.pubsub.Receive(ctx); err != nil {
			h.log.WithError(err).Warn("redis relay subscription not confirmed")
		}
		cancel()
		h.relayed.Add(1)
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(channel string) *Client {
	client := &Client{
		Channel: channel,
		Send:    make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[channel] == nil {
		h.clients[channel] = map[*Client]struct{}{}
	}
	h.clients[channel][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.Channel]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.Channel)
	}
	close(client.Send)
}

// Broadcast delivers payload to local clients without blocking; slow
// clients miss messages. payload must be valid JSON when Redis relaying is
// enabled.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.deliver(channel, payload)

	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.origin, Payload: payload})
	if err != nil {
		h.log.WithError(err).WithField("channel", channel).Warn("payload not relayed")
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(channel), msg).Err(); err != nil {
		h.log.WithError(err).WithField("channel", channel).Warn("redis publish failed")
	}
}

// Close stops the Redis relay. Local broadcasting keeps working.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	err := h.pubsub.Close()
	h.relayed.Wait()
	return err
}

func (h *Hub) deliver(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[channel] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer h.relayed.Done()

	for msg := range h.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.log.WithError(err).WithField("redis_channel", msg.Channel).Debug("malformed relay message")
			continue
		}
		if env.Origin == h.origin {
			continue
		}
		channel := channelFromRedis(msg.Channel)
		if channel == "" {
			continue
		}
		h.deliver(channel, env.Payload)
	}
}

func redisChannel(channel string) string {
	return redisPrefix + channel + redisSuffix
}

func channelFromRedis(ch string) string {
	// lifetrack:{channel}:events
	rest, ok := strings.CutPrefix(ch, redisPrefix)
	if !ok {
		return ""
	}
	channel, ok := strings.CutSuffix(rest, redisSuffix)
	if !ok {
		return ""
	}
	return channel
}
