// Package live pushes change notifications to open browser tabs over
// websockets. It is only an edge trigger: a tab that misses a frame still
// catches up on its next poll.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tripboard/logging"
	"tripboard/metrics"
	"tripboard/rdx"
)

// Change is the frame sent to subscribers.
type Change struct {
	LastUpdated string `json:"lastUpdated"`
}

// relayed is what travels over the Redis channel between instances.
type relayed struct {
	Change
	Origin string `json:"origin"`
}

type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

type Hub struct {
	id    string
	redis *redis.Client
	log   *zerolog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	quit    chan struct{}
	done    chan struct{}
	ready   chan struct{}
	started atomic.Bool
	once    sync.Once
	relay   sync.WaitGroup
}

// NewHub builds a hub. With a Redis client, changes are also relayed to and
// from every other instance subscribed to the same channel.
func NewHub(conn *redis.Client, log *zerolog.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		id:         uuid.NewString(),
		redis:      conn,
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the hub is running and, with Redis, subscribed.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

func (h *Hub) Run() {
	h.started.Store(true)
	defer close(h.done)

	if h.redis != nil {
		h.startRelay()
	}
	close(h.ready)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.LiveSubscribers.Inc()

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					h.drop(c)
				}
			}

		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
			}
			h.relay.Wait()
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.Send)
		metrics.LiveSubscribers.Dec()
	}
}

// Stop closes every subscriber and the relay, then waits for Run to exit.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.quit) })
	if h.started.Load() {
		<-h.done
	}
}

// Publish notifies local subscribers and, with Redis, every other instance.
func (h *Hub) Publish(ctx context.Context, lastUpdated string) {
	frame, err := json.Marshal(Change{LastUpdated: lastUpdated})
	if err != nil {
		return
	}
	h.deliver(frame)

	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(relayed{Change: Change{LastUpdated: lastUpdated}, Origin: h.id})
	if err != nil {
		return
	}
	if err := h.redis.Publish(ctx, rdx.ChangesChannel, payload).Err(); err != nil {
		h.log.Warn().Err(err).Msg("redis publish failed")
	}
}

func (h *Hub) deliver(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.quit:
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) startRelay() {
	ctx := context.Background()
	pubsub := h.redis.Subscribe(ctx, rdx.ChangesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Warn().Err(err).Msg("live relay disabled; redis subscribe failed")
		pubsub.Close()
		return
	}

	h.relay.Add(2)
	go func() {
		defer h.relay.Done()
		<-h.quit
		pubsub.Close()
	}()
	go func() {
		defer h.relay.Done()
		for msg := range pubsub.Channel() {
			var in relayed
			if err := json.Unmarshal([]byte(msg.Payload), &in); err != nil {
				h.log.Debug().Err(err).Msg("ignoring malformed relay message")
				continue
			}
			if in.Origin == h.id {
				continue
			}
			frame, _ := json.Marshal(in.Change)
			h.deliver(frame)
		}
	}()
}
