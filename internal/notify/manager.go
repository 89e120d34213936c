package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"suarawarga/backend/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel shared by all instances.
const Channel = "suarawarga:events"

const broadcastBuffer = 256

// Hub keeps the set of connected clients and broadcasts events to them.
// With Redis configured, Publish goes through the shared channel so every
// instance's clients see every event.
type Hub struct {
	clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	broadcastCh  chan Event

	rdb  *redis.Client
	log  logger.Logger
	done chan struct{}
	once sync.Once
}

func NewHub(rdb *redis.Client, log logger.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		broadcastCh:  make(chan Event, broadcastBuffer),
		rdb:          rdb,
		log:          log.With(logger.String("component", "notify")),
		done:         make(chan struct{}),
	}
}

// Run owns the client set until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.once.Do(func() { close(h.done) })

	var wg sync.WaitGroup
	if h.rdb != nil {
		sub := h.rdb.Subscribe(ctx, Channel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(ctx, sub.Channel())
		}()
		defer func() {
			sub.Close()
			wg.Wait()
		}()
	}

	for {
		select {
		case <-ctx.Done():
			for id, c := range h.clients {
				delete(h.clients, id)
				c.Close()
			}
			return nil

		case c := <-h.RegisterCh:
			h.clients[c.GetID()] = c

		case c := <-h.UnregisterCh:
			if _, ok := h.clients[c.GetID()]; ok {
				delete(h.clients, c.GetID())
				c.Close()
			}

		case e := <-h.broadcastCh:
			for id, c := range h.clients {
				select {
				case c.GetSendChannel() <- e:
				default:
					// slow consumer
					h.log.Warn("dropping slow client", logger.String("client_id", id))
					delete(h.clients, id)
					c.Close()
				}
			}
		}
	}
}

// Register adds a client unless the hub has stopped.
func (h *Hub) Register(c Client) bool {
	select {
	case h.RegisterCh <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; after the hub stopped it is a no-op.
func (h *Hub) Unregister(c Client) {
	select {
	case h.UnregisterCh <- c:
	case <-h.done:
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if h.rdb != nil {
		payload, err := json.Marshal(e)
		if err == nil {
			err = h.rdb.Publish(ctx, Channel, payload).Err()
		}
		if err == nil {
			return
		}
		h.log.Warn("redis publish failed, delivering locally", logger.String("type", string(e.Type)), logger.Error(err))
	}
	h.deliver(e)
}

func (h *Hub) deliver(e Event) {
	select {
	case h.broadcastCh <- e:
	default:
		h.log.Warn("event dropped, broadcast buffer full", logger.String("type", string(e.Type)))
	}
}

func (h *Hub) forward(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				h.log.Warn("bad event payload", logger.Error(err))
				continue
			}
			h.deliver(e)
		}
	}
}
