package sim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"spot-sim/internal/core"
	"spot-sim/internal/userdata"
)

// EventHub hands out simulated user data streams keyed by listen key.
type EventHub struct {
	now     func() time.Time
	metrics *Metrics

	mu       sync.Mutex
	channels map[string]*Channel
}

func NewEventHub(now func() time.Time, metrics *Metrics) *EventHub {
	if now == nil {
		now = time.Now
	}
	return &EventHub{
		now:      now,
		metrics:  metrics,
		channels: make(map[string]*Channel),
	}
}

// Subscribe opens a channel for l. OnOpen runs before Subscribe returns.
func (h *EventHub) Subscribe(l userdata.Listener) *Channel {
	ch := &Channel{
		hub:       h,
		listenKey: uuid.NewString(),
		listener:  l,
		open:      true,
		lastPing:  h.now(),
	}
	h.mu.Lock()
	h.channels[ch.listenKey] = ch
	h.mu.Unlock()

	log.Printf("level=INFO event=sim_stream_open listen_key=%s", ch.listenKey)
	if l != nil {
		l.OnOpen()
	}
	return ch
}

func (h *EventHub) Channel(listenKey string) (*Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[listenKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidListenKey, listenKey)
	}
	return ch, nil
}

// KeepAlive refreshes a listen key. Keys never expire in the simulator; the
// call only validates the key.
func (h *EventHub) KeepAlive(ctx context.Context, listenKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := h.Channel(listenKey)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.lastPing = h.now()
	ch.mu.Unlock()
	return nil
}

func (h *EventHub) CloseStream(ctx context.Context, listenKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := h.Channel(listenKey)
	if err != nil {
		return err
	}
	ch.Close(1000, "listen key closed")
	return nil
}

// Broadcast pushes ev to every open channel.
func (h *EventHub) Broadcast(ev userdata.Event) {
	h.mu.Lock()
	channels := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()
	for _, ch := range channels {
		if err := ch.push(ev); err != nil {
			log.Printf(
				"level=WARN event=sim_stream_push_failed listen_key=%s event_type=%s err=%q",
				ch.listenKey,
				ev.EventName(),
				err.Error(),
			)
		}
	}
}

func (h *EventHub) remove(listenKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, listenKey)
}

// Channel is one simulated subscription. Pushes are delivered synchronously
// on the caller's goroutine.
type Channel struct {
	hub       *EventHub
	listenKey string
	listener  userdata.Listener

	mu       sync.Mutex
	open     bool
	lastPing time.Time
}

func (c *Channel) ListenKey() string { return c.listenKey }

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Channel) PushAccountUpdate(acct core.Account) error {
	return c.push(userdata.NewAccountUpdate(acct, c.hub.now()))
}

func (c *Channel) PushAssetUpdate(asset core.Asset) error {
	return c.push(userdata.NewAssetUpdate(asset, c.hub.now()))
}

// PushOrderUpdate sends an execution report; trade is nil for updates that
// did not come from a fill.
func (c *Channel) PushOrderUpdate(order core.Order, trade *core.Trade) error {
	return c.push(userdata.NewExecutionReport(order, trade, c.hub.now()))
}

func (c *Channel) push(ev userdata.Event) error {
	payload, err := userdata.Encode(ev)
	if err != nil {
		return err
	}
	if !c.IsOpen() {
		return fmt.Errorf("%w: %s", core.ErrChannelClosed, c.listenKey)
	}
	if c.listener != nil {
		c.listener.OnMessage(payload)
	}
	c.hub.metrics.ObserveEvent(ev.EventName())
	return nil
}

// Close notifies the listener once and unregisters the listen key.
func (c *Channel) Close(code int, reason string) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	c.mu.Unlock()

	c.hub.remove(c.listenKey)
	log.Printf("level=INFO event=sim_stream_closed listen_key=%s code=%d reason=%q", c.listenKey, code, reason)
	if c.listener != nil {
		c.listener.OnClose(code, reason)
	}
}
