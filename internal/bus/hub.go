// Package bus delivers named events to one connection or to every connection
// in a room, whichever instance holds the socket.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sender accepts an encoded frame for one connection without blocking.
// It returns false when the frame had to be dropped.
type Sender interface {
	Deliver(frame []byte) bool
}

// envelope is what travels between instances on the Redis channel.
type envelope struct {
	Origin  string          `json:"origin"`
	To      string          `json:"to,omitempty"`
	Room    string          `json:"room,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Hub owns the local connections of this instance and relays events to
// other instances over Redis pub/sub. With a nil client it runs single-node.
type Hub struct {
	instanceID string
	client     *redis.Client
	channel    string
	timeout    time.Duration
	log        zerolog.Logger

	mu    sync.RWMutex
	conns map[string]Sender
	rooms map[string]map[string]struct{}

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewHub creates a hub publishing on channel. timeout bounds each publish.
func NewHub(client *redis.Client, channel string, timeout time.Duration) *Hub {
	id := uuid.New().String()
	return &Hub{
		instanceID: id,
		client:     client,
		channel:    channel,
		timeout:    timeout,
		log:        log.With().Str("module", "bus").Str("instance", id).Logger(),
		conns:      make(map[string]Sender),
		rooms:      make(map[string]map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// InstanceID identifies this process on the shared channel.
func (h *Hub) InstanceID() string { return h.instanceID }

// Start subscribes to the shared channel and relays remote events until ctx
// ends or Close is called. It returns once the subscription is confirmed.
func (h *Hub) Start(ctx context.Context) error {
	if h.client == nil {
		return nil
	}
	pubsub := h.client.Subscribe(ctx, h.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("%w: subscribe %s: %v", models.ErrBusUnavailable, h.channel, err)
	}
	h.pubsub = pubsub

	go h.relay(ctx, pubsub.Channel())
	h.log.Info().Str("channel", h.channel).Msg("event bus subscribed")
	return nil
}

// Close ends the subscription.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	err := h.pubsub.Close()
	<-h.done
	return err
}

func (h *Hub) relay(ctx context.Context, msgs <-chan *redis.Message) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			if env.To != "" {
				h.deliverLocal(env.To, env.Frame)
			} else {
				h.deliverRoom(env.Room, env.Exclude, env.Frame)
			}
		}
	}
}

// Register makes handle reachable on this instance.
func (h *Hub) Register(handle string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[handle] = s
}

// Unregister forgets handle and drops it from every local room index.
func (h *Hub) Unregister(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, handle)
	for roomID, members := range h.rooms {
		delete(members, handle)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// JoinRoom adds handle to the local fan-out set of roomID.
func (h *Hub) JoinRoom(handle, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[handle] = struct{}{}
}

// LeaveRoom removes handle from the local fan-out set of roomID.
func (h *Hub) LeaveRoom(handle, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, handle)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// EmitTo delivers event to one connection. Handles are unique across
// instances, so a local hit is never published.
func (h *Hub) EmitTo(ctx context.Context, handle string, event models.Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	if h.deliverLocal(handle, frame) {
		return nil
	}
	return h.publish(ctx, envelope{Origin: h.instanceID, To: handle, Frame: frame})
}

// BroadcastToRoom delivers event to every member of roomID except exclude.
func (h *Hub) BroadcastToRoom(ctx context.Context, roomID string, event models.Event, exclude string) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	h.deliverRoom(roomID, exclude, frame)
	return h.publish(ctx, envelope{Origin: h.instanceID, Room: roomID, Exclude: exclude, Frame: frame})
}

func (h *Hub) publish(ctx context.Context, env envelope) error {
	if h.client == nil {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.client.Publish(ctx, h.channel, data).Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: publish timed out", models.ErrBusUnavailable)
		}
		return fmt.Errorf("%w: publish: %v", models.ErrBusUnavailable, err)
	}
	return nil
}

func (h *Hub) deliverLocal(handle string, frame []byte) bool {
	h.mu.RLock()
	s, ok := h.conns[handle]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !s.Deliver(frame) {
		h.log.Warn().Str("handle", handle).Msg("send buffer full, frame dropped")
	}
	return true
}

func (h *Hub) deliverRoom(roomID, exclude string, frame []byte) {
	h.mu.RLock()
	targets := make([]Sender, 0, len(h.rooms[roomID]))
	handles := make([]string, 0, len(h.rooms[roomID]))
	for handle := range h.rooms[roomID] {
		if handle == exclude {
			continue
		}
		if s, ok := h.conns[handle]; ok {
			targets = append(targets, s)
			handles = append(handles, handle)
		}
	}
	h.mu.RUnlock()

	for i, s := range targets {
		if !s.Deliver(frame) {
			h.log.Warn().Str("handle", handles[i]).Str("room", roomID).Msg("send buffer full, frame dropped")
		}
	}
}

// LocalConnections reports how many sockets this instance holds.
func (h *Hub) LocalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
