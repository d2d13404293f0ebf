package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/resolveit/platform/internal/shared/metrics"
	"github.com/resolveit/platform/internal/shared/types"
	"go.uber.org/zap"
)

var (
	// ErrSubscriberUnreachable is reported when a message could not be queued
	ErrSubscriberUnreachable = errors.New("subscriber unreachable")
	// ErrUnknownSubscriber is returned for connection ids the hub does not know
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Sink writes messages to one connection. Send may block; the hub calls it
// from a single goroutine per subscriber.
type Sink interface {
	Send(Message) error
	Close() error
}

// Subscriber is one live connection registered with the hub
type Subscriber struct {
	ID    string
	sink  Sink
	queue chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *Subscriber) enqueue(m Message) error {
	select {
	case <-s.done:
		return ErrSubscriberUnreachable
	default:
	}

	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return ErrSubscriberUnreachable
	default:
		return ErrSubscriberUnreachable
	}
}

// Hub owns the room membership table and fans messages out to subscribers.
// Every subscriber is on the global channel; rooms are joined explicitly.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	rooms       map[string]map[string]*Subscriber

	queueSize int
	logger    *zap.Logger
}

// NewHub creates a hub whose subscribers buffer up to queueSize messages
func NewHub(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		rooms:       make(map[string]map[string]*Subscriber),
		queueSize:   queueSize,
		logger:      logger,
	}
}

// Subscribe registers a connection and starts its delivery goroutine
func (h *Hub) Subscribe(sink Sink) *Subscriber {
	s := &Subscriber{
		ID:    uuid.New().String(),
		sink:  sink,
		queue: make(chan Message, h.queueSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[s.ID] = s
	h.mu.Unlock()

	metrics.SubscriberConnected()
	go h.deliver(s)
	return s
}

// deliver drains the subscriber queue in order until it is unsubscribed
func (h *Hub) deliver(s *Subscriber) {
	for {
		select {
		case m := <-s.queue:
			if err := s.sink.Send(m); err != nil {
				h.logger.Debug("Realtime delivery failed",
					zap.String("subscriber", s.ID),
					zap.String("event", m.Event),
					zap.Error(err),
				)
				h.Unsubscribe(s.ID)
				s.sink.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// SubscribeToCase joins a connection to the room of caseID
func (h *Hub) SubscribeToCase(connID string, caseID types.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.subscribers[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, connID)
	}

	key := RoomKey(caseID)
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[string]*Subscriber)
		h.rooms[key] = room
	}
	room[connID] = s
	return nil
}

// LeaveCase removes a connection from one room
func (h *Hub) LeaveCase(connID string, caseID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, RoomKey(caseID))
}

func (h *Hub) leaveLocked(connID, key string) {
	room, ok := h.rooms[key]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, key)
	}
}

// Unsubscribe discards a connection and all of its room memberships.
// It is safe to call more than once.
func (h *Hub) Unsubscribe(connID string) {
	h.mu.Lock()
	s, ok := h.subscribers[connID]
	if ok {
		delete(h.subscribers, connID)
		for key := range h.rooms {
			h.leaveLocked(connID, key)
		}
	}
	h.mu.Unlock()

	if ok {
		s.once.Do(func() { close(s.done) })
		metrics.SubscriberDisconnected()
	}
}

// PublishToCase delivers m to the members of the case room only
func (h *Hub) PublishToCase(caseID types.ID, m Message) error {
	h.mu.RLock()
	room := h.rooms[RoomKey(caseID)]
	targets := make([]*Subscriber, 0, len(room))
	for _, s := range room {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	return h.fanOut(targets, m)
}

// PublishGlobal delivers m to every subscriber
func (h *Hub) PublishGlobal(m Message) error {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	return h.fanOut(targets, m)
}

// SendTo delivers m to a single connection
func (h *Hub) SendTo(connID string, m Message) error {
	h.mu.RLock()
	s, ok := h.subscribers[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, connID)
	}
	return h.fanOut([]*Subscriber{s}, m)
}

// fanOut runs without the membership lock; enqueueing never blocks
func (h *Hub) fanOut(targets []*Subscriber, m Message) error {
	dropped := 0
	for _, s := range targets {
		if err := s.enqueue(m); err != nil {
			dropped++
			metrics.RecordRealtimeDropped(m.Event)
			h.logger.Warn("Realtime message dropped",
				zap.String("subscriber", s.ID),
				zap.String("event", m.Event),
			)
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d subscribers", ErrSubscriberUnreachable, dropped, len(targets))
	}
	return nil
}

// SubscriberCount returns the number of live connections
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// RoomSize returns the number of connections joined to a case room
func (h *Hub) RoomSize(caseID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomKey(caseID)])
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subscribers))
	sinks := make([]Sink, 0, len(h.subscribers))
	for id, s := range h.subscribers {
		ids = append(ids, id)
		sinks = append(sinks, s.sink)
	}
	h.mu.RUnlock()

	for i, id := range ids {
		h.Unsubscribe(id)
		sinks[i].Close()
	}
}
