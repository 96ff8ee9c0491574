package service

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BroadcastHub maintains the set of attached subscribers and fans presence
// events out to all of them. One slow consumer never blocks the rest: pushes
// are non-blocking and a subscriber that overflows past coalescing is
// detached and closed.
type BroadcastHub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewBroadcastHub creates the hub and its WebSocket upgrader.
func NewBroadcastHub(readBufferSize, writeBufferSize int, log *zap.Logger) *BroadcastHub {
	return &BroadcastHub{
		subs: make(map[string]*Subscriber),
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
	}
}

// Upgrader returns the WebSocket upgrader for HTTP handlers.
func (h *BroadcastHub) Upgrader() *websocket.Upgrader {
	return &h.upgrader
}

// Attach adds a subscriber to the fan-out set.
func (h *BroadcastHub) Attach(sub *Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	h.mu.Unlock()
	h.log.Info("subscriber attached",
		zap.String("connection_id", sub.ID()),
		zap.String("user_id", sub.UserID()))
}

// Detach removes a subscriber from the fan-out set. Idempotent.
func (h *BroadcastHub) Detach(connID string) {
	h.mu.Lock()
	_, ok := h.subs[connID]
	delete(h.subs, connID)
	h.mu.Unlock()
	if ok {
		h.log.Info("subscriber detached", zap.String("connection_id", connID))
	}
}

// Broadcast marshals v once and offers it to every subscriber. Subscribers
// whose queue overflows past coalescing are kicked so they cannot throttle
// delivery for everyone else.
func (h *BroadcastHub) Broadcast(typ, sessionID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("broadcast marshal failed", zap.String("type", typ), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var kicked []*Subscriber
	for _, sub := range targets {
		if !sub.push(outFrame{typ: typ, sessionID: sessionID, data: data}) {
			kicked = append(kicked, sub)
		}
	}
	for _, sub := range kicked {
		h.mu.Lock()
		delete(h.subs, sub.ID())
		h.mu.Unlock()
		sub.Close()
		h.log.Warn("slow subscriber kicked",
			zap.String("connection_id", sub.ID()),
			zap.String("user_id", sub.UserID()))
	}
}

// SubscriberCount reports the number of attached connections.
func (h *BroadcastHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
