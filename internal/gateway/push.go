package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/Duocast/TSOD/internal/ids"
	"github.com/Duocast/TSOD/internal/wire"
)

// PushHub fans server-initiated envelopes (presence/chat/moderation events)
// out to the control-stream writer queue of whichever sessions are online,
// grounded in original_source/server/gateway/src/state.rs's PushHub (there
// an mpsc channel per user behind a DashMap; here a bounded Go channel per
// user behind a sync.RWMutex-guarded map).
type PushHub struct {
	mu      sync.RWMutex
	subs    map[ids.UserID]chan wire.ServerToClient
	dropped atomic.Int64
}

// pushQueueDepth is the per-user bound on queued pushes (spec.md §5). A
// queue at this depth drops its oldest entry rather than the incoming one,
// so a burst never starves a session of its most recent state.
const pushQueueDepth = 1024

func NewPushHub() *PushHub {
	return &PushHub{subs: make(map[ids.UserID]chan wire.ServerToClient)}
}

// Register returns the channel a session's writer goroutine should drain.
func (h *PushHub) Register(user ids.UserID) <-chan wire.ServerToClient {
	ch := make(chan wire.ServerToClient, pushQueueDepth)
	h.mu.Lock()
	h.subs[user] = ch
	h.mu.Unlock()
	return ch
}

func (h *PushHub) Unregister(user ids.UserID) {
	h.mu.Lock()
	ch, ok := h.subs[user]
	delete(h.subs, user)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Send enqueues msg for user. If that session's queue is already at
// pushQueueDepth, the oldest queued push is discarded to make room rather
// than blocking the caller or dropping msg itself — a slow or wedged client
// must never stall delivery to everyone else, and must still see the
// freshest state once it catches up.
func (h *PushHub) Send(user ids.UserID, msg wire.ServerToClient) bool {
	h.mu.RLock()
	ch, ok := h.subs[user]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	for {
		select {
		case ch <- msg:
			return true
		default:
		}
		select {
		case <-ch:
			h.dropped.Add(1)
		default:
			// Raced with a concurrent receive that drained the slot we
			// just observed full; retry the send.
		}
	}
}

// Dropped returns the total number of pushes evicted across all users for
// being the oldest entry in an already-full queue.
func (h *PushHub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *PushHub) Broadcast(users []ids.UserID, msg wire.ServerToClient) {
	for _, u := range users {
		h.Send(u, msg)
	}
}
