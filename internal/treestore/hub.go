package treestore

import (
	"context"
	"log"
	"sync"
)

const subscriptionBuffer = 16

// hub fans mutations out to in-process subscriptions. The memory and GORM
// backends use it for change notification; the Redis backend gets the same
// behavior from Redis pub/sub instead.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]*hubSub
}

type hubSub struct {
	path string
	ch   chan Snapshot
}

func newHub() *hub {
	return &hub{subs: make(map[int]*hubSub)}
}

// subscribe registers a stream for path and queues the initial snapshot.
func (h *hub) subscribe(path string, initial Snapshot) (int, chan Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Snapshot, subscriptionBuffer)
	ch <- initial
	h.subs[id] = &hubSub{path: path, ch: ch}
	return id, ch
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// notify re-reads every affected subscription path and delivers a fresh
// snapshot. Slow consumers lose the oldest queued snapshot, never the
// newest one.
func (h *hub) notify(store Store, mutated string) {
	h.mu.Lock()
	affected := make(map[int]string)
	for id, sub := range h.subs {
		if pathAffects(mutated, sub.path) {
			affected[id] = sub.path
		}
	}
	h.mu.Unlock()

	snapshots := make(map[int]Snapshot, len(affected))
	for id, path := range affected {
		snap, err := store.Read(context.Background(), path)
		if err != nil {
			log.Printf("treestore: re-read of %s for subscription failed: %v", path, err)
			continue
		}
		snapshots[id] = snap
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, snap := range snapshots {
		sub, ok := h.subs[id]
		if !ok {
			continue // closed while we were reading
		}
		deliver(sub.ch, snap)
	}
}

func deliver(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
