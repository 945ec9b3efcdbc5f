package transport

import "sync"

type ChangeOp = string

const (
	ChangeInsert = ChangeOp("insert")
	ChangeUpdate = ChangeOp("update")
	ChangeDelete = ChangeOp("delete")
)

// Change is one row-level event on a backing table, mirrored onto the hub by
// whichever service performed the write.
type Change struct {
	Table   string
	Op      ChangeOp
	Payload any
}

// ChangeWatcher receives changes on one table that pass its filter. Like a
// Subscription it has a single owner and must be closed on session teardown.
type ChangeWatcher struct {
	hub    *Hub
	table  string
	filter func(Change) bool
	queue  chan Change
	once   sync.Once
}

func (w *ChangeWatcher) C() <-chan Change {
	return w.queue
}

func (w *ChangeWatcher) Close() {
	w.once.Do(func() {
		w.hub.mu.Lock()
		if watchers, ok := w.hub.watchers[w.table]; ok {
			delete(watchers, w)
			if len(watchers) == 0 {
				delete(w.hub.watchers, w.table)
			}
		}
		w.hub.mu.Unlock()
		close(w.queue)
	})
}

// Watch subscribes to row events on a table. A nil filter passes everything.
func (h *Hub) Watch(table string, filter func(Change) bool) *ChangeWatcher {
	watcher := &ChangeWatcher{
		hub:    h,
		table:  table,
		filter: filter,
		queue:  make(chan Change, SubscriptionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[table]; !ok {
		h.watchers[table] = make(map[*ChangeWatcher]struct{})
	}
	h.watchers[table][watcher] = struct{}{}

	return watcher
}

// PublishChange pushes one row event to every watcher whose filter accepts it.
// Best-effort with the same drop-oldest policy as broadcasts.
func (h *Hub) PublishChange(table string, op ChangeOp, payload any) {
	change := Change{Table: table, Op: op, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for watcher := range h.watchers[table] {
		if watcher.filter != nil && !watcher.filter(change) {
			continue
		}
		select {
		case watcher.queue <- change:
		default:
			select {
			case <-watcher.queue:
			default:
			}
			select {
			case watcher.queue <- change:
			default:
			}
		}
	}
}
