package events

import "sync"

// Toasts buffers Notification events per project until they are drained.
// The web UI drains them on each status poll.
type Toasts struct {
	mu      sync.Mutex
	max     int
	pending map[string][]Notification
}

// NewToasts creates a buffer keeping at most max pending toasts per project.
// Older toasts are dropped first. max <= 0 means 20.
func NewToasts(max int) *Toasts {
	if max <= 0 {
		max = 20
	}
	return &Toasts{max: max, pending: make(map[string][]Notification)}
}

// Attach subscribes the buffer to bus and returns the unsubscribe func.
func (t *Toasts) Attach(bus *Bus) func() {
	return bus.Subscribe(KindNotification, func(e Event) {
		if n, ok := e.(Notification); ok {
			t.Push(n)
		}
	})
}

// Push adds a toast.
func (t *Toasts) Push(n Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := append(t.pending[n.ProjectID], n)
	if len(list) > t.max {
		list = list[len(list)-t.max:]
	}
	t.pending[n.ProjectID] = list
}

// Drain returns and clears the pending toasts of a project, oldest first.
func (t *Toasts) Drain(projectID string) []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.pending[projectID]
	delete(t.pending, projectID)
	return list
}
