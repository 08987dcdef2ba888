package web

import (
	"sync"

	"github.com/hpungsan/quarry/internal/events"
)

// chatRequests remembers projects whose chat panel was asked to open until
// the next render picks the request up.
type chatRequests struct {
	mu      sync.Mutex
	pending map[string]bool
}

func newChatRequests(bus *events.Bus) *chatRequests {
	c := &chatRequests{pending: make(map[string]bool)}
	bus.Subscribe(events.KindOpenChat, func(e events.Event) {
		if oc, ok := e.(events.OpenChat); ok {
			c.mu.Lock()
			c.pending[oc.ProjectID] = true
			c.mu.Unlock()
		}
	})
	return c
}

// take reports and clears the open request of a project.
func (c *chatRequests) take(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	open := c.pending[projectID]
	delete(c.pending, projectID)
	return open
}
