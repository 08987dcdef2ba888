// Package events is a small typed publish/subscribe bus.
//
// Components publish concrete event values; subscribers register for one
// Kind and receive only events of that kind. Handlers run synchronously on
// the publishing goroutine, in subscription order.
package events

import (
	"sync"
)

// Kind identifies an event type.
type Kind string

const (
	KindOpenChat             Kind = "open_chat"
	KindNotification         Kind = "notification"
	KindTrainingStateChanged Kind = "training_state_changed"
	KindSourcesChanged       Kind = "sources_changed"
	KindFilesChanged         Kind = "files_changed"
)

// Event is implemented by every value published on a Bus.
type Event interface {
	Kind() Kind
}

// OpenChat asks the chat panel of a project to open.
type OpenChat struct {
	ProjectID string
}

// Level is the severity of a Notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient toast with a single message.
type Notification struct {
	ProjectID string `json:"project_id"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

// TrainingStateChanged is published whenever a project's training state moves.
// Phase mirrors training.Phase without importing it.
type TrainingStateChanged struct {
	ProjectID string
	Phase     string
	Source    string
	Processed int
	Total     int
	Errors    int
}

// SourcesChanged is published after a source was added or deleted.
type SourcesChanged struct {
	ProjectID string
	SourceID  string
	Deleted   bool
}

// FilesChanged is published after training wrote or removed files.
type FilesChanged struct {
	ProjectID string
	Updated   int
	Deleted   int
}

func (OpenChat) Kind() Kind             { return KindOpenChat }
func (Notification) Kind() Kind         { return KindNotification }
func (TrainingStateChanged) Kind() Kind { return KindTrainingStateChanged }
func (SourcesChanged) Kind() Kind       { return KindSourcesChanged }
func (FilesChanged) Kind() Kind         { return KindFilesChanged }

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus dispatches events to subscribers. The zero value is not usable; use NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Kind][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// Subscribe registers fn for events of kind. The returned func removes the
// subscription and is safe to call more than once.
func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[kind]) == 0 {
				delete(b.subs, kind)
			}
		})
	}
}

// Publish delivers e to every subscriber of its kind.
// A nil bus drops events, so optional wiring needs no checks.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind()]))
	for _, s := range b.subs[e.Kind()] {
		handlers = append(handlers, s.fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}

// Notifier publishes Notification events for one project.
type Notifier struct {
	bus       *Bus
	projectID string
}

// NewNotifier returns a notifier bound to projectID.
func NewNotifier(bus *Bus, projectID string) *Notifier {
	return &Notifier{bus: bus, projectID: projectID}
}

// Success shows a success toast.
func (n *Notifier) Success(msg string) {
	n.bus.Publish(Notification{ProjectID: n.projectID, Level: LevelSuccess, Message: msg})
}

// Error shows an error toast.
func (n *Notifier) Error(msg string) {
	n.bus.Publish(Notification{ProjectID: n.projectID, Level: LevelError, Message: msg})
}
