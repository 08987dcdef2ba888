package dashboard

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/training"
)

// Manager hands out one loaded Session per project and variant.
//
// Sessions are reloaded lazily: a session is refetched on its next use after
// a SourcesChanged, FilesChanged or end-of-run TrainingStateChanged event for
// its project, or after Invalidate.
type Manager struct {
	registry Registry
	trainer  Trainer
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session

	unsubscribe []func()
}

type sessionKey struct {
	projectID string
	variant   Variant
}

// NewManager creates a manager. opts.Variant is ignored; each Session call
// picks its own. Notifications go to opts.Bus, and the manager listens on it
// for changes made by other sessions and by training runs.
func NewManager(registry Registry, trainer Trainer, opts Options) *Manager {
	m := &Manager{
		registry: registry,
		trainer:  trainer,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		sessions: make(map[sessionKey]*Session),
	}
	if opts.Bus != nil {
		m.unsubscribe = []func(){
			opts.Bus.Subscribe(events.KindSourcesChanged, func(e events.Event) {
				if ev, ok := e.(events.SourcesChanged); ok {
					m.Invalidate(ev.ProjectID)
				}
			}),
			opts.Bus.Subscribe(events.KindFilesChanged, func(e events.Event) {
				if ev, ok := e.(events.FilesChanged); ok {
					m.Invalidate(ev.ProjectID)
				}
			}),
			opts.Bus.Subscribe(events.KindTrainingStateChanged, func(e events.Event) {
				if ev, ok := e.(events.TrainingStateChanged); ok && ev.Phase == string(training.PhaseIdle) {
					m.Invalidate(ev.ProjectID)
				}
			}),
		}
	}
	return m
}

// Session returns the loaded session of a project, creating it on first use.
// A session marked stale is reloaded before it is returned.
func (m *Manager) Session(ctx context.Context, projectID string, variant Variant) (*Session, error) {
	key := sessionKey{projectID: projectID, variant: variant}

	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		opts := m.opts
		opts.Variant = variant
		s = NewSession(projectID, m.registry, m.trainer, events.NewNotifier(m.opts.Bus, projectID), opts)
		m.sessions[key] = s
	}
	m.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Invalidate marks every session of a project for reload.
func (m *Manager) Invalidate(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if key.projectID == projectID {
			s.Invalidate()
		}
	}
}

// Wait blocks until background training of every session is done.
func (m *Manager) Wait() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
	}
	m.logger.Debug("dashboard sessions idle", zap.Int("sessions", len(sessions)))
}

// Close stops listening on the bus.
func (m *Manager) Close() {
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
}
