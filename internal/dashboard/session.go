// Package dashboard is the view model behind the source-connection and
// training workflow. A Session holds one project's sources and files,
// performs mutations through a Registry and a Trainer, and derives the
// rendered state with Derive.
package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/project"
	"github.com/hpungsan/quarry/internal/training"
)

// Registry stores a project's sources and serves its trained files.
type Registry interface {
	AddSource(ctx context.Context, projectID string, sourceType project.SourceType, data json.RawMessage) (*project.Source, error)
	DeleteSource(ctx context.Context, projectID, sourceID string) error
	ListSources(ctx context.Context, projectID string) ([]project.Source, error)
	ListFiles(ctx context.Context, projectID string) ([]project.File, error)
}

// Trainer runs training for a project and reports its state.
type Trainer interface {
	State(projectID string) training.State
	TrainAllSources(ctx context.Context, projectID string, onProgress training.ProgressFunc, onError training.ErrorFunc) (*training.Summary, error)
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Options configures a Session.
type Options struct {
	Variant        Variant
	AutoTrainOnAdd bool
	SampleRepoURL  string
	Bus            *events.Bus
	Logger         *zap.Logger
}

// SourceRow is a connected source as listed by the dashboard.
type SourceRow struct {
	ID    string             `json:"id"`
	Type  project.SourceType `json:"type"`
	Label string             `json:"label"`
	Icon  string             `json:"icon"`
}

// Snapshot is a consistent copy of a session's observables and derived view.
type Snapshot struct {
	ProjectID string         `json:"project_id"`
	Variant   string         `json:"variant"`
	Sources   []SourceRow    `json:"sources"`
	Files     []project.File `json:"files"`
	Training  training.State `json:"training"`
	View      View           `json:"view"`
}

// Session is the dashboard of one project.
type Session struct {
	projectID string
	registry  Registry
	trainer   Trainer
	notifier  Notifier
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	loading bool
	loaded  bool
	sources []project.Source
	files   []project.File

	stale    atomic.Bool
	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// NewSession creates a session. It reports as loading until Load succeeds.
func NewSession(projectID string, registry Registry, trainer Trainer, notifier Notifier, opts Options) *Session {
	return &Session{
		projectID: projectID,
		registry:  registry,
		trainer:   trainer,
		notifier:  notifier,
		opts:      opts,
		logger:    logging.OrNop(opts.Logger).With(zap.String("project_id", projectID), zap.Stringer("variant", opts.Variant)),
		loading:   true,
	}
}

// ProjectID returns the project the session belongs to.
func (s *Session) ProjectID() string {
	return s.projectID
}

// Load fetches sources and files. Only the first load is reported as
// loading; later loads replace the lists in place.
func (s *Session) Load(ctx context.Context) error {
	s.stale.Store(false)
	err := s.refresh(ctx)

	s.mu.Lock()
	if err == nil {
		s.loaded = true
		s.loading = false
	}
	s.mu.Unlock()
	if err != nil {
		s.stale.Store(true)
	}
	return err
}

// Invalidate marks the session for a reload on its next use.
func (s *Session) Invalidate() {
	s.stale.Store(true)
}

// ensureLoaded loads the session unless it holds current data.
func (s *Session) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded && !s.stale.Load() {
		return nil
	}
	return s.Load(ctx)
}

// AddSource connects a source and appends it to the local list. Files are
// left as they are; training starts only when AutoTrainOnAdd is set.
func (s *Session) AddSource(ctx context.Context, sourceType project.SourceType, data json.RawMessage) (*project.Source, error) {
	var created *project.Source
	err := s.mutate("add source", func() error {
		src, err := s.registry.AddSource(ctx, s.projectID, sourceType, data)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.sources = append(s.sources, *src)
		s.mu.Unlock()
		created = src
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.Bus.Publish(events.SourcesChanged{ProjectID: s.projectID, SourceID: created.ID})
	if s.opts.AutoTrainOnAdd {
		s.trainAfterAdd(ctx)
	}
	return created, nil
}

// AddSampleSource connects the sample GitHub repository. The onboarding flow
// always starts training right away.
func (s *Session) AddSampleSource(ctx context.Context) (*project.Source, error) {
	data, err := json.Marshal(project.GitHubData{URL: s.opts.SampleRepoURL})
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	src, err := s.AddSource(ctx, project.SourceGitHub, data)
	if err != nil {
		return nil, err
	}
	if s.opts.Variant == VariantOnboarding && !s.opts.AutoTrainOnAdd {
		s.trainAfterAdd(ctx)
	}
	return src, nil
}

func (s *Session) trainAfterAdd(ctx context.Context) {
	if err := s.TrainInBackground(ctx); err != nil {
		s.logger.Info("training not started after add", zap.Error(err))
	}
}

// DeleteSource disconnects a source, then refetches sources and files since
// the source's files are removed with it.
func (s *Session) DeleteSource(ctx context.Context, sourceID string) error {
	err := s.mutate("delete source", func() error {
		if err := s.registry.DeleteSource(ctx, s.projectID, sourceID); err != nil {
			return err
		}
		return s.refresh(ctx)
	})
	if err != nil {
		return err
	}
	s.opts.Bus.Publish(events.SourcesChanged{ProjectID: s.projectID, SourceID: sourceID, Deleted: true})
	s.notifier.Success(ToastSourceRemoved)
	return nil
}

// StartTraining trains all sources and waits for the run to finish.
//
// Per-source failures are shown as error toasts and do not fail the call.
// Files are refreshed after every run. A successful run ends with exactly
// one success toast; a failed run shows its error instead.
func (s *Session) StartTraining(ctx context.Context) (*training.Summary, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, errors.NewTrainingInProgress(s.projectID)
	}
	defer s.inFlight.Store(false)
	return s.train(ctx)
}

// TrainInBackground starts training and returns without waiting. It fails
// with TRAINING_IN_PROGRESS when this session is already training.
func (s *Session) TrainInBackground(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return errors.NewTrainingInProgress(s.projectID)
	}
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		_, _ = s.train(runCtx)
	}()
	return nil
}

// Wait blocks until background training started by this session is done.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) train(ctx context.Context) (*training.Summary, error) {
	summary, err := s.trainer.TrainAllSources(ctx, s.projectID,
		func(training.State) {},
		func(msg string) { s.notifier.Error(msg) },
	)

	// Files are refreshed even when the run failed part way.
	if ferr := s.refreshFiles(ctx); ferr != nil {
		s.logger.Warn("refresh files after training failed", zap.Error(ferr))
	}

	if err != nil {
		s.logger.Warn("training failed", zap.Error(err))
		s.notifier.Error(errors.Message(err))
		return summary, err
	}

	if s.opts.Variant == VariantOnboarding {
		s.notifier.Success(ToastTrainedOnboarding)
	} else {
		s.notifier.Success(ToastTrained)
	}
	return summary, nil
}

// Training reports whether a run is in flight for the project.
func (s *Session) Training() bool {
	return s.inFlight.Load() || s.trainer.State(s.projectID).Active()
}

// Snapshot copies the current observables and derives the view from them.
func (s *Session) Snapshot() Snapshot {
	state := s.trainer.State(s.projectID)
	if !state.Active() && s.inFlight.Load() {
		// The run was requested but the controller has not registered it yet.
		state = training.State{Phase: training.PhaseFetching}
	}

	s.mu.Lock()
	loading := s.loading
	rows := make([]SourceRow, 0, len(s.sources))
	for _, src := range s.sources {
		rows = append(rows, SourceRow{
			ID:    src.ID,
			Type:  src.Type,
			Label: project.Label(src),
			Icon:  project.Icon(src.Type),
		})
	}
	files := make([]project.File, len(s.files))
	copy(files, s.files)
	s.mu.Unlock()

	obs := Observables{
		Loading:  loading,
		Sources:  len(rows),
		Files:    len(files),
		Training: state,
	}
	return Snapshot{
		ProjectID: s.projectID,
		Variant:   s.opts.Variant.String(),
		Sources:   rows,
		Files:     files,
		Training:  state,
		View:      Derive(obs, s.opts.Variant),
	}
}

// mutate runs fn and reports its failure uniformly: logged, shown as an
// error toast, and returned to the caller.
func (s *Session) mutate(op string, fn func() error) error {
	if err := fn(); err != nil {
		s.logger.Warn(op+" failed", zap.Error(err))
		s.notifier.Error(errors.Message(err))
		return err
	}
	return nil
}

func (s *Session) refresh(ctx context.Context) error {
	sources, err := s.registry.ListSources(ctx, s.projectID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sources = sources
	s.mu.Unlock()
	return s.refreshFiles(ctx)
}

func (s *Session) refreshFiles(ctx context.Context) error {
	files, err := s.registry.ListFiles(ctx, s.projectID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
	return nil
}
