// Package training runs source extraction into the project file store.
//
// A Controller owns at most one run per project. Sources of a run are
// extracted concurrently; a failing source is reported and skipped while the
// others continue. Unchanged documents are detected by checksum and left
// untouched.
package training

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/extract"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/project"
)

// ProgressFunc observes state changes of a run. It may be called from
// several goroutines at once.
type ProgressFunc func(State)

// ErrorFunc receives a displayable message for each failed source. It may be
// called from several goroutines at once.
type ErrorFunc func(message string)

// Extractor produces the documents of a source.
type Extractor interface {
	Extract(ctx context.Context, src project.Source, emit extract.EmitFunc) error
}

// Options configures a Controller.
type Options struct {
	Concurrency int
	Bus         *events.Bus
	Logger      *zap.Logger
}

type run struct {
	state  State
	cancel context.CancelFunc
}

// Controller coordinates training runs.
type Controller struct {
	db          *sql.DB
	extractor   Extractor
	bus         *events.Bus
	logger      *zap.Logger
	concurrency int

	mu   sync.Mutex
	runs map[string]*run
}

// NewController creates a controller storing files in database.
func NewController(database *sql.DB, extractor Extractor, opts Options) *Controller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Controller{
		db:          database,
		extractor:   extractor,
		bus:         opts.Bus,
		logger:      logging.OrNop(opts.Logger),
		concurrency: opts.Concurrency,
		runs:        make(map[string]*run),
	}
}

// State returns the current training state of a project.
func (c *Controller) State(projectID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[projectID]; ok {
		return r.state
	}
	return Idle
}

// Cancel stops the in-flight run of a project.
// Returns false when no run is in flight.
func (c *Controller) Cancel(projectID string) bool {
	c.mu.Lock()
	r, ok := c.runs[projectID]
	if ok && r.state.Phase != PhaseCancelling {
		r.state.Phase = PhaseCancelling
		r.cancel()
	}
	var state State
	if ok {
		state = r.state
	}
	c.mu.Unlock()

	if ok {
		c.publish(projectID, state)
	}
	return ok
}

// CancelAll stops every in-flight run and returns how many were stopped.
func (c *Controller) CancelAll() int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.runs))
	for id := range c.runs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.Cancel(id) {
			n++
		}
	}
	return n
}

// TrainAllSources extracts every source of a project and stores the result.
//
// A second call for the same project while a run is in flight fails with
// TRAINING_IN_PROGRESS. Per-source failures go to onError and do not stop the
// run. The returned error is non-nil only when the run as a whole could not
// proceed or was cancelled; a Summary is returned whenever a run was recorded.
func (c *Controller) TrainAllSources(ctx context.Context, projectID string, onProgress ProgressFunc, onError ErrorFunc) (*Summary, error) {
	if onProgress == nil {
		onProgress = func(State) {}
	}
	if onError == nil {
		onError = func(string) {}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if _, busy := c.runs[projectID]; busy {
		c.mu.Unlock()
		return nil, errors.NewTrainingInProgress(projectID)
	}
	c.runs[projectID] = &run{state: State{Phase: PhaseFetching}, cancel: cancel}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.runs, projectID)
		c.mu.Unlock()
		c.publish(projectID, Idle)
		onProgress(Idle)
	}()

	sources, err := db.ListSources(runCtx, c.db, projectID)
	if err != nil {
		return nil, err
	}

	runID, err := project.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	record := &db.TrainingRun{
		ID:           runID,
		ProjectID:    projectID,
		Status:       db.RunRunning,
		SourcesTotal: len(sources),
		StartedAt:    time.Now().Unix(),
	}
	if err := db.InsertRun(runCtx, c.db, record); err != nil {
		return nil, err
	}

	log := c.logger.With(zap.String("project_id", projectID), zap.String("run_id", runID))
	log.Info("training started", zap.Int("sources", len(sources)))
	c.update(projectID, onProgress, func(s *State) { s.Total = len(sources) })

	summary := &Summary{RunID: runID, Sources: len(sources)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, src := range sources {
		g.Go(func() error {
			label := project.Label(src)
			res, err := c.trainSource(runCtx, projectID, src, label, onProgress)

			mu.Lock()
			summary.Processed += res.processed
			summary.Updated += res.updated
			summary.Deleted += res.deleted
			if err != nil {
				summary.Failed++
			}
			mu.Unlock()

			if err != nil {
				if runCtx.Err() != nil {
					return nil
				}
				log.Warn("source failed", zap.String("source_id", src.ID), zap.String("source", label), zap.Error(err))
				c.update(projectID, onProgress, func(s *State) { s.Errors++ })
				onError(fmt.Sprintf("Error processing %s: %s", label, errors.Message(err)))
				return nil
			}
			log.Debug("source trained",
				zap.String("source_id", src.ID),
				zap.Int("processed", res.processed),
				zap.Int("updated", res.updated),
				zap.Int("deleted", res.deleted))
			return nil
		})
	}
	_ = g.Wait()

	cancelled := runCtx.Err() != nil
	switch {
	case cancelled:
		summary.Status = db.RunCancelled
	case summary.Failed > 0:
		summary.Status = db.RunPartial
	default:
		summary.Status = db.RunSucceeded
	}

	finished := time.Now().Unix()
	record.Status = summary.Status
	record.FilesProcessed = summary.Processed
	record.FilesUpdated = summary.Updated
	record.FilesDeleted = summary.Deleted
	record.ErrorCount = summary.Failed
	record.FinishedAt = &finished
	// The run context may be cancelled; the outcome is still recorded.
	if err := db.FinishRun(context.WithoutCancel(ctx), c.db, record); err != nil {
		log.Error("failed to record training run", zap.Error(err))
	}

	if summary.Updated > 0 || summary.Deleted > 0 {
		c.bus.Publish(events.FilesChanged{ProjectID: projectID, Updated: summary.Updated, Deleted: summary.Deleted})
	}
	log.Info("training finished",
		zap.String("status", summary.Status),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed))

	if cancelled {
		return summary, errors.NewCancelled("training")
	}
	return summary, nil
}

type sourceResult struct {
	processed int
	updated   int
	deleted   int
}

// trainSource extracts one source and stores its documents. Files of the
// source that were not emitted are deleted only when extraction succeeded.
func (c *Controller) trainSource(ctx context.Context, projectID string, src project.Source, label string, onProgress ProgressFunc) (sourceResult, error) {
	var res sourceResult
	var keep []string
	seen := make(map[string]bool)

	c.update(projectID, onProgress, func(s *State) { s.Source = label })

	err := c.extractor.Extract(ctx, src, func(doc extract.Document) error {
		if seen[doc.Path] {
			return nil
		}
		seen[doc.Path] = true

		id, err := project.NewID()
		if err != nil {
			return errors.NewInternal(err)
		}
		f := &project.File{
			ID:         id,
			ProjectID:  projectID,
			SourceID:   src.ID,
			Path:       doc.Path,
			Meta:       project.Meta{Title: doc.Title},
			Checksum:   Checksum(doc),
			Content:    doc.Content,
			TokenCount: project.EstimateTokens(doc.Content),
			UpdatedAt:  time.Now().Unix(),
		}
		changed, err := db.UpsertFile(ctx, c.db, f)
		if err != nil {
			return err
		}
		keep = append(keep, doc.Path)
		res.processed++
		if changed {
			res.updated++
		}
		c.update(projectID, onProgress, func(s *State) {
			if s.Phase == PhaseFetching {
				s.Phase = PhaseProcessing
			}
			s.Source = label
			s.Processed++
		})
		return nil
	})
	if err != nil {
		return res, err
	}

	deleted, err := db.DeleteFilesExcept(ctx, c.db, src.ID, keep)
	if err != nil {
		return res, err
	}
	res.deleted = deleted
	return res, nil
}

// update mutates the run state of a project and reports it.
func (c *Controller) update(projectID string, onProgress ProgressFunc, fn func(*State)) {
	c.mu.Lock()
	r, ok := c.runs[projectID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if r.state.Phase != PhaseCancelling {
		fn(&r.state)
	}
	state := r.state
	c.mu.Unlock()

	c.publish(projectID, state)
	onProgress(state)
}

func (c *Controller) publish(projectID string, s State) {
	c.bus.Publish(events.TrainingStateChanged{
		ProjectID: projectID,
		Phase:     string(s.Phase),
		Source:    s.Source,
		Processed: s.Processed,
		Total:     s.Total,
		Errors:    s.Errors,
	})
}

// Checksum identifies the stored form of a document.
func Checksum(doc extract.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Title))
	h.Write([]byte{0})
	h.Write([]byte(doc.Content))
	return hex.EncodeToString(h.Sum(nil))
}
