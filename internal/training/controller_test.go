package training

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/extract"
	"github.com/hpungsan/quarry/internal/project"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExtractor returns fixed documents or an error per source ID.
type fakeExtractor struct {
	mu   sync.Mutex
	docs map[string][]extract.Document
	errs map[string]error

	// block, when set, is waited on before extracting (or until ctx ends)
	block   chan struct{}
	started chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, src project.Source, emit extract.EmitFunc) error {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return errors.NewCancelled("extract")
		}
	}
	f.mu.Lock()
	docs, err := f.docs[src.ID], f.errs[src.ID]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeExtractor) set(sourceID string, docs ...extract.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[sourceID] = docs
}

func newFake() *fakeExtractor {
	return &fakeExtractor{docs: map[string][]extract.Document{}, errs: map[string]error{}}
}

func setup(t *testing.T, sourceIDs ...string) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	require.NoError(t, db.InsertProject(ctx, database, &project.Project{
		ID: "p1", Name: "Docs", Slug: "docs", PrivateDevAPIKey: "dev", PublicAPIKey: "pub", CreatedAt: 1,
	}))
	for i, id := range sourceIDs {
		data, _ := json.Marshal(project.WebsiteData{URL: "https://" + id + ".example.com"})
		require.NoError(t, db.InsertSource(ctx, database, &project.Source{
			ID: id, ProjectID: "p1", Type: project.SourceWebsite, Data: data, CreatedAt: int64(i),
		}))
	}
	return database
}

func doc(path, content string) extract.Document {
	return extract.Document{Path: path, Title: "T " + path, Content: content}
}

func filePaths(t *testing.T, database *sql.DB) []string {
	t.Helper()
	files, err := db.ListFiles(context.Background(), database, "p1", false)
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.SourceID+":"+f.Path)
	}
	return paths
}

func TestTrainAllSources_StoresFiles(t *testing.T) {
	database := setup(t, "s1", "s2")
	fx := newFake()
	fx.set("s1", doc("a.md", "alpha"), doc("b.md", "beta"))
	fx.set("s2", doc("c.md", "gamma"))

	c := NewController(database, fx, Options{Concurrency: 2})
	summary, err := c.TrainAllSources(context.Background(), "p1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, db.RunSucceeded, summary.Status)
	require.Equal(t, 2, summary.Sources)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, 3, summary.Updated)
	require.Equal(t, []string{"s1:a.md", "s1:b.md", "s2:c.md"}, filePaths(t, database))

	files, err := db.ListFiles(context.Background(), database, "p1", true)
	require.NoError(t, err)
	require.Equal(t, "T a.md", files[0].Meta.Title)
	require.Equal(t, Checksum(doc("a.md", "alpha")), files[0].Checksum)
	require.Equal(t, 2, files[0].TokenCount)

	run, err := db.LatestRun(context.Background(), database, "p1")
	require.NoError(t, err)
	require.Equal(t, summary.RunID, run.ID)
	require.Equal(t, db.RunSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)

	require.Equal(t, Idle, c.State("p1"))
}

func TestTrainAllSources_Incremental(t *testing.T) {
	database := setup(t, "s1")
	fx := newFake()
	fx.set("s1", doc("a.md", "alpha"), doc("b.md", "beta"))

	c := NewController(database, fx, Options{})
	_, err := c.TrainAllSources(context.Background(), "p1", nil, nil)
	require.NoError(t, err)

	// a.md unchanged, b.md removed, c.md new
	fx.set("s1", doc("a.md", "alpha"), doc("c.md", "gamma"))
	summary, err := c.TrainAllSources(context.Background(), "p1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Updated)
	require.Equal(t, 1, summary.Deleted)
	require.Equal(t, []string{"s1:a.md", "s1:c.md"}, filePaths(t, database))
}

func TestTrainAllSources_FailureDoesNotHaltOthers(t *testing.T) {
	database := setup(t, "s1", "s2", "s3")
	fx := newFake()
	fx.set("s1", doc("a.md", "alpha"))
	fx.errs["s2"] = errors.NewSourceFetchFailed("s2.example.com", fmt.Errorf("unexpected status 500"))
	fx.set("s3", doc("c.md", "gamma"))

	var mu sync.Mutex
	var messages []string
	onError := func(msg string) {
		mu.Lock()
		messages = append(messages, msg)
		mu.Unlock()
	}

	c := NewController(database, fx, Options{Concurrency: 1})
	summary, err := c.TrainAllSources(context.Background(), "p1", nil, onError)
	require.NoError(t, err)
	require.Equal(t, db.RunPartial, summary.Status)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, []string{"s1:a.md", "s3:c.md"}, filePaths(t, database))
	require.Equal(t, []string{"Error processing s2.example.com: failed to fetch s2.example.com: unexpected status 500"}, messages)
}

func TestTrainAllSources_FailureKeepsPreviousFiles(t *testing.T) {
	database := setup(t, "s1")
	fx := newFake()
	fx.set("s1", doc("a.md", "alpha"))

	c := NewController(database, fx, Options{})
	_, err := c.TrainAllSources(context.Background(), "p1", nil, nil)
	require.NoError(t, err)

	fx.errs["s1"] = fmt.Errorf("network down")
	_, err = c.TrainAllSources(context.Background(), "p1", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"s1:a.md"}, filePaths(t, database))
}

func TestTrainAllSources_Reentrancy(t *testing.T) {
	database := setup(t, "s1")
	fx := newFake()
	fx.set("s1", doc("a.md", "alpha"))
	fx.block = make(chan struct{})
	fx.started = make(chan struct{}, 1)

	c := NewController(database, fx, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := c.TrainAllSources(context.Background(), "p1", nil, nil)
		done <- err
	}()

	<-fx.started
	require.True(t, c.State("p1").Active())

	_, err := c.TrainAllSources(context.Background(), "p1", nil, nil)
	require.True(t, errors.Is(err, errors.ErrTrainingInProgress), "got %v", err)

	close(fx.block)
	require.NoError(t, <-done)
	require.False(t, c.State("p1").Active())
}

func TestCancel(t *testing.T) {
	database := setup(t, "s1")
	fx := newFake()
	fx.block = make(chan struct{})
	fx.started = make(chan struct{}, 1)

	c := NewController(database, fx, Options{})
	require.False(t, c.Cancel("p1"))

	done := make(chan error, 1)
	var summary *Summary
	go func() {
		var err error
		summary, err = c.TrainAllSources(context.Background(), "p1", nil, nil)
		done <- err
	}()

	<-fx.started
	require.True(t, c.Cancel("p1"))

	select {
	case err := <-done:
		require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("training did not stop after cancel")
	}
	require.Equal(t, db.RunCancelled, summary.Status)

	run, err := db.LatestRun(context.Background(), database, "p1")
	require.NoError(t, err)
	require.Equal(t, db.RunCancelled, run.Status)
}

func TestCancelAll(t *testing.T) {
	database := setup(t, "s1")
	ctx := context.Background()
	require.NoError(t, db.InsertProject(ctx, database, &project.Project{
		ID: "p2", Name: "Guides", Slug: "guides", PrivateDevAPIKey: "dev2", PublicAPIKey: "pub2", CreatedAt: 2,
	}))
	data, _ := json.Marshal(project.WebsiteData{URL: "https://guides.example.com"})
	require.NoError(t, db.InsertSource(ctx, database, &project.Source{
		ID: "s2", ProjectID: "p2", Type: project.SourceWebsite, Data: data, CreatedAt: 3,
	}))

	fx := newFake()
	fx.block = make(chan struct{})
	fx.started = make(chan struct{}, 2)

	c := NewController(database, fx, Options{})
	require.Zero(t, c.CancelAll())

	done := make(chan error, 2)
	for _, id := range []string{"p1", "p2"} {
		go func() {
			_, err := c.TrainAllSources(ctx, id, nil, nil)
			done <- err
		}()
	}
	<-fx.started
	<-fx.started

	require.Equal(t, 2, c.CancelAll())
	for range 2 {
		select {
		case err := <-done:
			require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("training did not stop after CancelAll")
		}
	}

	for _, id := range []string{"p1", "p2"} {
		run, err := db.LatestRun(ctx, database, id)
		require.NoError(t, err)
		require.Equal(t, db.RunCancelled, run.Status)
	}
}

func TestTrainAllSources_PublishesState(t *testing.T) {
	database := setup(t, "s1")
	fx := newFake()
	fx.set("s1", doc("a.md", "alpha"), doc("b.md", "beta"))

	bus := events.NewBus()
	var mu sync.Mutex
	var phases []string
	var filesChanged []events.FilesChanged
	bus.Subscribe(events.KindTrainingStateChanged, func(e events.Event) {
		mu.Lock()
		phases = append(phases, e.(events.TrainingStateChanged).Phase)
		mu.Unlock()
	})
	bus.Subscribe(events.KindFilesChanged, func(e events.Event) {
		mu.Lock()
		filesChanged = append(filesChanged, e.(events.FilesChanged))
		mu.Unlock()
	})

	var progress []State
	c := NewController(database, fx, Options{Bus: bus})
	_, err := c.TrainAllSources(context.Background(), "p1", func(s State) {
		mu.Lock()
		progress = append(progress, s)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "idle", phases[len(phases)-1])
	require.Contains(t, phases, "processing")
	require.Equal(t, []events.FilesChanged{{ProjectID: "p1", Updated: 2}}, filesChanged)

	var processed []int
	for _, s := range progress {
		processed = append(processed, s.Processed)
	}
	require.True(t, sort.IntsAreSorted(processed[:len(processed)-1]))
	require.Equal(t, 2, progress[len(progress)-2].Processed)
	require.Equal(t, Idle, progress[len(progress)-1])
}

func TestTrainAllSources_UnknownProject(t *testing.T) {
	database := setup(t)
	c := NewController(database, newFake(), Options{})
	_, err := c.TrainAllSources(context.Background(), "nope", nil, nil)
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	require.Equal(t, Idle, c.State("nope"))
}

func TestChecksum(t *testing.T) {
	a := Checksum(extract.Document{Title: "x", Content: "y"})
	require.Equal(t, a, Checksum(extract.Document{Path: "other", Title: "x", Content: "y"}))
	require.NotEqual(t, a, Checksum(extract.Document{Title: "xy"}))
	require.Len(t, a, 64)
}
