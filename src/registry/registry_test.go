package registry

import (
	"context"
	"sync"
	"testing"

	"capomastro/src/events"
	"capomastro/src/jenkins"
	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.InMemoryStore, *model.Job, *[]events.BuildEvent) {
	t.Helper()
	st := store.NewInMemoryStore()
	ctx := context.Background()

	server := &model.Server{Name: "ci", URL: "http://jenkins", RemoteAddr: "10.0.0.1"}
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}
	job := &model.Job{ServerID: server.ID, Name: "my-job"}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	bus := events.NewBus()
	var published []events.BuildEvent
	bus.SubscribeBuilds(func(ctx context.Context, ev events.BuildEvent) {
		published = append(published, ev)
	})

	reg := NewRegistry(st, bus, nil, logger.NewSilentLogger())
	return reg, st, job, &published
}

func TestUpsertStartThenFinish(t *testing.T) {
	reg, st, job, published := newTestRegistry(t)
	ctx := context.Background()

	started, err := reg.UpsertBuildOnStart(ctx, job, 12, "20140312.0")
	if err != nil {
		t.Fatalf("UpsertBuildOnStart() error = %v", err)
	}
	if started.Phase != model.PhaseStarted {
		t.Errorf("started phase = %q, want STARTED", started.Phase)
	}

	finished, err := reg.UpsertBuildOnFinish(ctx, job, 12, "20140312.0", model.StatusSuccess, "http://jenkins/job/my-job/12/")
	if err != nil {
		t.Fatalf("UpsertBuildOnFinish() error = %v", err)
	}

	// Exactly one record, now reflecting the FINISHED data.
	if finished.ID != started.ID {
		t.Errorf("finish created a second record: %d != %d", finished.ID, started.ID)
	}
	got, err := st.BuildByNumber(ctx, job.ID, 12)
	if err != nil {
		t.Fatalf("BuildByNumber() error = %v", err)
	}
	if got.Phase != model.PhaseFinished || got.Status != model.StatusSuccess {
		t.Errorf("build = %q/%q, want FINISHED/SUCCESS", got.Phase, got.Status)
	}
	if got.BuildID != "20140312.0" {
		t.Errorf("build correlation = %q, want 20140312.0", got.BuildID)
	}

	if len(*published) != 2 {
		t.Errorf("published %d events, want 2", len(*published))
	}
}

func TestUpsertFinishWithoutStart(t *testing.T) {
	reg, st, job, published := newTestRegistry(t)
	ctx := context.Background()

	// A FINISHED notification may be the first one seen, e.g. after a
	// service restart.
	_, err := reg.UpsertBuildOnFinish(ctx, job, 7, "", model.StatusFailure, "http://jenkins/job/my-job/7/")
	if err != nil {
		t.Fatalf("UpsertBuildOnFinish() error = %v", err)
	}

	got, err := st.BuildByNumber(ctx, job.ID, 7)
	if err != nil {
		t.Fatalf("BuildByNumber() error = %v", err)
	}
	if got.Phase != model.PhaseFinished || got.Status != model.StatusFailure {
		t.Errorf("build = %q/%q, want FINISHED/FAILURE", got.Phase, got.Status)
	}

	if len(*published) != 1 || !(*published)[0].Created {
		t.Errorf("published = %+v, want one created event", *published)
	}
}

func TestUpsertStartIsFirstWins(t *testing.T) {
	reg, _, job, published := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.UpsertBuildOnStart(ctx, job, 3, "20140312.0")
	if err != nil {
		t.Fatalf("UpsertBuildOnStart() error = %v", err)
	}
	second, err := reg.UpsertBuildOnStart(ctx, job, 3, "20140312.9")
	if err != nil {
		t.Fatalf("UpsertBuildOnStart() retry error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("duplicate STARTED created a second record")
	}
	if second.BuildID != "20140312.0" {
		t.Errorf("duplicate STARTED overwrote correlation: %q", second.BuildID)
	}
	if len(*published) != 1 {
		t.Errorf("published %d events, want 1 (no event for the no-op)", len(*published))
	}
}

func TestUpsertFinishKeepsTokenWhenIncomingEmpty(t *testing.T) {
	reg, st, job, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.UpsertBuildOnStart(ctx, job, 4, "20140312.2"); err != nil {
		t.Fatalf("UpsertBuildOnStart() error = %v", err)
	}
	if _, err := reg.UpsertBuildOnFinish(ctx, job, 4, "", model.StatusSuccess, ""); err != nil {
		t.Fatalf("UpsertBuildOnFinish() error = %v", err)
	}

	got, err := st.BuildByNumber(ctx, job.ID, 4)
	if err != nil {
		t.Fatalf("BuildByNumber() error = %v", err)
	}
	if got.BuildID != "20140312.2" {
		t.Errorf("correlation token lost on finish: %q", got.BuildID)
	}
}

func TestConcurrentUpsertsSameRun(t *testing.T) {
	reg, st, job, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.UpsertBuildOnStart(ctx, job, 21, "20140312.0")
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.UpsertBuildOnFinish(ctx, job, 21, "20140312.0", model.StatusSuccess, "")
		}()
	}
	wg.Wait()

	got, err := st.BuildByNumber(ctx, job.ID, 21)
	if err != nil {
		t.Fatalf("BuildByNumber() error = %v", err)
	}
	if got.Phase != model.PhaseFinished {
		t.Errorf("final phase = %q, want FINISHED", got.Phase)
	}
}

type fakeEngine struct {
	details *jenkins.BuildDetails
	console string
}

func (f *fakeEngine) GetBuildDetails(ctx context.Context, jobName string, number int) (*jenkins.BuildDetails, error) {
	return f.details, nil
}

func (f *fakeEngine) GetBuildConsole(ctx context.Context, jobName string, number int) (string, error) {
	return f.console, nil
}

func TestImportBuild(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()

	server := &model.Server{Name: "ci", URL: "http://jenkins", RemoteAddr: "10.0.0.1"}
	st.CreateServer(ctx, server)
	job := &model.Job{ServerID: server.ID, Name: "my-job"}
	st.CreateJob(ctx, job)

	engine := &fakeEngine{details: &jenkins.BuildDetails{
		Number:   12,
		URL:      "http://jenkins/job/my-job/12/",
		Duration: 12000,
		Artifacts: []jenkins.ArtifactDetails{
			{FileName: "output.tar.gz", RelativePath: "dist/output.tar.gz"},
		},
	}, console: "Started by user\nFinished: SUCCESS\n"}
	reg := NewRegistry(st, events.NewBus(), func(*model.Server) Engine { return engine }, logger.NewSilentLogger())

	build, err := reg.UpsertBuildOnFinish(ctx, job, 12, "", model.StatusSuccess, "")
	if err != nil {
		t.Fatalf("UpsertBuildOnFinish() error = %v", err)
	}
	if err := reg.ImportBuild(ctx, build); err != nil {
		t.Fatalf("ImportBuild() error = %v", err)
	}

	got, _ := st.BuildByNumber(ctx, job.ID, 12)
	if got.Duration == nil || *got.Duration != 12000 {
		t.Errorf("imported duration = %v, want 12000", got.Duration)
	}
	if got.Console == nil || *got.Console != engine.console {
		t.Errorf("imported console = %v, want the engine output", got.Console)
	}

	artifacts, err := st.ArtifactsForBuild(ctx, build.ID)
	if err != nil {
		t.Fatalf("ArtifactsForBuild() error = %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("imported %d artifacts, want 1", len(artifacts))
	}
	if artifacts[0].URL != "http://jenkins/job/my-job/12/artifact/dist/output.tar.gz" {
		t.Errorf("artifact url = %q", artifacts[0].URL)
	}
}
