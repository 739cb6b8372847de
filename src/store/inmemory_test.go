package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"capomastro/src/model"
)

func newTestFixture(t *testing.T) (*InMemoryStore, *model.Server, *model.Job) {
	t.Helper()
	st := NewInMemoryStore()
	ctx := context.Background()

	server := &model.Server{Name: "ci", URL: "http://jenkins.example.com", RemoteAddr: "10.0.0.1"}
	if err := st.CreateServer(ctx, server); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}
	job := &model.Job{ServerID: server.ID, Name: "my-job"}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return st, server, job
}

func TestServerLookups(t *testing.T) {
	st, server, _ := newTestFixture(t)
	ctx := context.Background()

	byAddr, err := st.ServerByRemoteAddr(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ServerByRemoteAddr() error = %v", err)
	}
	if byAddr.ID != server.ID {
		t.Errorf("ServerByRemoteAddr() id = %d, want %d", byAddr.ID, server.ID)
	}

	_, err = st.ServerByRemoteAddr(ctx, "10.9.9.9")
	if !IsNotFound(err) {
		t.Errorf("ServerByRemoteAddr() for unknown addr = %v, want ErrNotFound", err)
	}

	byName, err := st.ServerByName(ctx, "ci")
	if err != nil {
		t.Fatalf("ServerByName() error = %v", err)
	}
	if byName.ID != server.ID {
		t.Errorf("ServerByName() id = %d, want %d", byName.ID, server.ID)
	}
}

func TestBuildByNumber(t *testing.T) {
	st, _, job := newTestFixture(t)
	ctx := context.Background()

	build := &model.Build{JobID: job.ID, Number: 5, Phase: model.PhaseStarted}
	if err := st.CreateBuild(ctx, build); err != nil {
		t.Fatalf("CreateBuild() error = %v", err)
	}

	got, err := st.BuildByNumber(ctx, job.ID, 5)
	if err != nil {
		t.Fatalf("BuildByNumber() error = %v", err)
	}
	if got.ID != build.ID {
		t.Errorf("BuildByNumber() id = %d, want %d", got.ID, build.ID)
	}

	_, err = st.BuildByNumber(ctx, job.ID, 6)
	if !IsNotFound(err) {
		t.Errorf("BuildByNumber() for missing run = %v, want ErrNotFound", err)
	}

	// Duplicate (job, number) must be rejected.
	dup := &model.Build{JobID: job.ID, Number: 5}
	if err := st.CreateBuild(ctx, dup); err == nil {
		t.Error("CreateBuild() accepted duplicate (job, number)")
	}
}

func TestLatestFinishedBuild(t *testing.T) {
	st, _, job := newTestFixture(t)
	ctx := context.Background()

	for _, b := range []*model.Build{
		{JobID: job.ID, Number: 1, Phase: model.PhaseFinished, Status: model.StatusSuccess},
		{JobID: job.ID, Number: 3, Phase: model.PhaseFinished, Status: model.StatusFailure},
		{JobID: job.ID, Number: 4, Phase: model.PhaseStarted},
	} {
		if err := st.CreateBuild(ctx, b); err != nil {
			t.Fatalf("CreateBuild() error = %v", err)
		}
	}

	latest, err := st.LatestFinishedBuild(ctx, job.ID)
	if err != nil {
		t.Fatalf("LatestFinishedBuild() error = %v", err)
	}
	// Number 4 is only STARTED; the latest finished run is 3 even though it
	// failed.
	if latest.Number != 3 {
		t.Errorf("LatestFinishedBuild() number = %d, want 3", latest.Number)
	}
}

func TestCountProjectBuildsWindow(t *testing.T) {
	st, _, _ := newTestFixture(t)
	ctx := context.Background()

	project := &model.Project{Name: "my-project"}
	if err := st.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	day := time.Date(2014, 3, 12, 0, 0, 0, 0, time.UTC)
	within := []time.Time{
		day,
		day.Add(9 * time.Hour),
		day.Add(24*time.Hour - time.Nanosecond),
	}
	outside := []time.Time{
		day.Add(-time.Second),
		day.Add(24 * time.Hour),
	}

	for i, at := range append(within, outside...) {
		pb := &model.ProjectBuild{
			ProjectID:   project.ID,
			RequestedAt: at,
			Status:      model.StatusUnknown,
			Phase:       model.PhaseUnknown,
			BuildID:     fmt.Sprintf("20140312.%d", i),
		}
		if err := st.CreateProjectBuild(ctx, pb, nil); err != nil {
			t.Fatalf("CreateProjectBuild() error = %v", err)
		}
	}

	count, err := st.CountProjectBuilds(ctx, project.ID, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("CountProjectBuilds() error = %v", err)
	}
	if count != len(within) {
		t.Errorf("CountProjectBuilds() = %d, want %d", count, len(within))
	}
}

func TestCreateProjectBuildAssignsRows(t *testing.T) {
	st, _, job := newTestFixture(t)
	ctx := context.Background()

	dep := &model.Dependency{Name: "dep-1", JobID: &job.ID}
	if err := st.CreateDependency(ctx, dep); err != nil {
		t.Fatalf("CreateDependency() error = %v", err)
	}
	project := &model.Project{Name: "my-project"}
	if err := st.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	pb := &model.ProjectBuild{
		ProjectID:   project.ID,
		RequestedAt: time.Now(),
		Status:      model.StatusUnknown,
		Phase:       model.PhaseUnknown,
		BuildID:     "20140312.0",
	}
	rows := []*model.ProjectBuildDependency{{DependencyID: dep.ID}}
	if err := st.CreateProjectBuild(ctx, pb, rows); err != nil {
		t.Fatalf("CreateProjectBuild() error = %v", err)
	}

	if pb.ID == 0 {
		t.Error("CreateProjectBuild() did not assign project build ID")
	}
	if rows[0].ID == 0 || rows[0].ProjectBuildID != pb.ID {
		t.Errorf("CreateProjectBuild() row = %+v, want owned by %d", rows[0], pb.ID)
	}

	got, err := st.ProjectBuildDependencies(ctx, pb.ID)
	if err != nil {
		t.Fatalf("ProjectBuildDependencies() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ProjectBuildDependencies() returned %d rows, want 1", len(got))
	}
}

func TestProjectBuildDependenciesForBuild(t *testing.T) {
	st, server, job := newTestFixture(t)
	ctx := context.Background()

	otherJob := &model.Job{ServerID: server.ID, Name: "other-job"}
	if err := st.CreateJob(ctx, otherJob); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	dep1 := &model.Dependency{Name: "dep-1", JobID: &job.ID}
	dep2 := &model.Dependency{Name: "dep-2", JobID: &otherJob.ID}
	for _, d := range []*model.Dependency{dep1, dep2} {
		if err := st.CreateDependency(ctx, d); err != nil {
			t.Fatalf("CreateDependency() error = %v", err)
		}
	}

	project := &model.Project{Name: "my-project"}
	if err := st.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	pb := &model.ProjectBuild{
		ProjectID:   project.ID,
		RequestedAt: time.Now(),
		BuildID:     "20140312.0",
	}
	rows := []*model.ProjectBuildDependency{
		{DependencyID: dep1.ID},
		{DependencyID: dep2.ID},
	}
	if err := st.CreateProjectBuild(ctx, pb, rows); err != nil {
		t.Fatalf("CreateProjectBuild() error = %v", err)
	}

	got, err := st.ProjectBuildDependenciesForBuild(ctx, "20140312.0", job.ID)
	if err != nil {
		t.Fatalf("ProjectBuildDependenciesForBuild() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ProjectBuildDependenciesForBuild() returned %d rows, want 1", len(got))
	}
	if got[0].DependencyID != dep1.ID {
		t.Errorf("ProjectBuildDependenciesForBuild() dependency = %d, want %d", got[0].DependencyID, dep1.ID)
	}

	// Wrong token matches nothing.
	got, err = st.ProjectBuildDependenciesForBuild(ctx, "20140313.0", job.ID)
	if err != nil {
		t.Fatalf("ProjectBuildDependenciesForBuild() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ProjectBuildDependenciesForBuild() returned %d rows for wrong token, want 0", len(got))
	}
}

func TestAttachBuildAndSetCurrentBuild(t *testing.T) {
	st, _, job := newTestFixture(t)
	ctx := context.Background()

	dep := &model.Dependency{Name: "dep-1", JobID: &job.ID}
	if err := st.CreateDependency(ctx, dep); err != nil {
		t.Fatalf("CreateDependency() error = %v", err)
	}
	project := &model.Project{Name: "my-project"}
	if err := st.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	pd := &model.ProjectDependency{ProjectID: project.ID, DependencyID: dep.ID, AutoTrack: true}
	if err := st.CreateProjectDependency(ctx, pd); err != nil {
		t.Fatalf("CreateProjectDependency() error = %v", err)
	}

	build := &model.Build{JobID: job.ID, Number: 1, Phase: model.PhaseFinished}
	if err := st.CreateBuild(ctx, build); err != nil {
		t.Fatalf("CreateBuild() error = %v", err)
	}

	if err := st.SetCurrentBuild(ctx, pd.ID, build.ID); err != nil {
		t.Fatalf("SetCurrentBuild() error = %v", err)
	}
	pds, err := st.ProjectDependencies(ctx, project.ID)
	if err != nil {
		t.Fatalf("ProjectDependencies() error = %v", err)
	}
	if pds[0].CurrentBuildID == nil || *pds[0].CurrentBuildID != build.ID {
		t.Errorf("SetCurrentBuild() current = %v, want %d", pds[0].CurrentBuildID, build.ID)
	}

	pb := &model.ProjectBuild{ProjectID: project.ID, RequestedAt: time.Now(), BuildID: "20140312.0"}
	rows := []*model.ProjectBuildDependency{{DependencyID: dep.ID}}
	if err := st.CreateProjectBuild(ctx, pb, rows); err != nil {
		t.Fatalf("CreateProjectBuild() error = %v", err)
	}
	if err := st.AttachBuild(ctx, rows[0].ID, build.ID); err != nil {
		t.Fatalf("AttachBuild() error = %v", err)
	}
	got, err := st.ProjectBuildDependencies(ctx, pb.ID)
	if err != nil {
		t.Fatalf("ProjectBuildDependencies() error = %v", err)
	}
	if got[0].BuildID == nil || *got[0].BuildID != build.ID {
		t.Errorf("AttachBuild() build = %v, want %d", got[0].BuildID, build.ID)
	}
}

func TestArtifactsForCorrelation(t *testing.T) {
	st, _, job := newTestFixture(t)
	ctx := context.Background()

	correlated := &model.Build{JobID: job.ID, Number: 1, BuildID: "20140312.0", Phase: model.PhaseFinished}
	unrelated := &model.Build{JobID: job.ID, Number: 2, Phase: model.PhaseFinished}
	for _, b := range []*model.Build{correlated, unrelated} {
		if err := st.CreateBuild(ctx, b); err != nil {
			t.Fatalf("CreateBuild() error = %v", err)
		}
	}
	for _, a := range []*model.Artifact{
		{BuildID: correlated.ID, Filename: "output.tar.gz", URL: "http://jenkins/artifact/output.tar.gz"},
		{BuildID: unrelated.ID, Filename: "other.tar.gz", URL: "http://jenkins/artifact/other.tar.gz"},
	} {
		if err := st.CreateArtifact(ctx, a); err != nil {
			t.Fatalf("CreateArtifact() error = %v", err)
		}
	}

	artifacts, err := st.ArtifactsForCorrelation(ctx, "20140312.0")
	if err != nil {
		t.Fatalf("ArtifactsForCorrelation() error = %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("ArtifactsForCorrelation() returned %d artifacts, want 1", len(artifacts))
	}
	if artifacts[0].Filename != "output.tar.gz" {
		t.Errorf("ArtifactsForCorrelation() filename = %q", artifacts[0].Filename)
	}
}
