// Package registry maintains the records of individual job executions and
// publishes a build-changed event for every successful upsert.
package registry

import (
	"context"
	"fmt"
	"sync"

	"capomastro/src/events"
	"capomastro/src/jenkins"
	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/store"
)

// Engine is the subset of the Jenkins client the registry needs to enrich
// finished builds.
type Engine interface {
	GetBuildDetails(ctx context.Context, jobName string, number int) (*jenkins.BuildDetails, error)
	GetBuildConsole(ctx context.Context, jobName string, number int) (string, error)
}

// EngineFactory returns an Engine for a configured server.
type EngineFactory func(server *model.Server) Engine

// Registry implements the build upsert operations. Concurrent upserts for
// the same (job, number) serialize on a per-run mutex so that no compound
// update is lost.
type Registry struct {
	store   store.Store
	bus     *events.Bus
	engines EngineFactory
	log     logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a Registry. engines may be nil, which disables
// ImportBuild enrichment.
func NewRegistry(st store.Store, bus *events.Bus, engines EngineFactory, log logger.Logger) *Registry {
	return &Registry{
		store:   st,
		bus:     bus,
		engines: engines,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockFor(jobID int64, number int) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d/%d", jobID, number)
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// UpsertBuildOnStart records the start of a run. The first STARTED
// notification for a (job, number) wins; later ones are no-ops.
func (r *Registry) UpsertBuildOnStart(ctx context.Context, job *model.Job, number int, correlationID string) (*model.Build, error) {
	lock := r.lockFor(job.ID, number)
	lock.Lock()
	defer lock.Unlock()

	existing, err := r.store.BuildByNumber(ctx, job.ID, number)
	if err == nil {
		return existing, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	build := &model.Build{
		JobID:   job.ID,
		Number:  number,
		BuildID: correlationID,
		Phase:   model.PhaseStarted,
	}
	if err := r.store.CreateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to record started build: %w", err)
	}

	r.bus.PublishBuild(ctx, events.BuildEvent{Build: build, Created: true})
	return build, nil
}

// UpsertBuildOnFinish records the completion of a run, creating the record
// when no STARTED notification was ever seen (arrival order is not
// guaranteed). An empty correlation token never clears one recorded at
// start time.
func (r *Registry) UpsertBuildOnFinish(ctx context.Context, job *model.Job, number int, correlationID, status, url string) (*model.Build, error) {
	lock := r.lockFor(job.ID, number)
	lock.Lock()
	defer lock.Unlock()

	build, err := r.store.BuildByNumber(ctx, job.ID, number)
	if store.IsNotFound(err) {
		build = &model.Build{
			JobID:   job.ID,
			Number:  number,
			BuildID: correlationID,
			Phase:   model.PhaseFinished,
			Status:  status,
			URL:     url,
		}
		if err := r.store.CreateBuild(ctx, build); err != nil {
			return nil, fmt.Errorf("failed to record finished build: %w", err)
		}
		r.bus.PublishBuild(ctx, events.BuildEvent{Build: build, Created: true})
		return build, nil
	}
	if err != nil {
		return nil, err
	}

	build.Phase = model.PhaseFinished
	build.Status = status
	build.URL = url
	if correlationID != "" {
		build.BuildID = correlationID
	}
	if err := r.store.UpdateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to update finished build: %w", err)
	}

	r.bus.PublishBuild(ctx, events.BuildEvent{Build: build})
	return build, nil
}

// ImportBuild enriches a finished build with the duration and artifact list
// from the Jenkins API. It does not publish a build-changed event: the
// imported fields carry no aggregation-relevant state.
func (r *Registry) ImportBuild(ctx context.Context, build *model.Build) error {
	if r.engines == nil {
		return nil
	}

	job, err := r.store.JobByID(ctx, build.JobID)
	if err != nil {
		return err
	}
	server, err := r.store.ServerByID(ctx, job.ServerID)
	if err != nil {
		return err
	}

	details, err := r.engines(server).GetBuildDetails(ctx, job.Name, build.Number)
	if err != nil {
		return fmt.Errorf("failed to fetch build details for %s #%d: %w", job.Name, build.Number, err)
	}

	build.Duration = &details.Duration
	// Console output is kept best effort; a build without it is still valid.
	if console, err := r.engines(server).GetBuildConsole(ctx, job.Name, build.Number); err != nil {
		r.log.Error("failed to fetch console for %s #%d: %v", job.Name, build.Number, err)
	} else {
		build.Console = &console
	}
	if err := r.store.UpdateBuild(ctx, build); err != nil {
		return err
	}

	for _, artifact := range details.Artifacts {
		record := &model.Artifact{
			BuildID:  build.ID,
			Filename: artifact.FileName,
			URL:      artifact.DownloadURL(details.URL),
		}
		if err := r.store.CreateArtifact(ctx, record); err != nil {
			return err
		}
		r.log.Debug("imported artifact %s for %s #%d", artifact.FileName, job.Name, build.Number)
	}

	return nil
}
