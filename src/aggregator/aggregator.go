// Package aggregator folds independently-arriving dependency build outcomes
// into each owning project build's aggregate state, and keeps auto-tracked
// current-build pointers in sync.
package aggregator

import (
	"context"
	"sync"
	"time"

	"capomastro/src/events"
	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/store"
)

// Aggregator reacts to build-changed events. The recompute of a project
// build's aggregate is a read-modify-write over all its sibling rows, so it
// runs under a per-ProjectBuild mutex: two dependencies finishing at the
// same time must both be visible in the final aggregate.
type Aggregator struct {
	store store.Store
	bus   *events.Bus
	log   logger.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewAggregator creates an Aggregator that publishes finished events to bus.
func NewAggregator(st store.Store, bus *events.Bus, log logger.Logger) *Aggregator {
	return &Aggregator{
		store: st,
		bus:   bus,
		log:   log,
		now:   time.Now,
		locks: make(map[int64]*sync.Mutex),
	}
}

// Attach subscribes the aggregator to build-changed events on the bus.
func (a *Aggregator) Attach(bus *events.Bus) {
	bus.SubscribeBuilds(a.HandleBuildEvent)
}

// HandleBuildEvent processes one build change: refresh auto-tracked current
// builds for the job's dependencies, then correlate the build to its
// project build when it carries a token.
func (a *Aggregator) HandleBuildEvent(ctx context.Context, ev events.BuildEvent) {
	build := ev.Build

	a.refreshCurrentBuilds(ctx, build)

	if build.BuildID != "" {
		a.correlate(ctx, build)
	}
}

func (a *Aggregator) lockFor(projectBuildID int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[projectBuildID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[projectBuildID] = lock
	}
	return lock
}

// refreshCurrentBuilds points every auto-tracked ProjectDependency of the
// build's job at this build. The newest build always wins, regardless of
// its status.
func (a *Aggregator) refreshCurrentBuilds(ctx context.Context, build *model.Build) {
	deps, err := a.store.DependenciesForJob(ctx, build.JobID)
	if err != nil {
		a.log.Error("failed to load dependencies for job %d: %v", build.JobID, err)
		return
	}

	for _, dep := range deps {
		pds, err := a.store.ProjectDependenciesForDependency(ctx, dep.ID)
		if err != nil {
			a.log.Error("failed to load project dependencies for %s: %v", dep.Name, err)
			continue
		}
		for _, pd := range pds {
			if !pd.AutoTrack {
				continue
			}
			if err := a.store.SetCurrentBuild(ctx, pd.ID, build.ID); err != nil {
				a.log.Error("failed to set current build for project dependency %d: %v", pd.ID, err)
			}
		}
	}
}

// correlate attaches the build to the correlation row matching its token
// and job, then recomputes the owning project build's aggregate.
func (a *Aggregator) correlate(ctx context.Context, build *model.Build) {
	rows, err := a.store.ProjectBuildDependenciesForBuild(ctx, build.BuildID, build.JobID)
	if err != nil {
		a.log.Error("failed to resolve correlation rows for %s: %v", build.BuildID, err)
		return
	}

	for _, row := range rows {
		lock := a.lockFor(row.ProjectBuildID)
		lock.Lock()
		if err := a.store.AttachBuild(ctx, row.ID, build.ID); err != nil {
			a.log.Error("failed to attach build %d to row %d: %v", build.ID, row.ID, err)
			lock.Unlock()
			continue
		}
		a.recompute(ctx, row.ProjectBuildID)
		lock.Unlock()
	}
}

// recompute folds the project build's rows into its aggregate status and
// phase. Rows without an attached build contribute no opinion and block
// full agreement. Must be called with the project build's lock held.
func (a *Aggregator) recompute(ctx context.Context, projectBuildID int64) {
	pb, err := a.store.ProjectBuildByID(ctx, projectBuildID)
	if err != nil {
		a.log.Error("failed to load project build %d: %v", projectBuildID, err)
		return
	}
	rows, err := a.store.ProjectBuildDependencies(ctx, projectBuildID)
	if err != nil {
		a.log.Error("failed to load rows for project build %d: %v", projectBuildID, err)
		return
	}

	statuses := make(map[string]bool)
	phases := make(map[string]bool)
	complete := true
	for _, row := range rows {
		if row.BuildID == nil {
			complete = false
			break
		}
		build, err := a.store.BuildByID(ctx, *row.BuildID)
		if err != nil {
			a.log.Error("failed to load build %d: %v", *row.BuildID, err)
			return
		}
		statuses[build.Status] = true
		phases[build.Phase] = true
	}

	if !complete || len(rows) == 0 {
		return
	}

	changed := false
	finished := false

	if len(statuses) == 1 {
		for status := range statuses {
			if pb.Status != status {
				pb.Status = status
				changed = true
			}
		}
	}
	if len(phases) == 1 {
		for phase := range phases {
			if pb.Phase != phase {
				pb.Phase = phase
				changed = true
				if phase == model.PhaseFinished {
					endedAt := a.now()
					pb.EndedAt = &endedAt
					finished = true
				}
			}
		}
	}

	if !changed {
		return
	}

	if err := a.store.UpdateProjectBuild(ctx, pb); err != nil {
		a.log.Error("failed to update project build %s: %v", pb.BuildID, err)
		return
	}

	if finished {
		a.log.Info("project build %s finished with status %s", pb.BuildID, pb.Status)
		a.bus.PublishProjectBuild(ctx, events.ProjectBuildEvent{ProjectBuild: pb})
	}
}
