// Package orchestrator turns a project build request into a correlation
// token, a set of correlation records, and one dispatch per in-scope
// dependency.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/store"
)

// Trigger abstracts the build dispatcher.
type Trigger interface {
	Trigger(ctx context.Context, dep *model.Dependency, correlationID string) error
}

// DispatchError reports a failed dispatch for one dependency. Sibling
// dependencies of the same request are unaffected.
type DispatchError struct {
	Dependency string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed for %s: %v", e.Dependency, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RequestOptions control a project build request.
type RequestOptions struct {
	RequestedBy string
	// Dependencies names the subset to trigger; empty means all of the
	// project's dependencies.
	Dependencies []string
	// DryRun creates the ProjectBuild and its correlation records without
	// dispatching anything. Used for previews and tests.
	DryRun bool
}

// Orchestrator implements build requests.
type Orchestrator struct {
	store      store.Store
	dispatcher Trigger
	log        logger.Logger
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.Store, dispatcher Trigger, log logger.Logger) *Orchestrator {
	return &Orchestrator{store: st, dispatcher: dispatcher, log: log, now: time.Now}
}

// mintBuildID generates a daily-unique token for a project, e.g.
// "20140312.1". The count-then-insert pattern is racy for simultaneous
// requests on the same project; accepted as a known limitation since the
// token suffix is cosmetic.
func (o *Orchestrator) mintBuildID(ctx context.Context, projectID int64, now time.Time) (string, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	count, err := o.store.CountProjectBuilds(ctx, projectID, dayStart, dayEnd)
	if err != nil {
		return "", fmt.Errorf("failed to count today's builds: %w", err)
	}
	return fmt.Sprintf("%s.%d", now.Format("20060102"), count), nil
}

type scopedDependency struct {
	projectDep model.ProjectDependency
	dependency *model.Dependency
}

// pinnedBuild resolves the build an out-of-scope dependency is recorded
// against: the project's current build, or failing that the newest finished
// build of the dependency's job. Nil when the dependency has never built.
func (o *Orchestrator) pinnedBuild(ctx context.Context, scoped scopedDependency) *int64 {
	if scoped.projectDep.CurrentBuildID != nil {
		return scoped.projectDep.CurrentBuildID
	}
	if scoped.dependency.JobID == nil {
		return nil
	}
	latest, err := o.store.LatestFinishedBuild(ctx, *scoped.dependency.JobID)
	if err != nil {
		return nil
	}
	return &latest.ID
}

// RequestBuild creates a ProjectBuild for the project and dispatches a run
// of every in-scope dependency, carrying the new build's token. Dependencies
// outside the requested subset are recorded against their current build so
// the aggregate picture stays complete. Dispatch failures are collected per
// dependency and joined into the returned error; the ProjectBuild and all
// its correlation rows exist regardless.
func (o *Orchestrator) RequestBuild(ctx context.Context, project *model.Project, opts RequestOptions) (*model.ProjectBuild, error) {
	now := o.now()
	buildID, err := o.mintBuildID(ctx, project.ID, now)
	if err != nil {
		return nil, err
	}

	projectDeps, err := o.store.ProjectDependencies(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(opts.Dependencies))
	for _, name := range opts.Dependencies {
		requested[name] = true
	}

	var inScope, outOfScope []scopedDependency
	for _, pd := range projectDeps {
		dep, err := o.store.DependencyByID(ctx, pd.DependencyID)
		if err != nil {
			return nil, err
		}
		scoped := scopedDependency{projectDep: pd, dependency: dep}
		if len(opts.Dependencies) == 0 || requested[dep.Name] {
			inScope = append(inScope, scoped)
		} else {
			outOfScope = append(outOfScope, scoped)
		}
	}

	// Deterministic dispatch order: by bound job id, name as tie-break.
	sort.Slice(inScope, func(i, j int) bool {
		ji, jj := int64(0), int64(0)
		if inScope[i].dependency.JobID != nil {
			ji = *inScope[i].dependency.JobID
		}
		if inScope[j].dependency.JobID != nil {
			jj = *inScope[j].dependency.JobID
		}
		if ji != jj {
			return ji < jj
		}
		return inScope[i].dependency.Name < inScope[j].dependency.Name
	})

	pb := &model.ProjectBuild{
		ProjectID:   project.ID,
		RequestedBy: opts.RequestedBy,
		RequestedAt: now,
		Status:      model.StatusUnknown,
		Phase:       model.PhaseUnknown,
		BuildID:     buildID,
	}

	rows := make([]*model.ProjectBuildDependency, 0, len(projectDeps))
	for _, scoped := range inScope {
		rows = append(rows, &model.ProjectBuildDependency{DependencyID: scoped.dependency.ID})
	}
	for _, scoped := range outOfScope {
		rows = append(rows, &model.ProjectBuildDependency{
			DependencyID: scoped.dependency.ID,
			BuildID:      o.pinnedBuild(ctx, scoped),
		})
	}

	if err := o.store.CreateProjectBuild(ctx, pb, rows); err != nil {
		return nil, err
	}
	o.log.Info("created project build %s for %s", pb.BuildID, project.Name)

	if opts.DryRun {
		return pb, nil
	}

	var dispatchErrs []error
	for _, scoped := range inScope {
		if err := o.dispatcher.Trigger(ctx, scoped.dependency, buildID); err != nil {
			dispatchErrs = append(dispatchErrs, &DispatchError{
				Dependency: scoped.dependency.Name,
				Err:        err,
			})
			o.log.Error("dispatch failed for %s in %s: %v", scoped.dependency.Name, pb.BuildID, err)
		}
	}

	return pb, errors.Join(dispatchErrs...)
}

// RequestDependencyBuild triggers an ad-hoc build of a single dependency
// outside any project-build context. No correlation token is carried unless
// one is supplied explicitly.
func (o *Orchestrator) RequestDependencyBuild(ctx context.Context, dep *model.Dependency, correlationID string) error {
	return o.dispatcher.Trigger(ctx, dep, correlationID)
}
