// Package store defines the interface for persistent data storage.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"capomastro/src/model"
)

// ErrNotFound is returned when a requested record does not exist.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var notFound ErrNotFound
	return errors.As(err, &notFound)
}

// Store is the persistence boundary for the orchestration core. Create
// methods assign the record's ID in place.
type Store interface {
	// Servers
	CreateServer(ctx context.Context, server *model.Server) error
	ServerByID(ctx context.Context, id int64) (*model.Server, error)
	ServerByName(ctx context.Context, name string) (*model.Server, error)
	ServerByRemoteAddr(ctx context.Context, addr string) (*model.Server, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	JobByID(ctx context.Context, id int64) (*model.Job, error)
	JobByName(ctx context.Context, serverID int64, name string) (*model.Job, error)

	// Builds
	CreateBuild(ctx context.Context, build *model.Build) error
	UpdateBuild(ctx context.Context, build *model.Build) error
	BuildByID(ctx context.Context, id int64) (*model.Build, error)
	BuildByNumber(ctx context.Context, jobID int64, number int) (*model.Build, error)
	// LatestFinishedBuild returns the finished build with the highest run
	// number for a job.
	LatestFinishedBuild(ctx context.Context, jobID int64) (*model.Build, error)

	// Artifacts
	CreateArtifact(ctx context.Context, artifact *model.Artifact) error
	ArtifactsForBuild(ctx context.Context, buildID int64) ([]model.Artifact, error)
	// ArtifactsForCorrelation returns the artifacts of every build carrying
	// the given correlation token.
	ArtifactsForCorrelation(ctx context.Context, correlationID string) ([]model.Artifact, error)

	// Dependencies
	CreateDependency(ctx context.Context, dep *model.Dependency) error
	DependencyByID(ctx context.Context, id int64) (*model.Dependency, error)
	DependencyByName(ctx context.Context, name string) (*model.Dependency, error)
	DependenciesForJob(ctx context.Context, jobID int64) ([]model.Dependency, error)

	// Projects
	CreateProject(ctx context.Context, project *model.Project) error
	ProjectByID(ctx context.Context, id int64) (*model.Project, error)
	ProjectByName(ctx context.Context, name string) (*model.Project, error)
	CreateProjectDependency(ctx context.Context, pd *model.ProjectDependency) error
	ProjectDependencies(ctx context.Context, projectID int64) ([]model.ProjectDependency, error)
	ProjectDependenciesForDependency(ctx context.Context, dependencyID int64) ([]model.ProjectDependency, error)
	SetCurrentBuild(ctx context.Context, projectDependencyID, buildID int64) error

	// Project builds. CreateProjectBuild persists the ProjectBuild together
	// with all its dependency rows; either all of them exist afterwards or
	// none do.
	CreateProjectBuild(ctx context.Context, pb *model.ProjectBuild, deps []*model.ProjectBuildDependency) error
	UpdateProjectBuild(ctx context.Context, pb *model.ProjectBuild) error
	ProjectBuildByID(ctx context.Context, id int64) (*model.ProjectBuild, error)
	// CountProjectBuilds counts a project's builds requested within
	// [from, to).
	CountProjectBuilds(ctx context.Context, projectID int64, from, to time.Time) (int, error)
	ProjectBuildDependencies(ctx context.Context, projectBuildID int64) ([]model.ProjectBuildDependency, error)
	// ProjectBuildDependenciesForBuild finds the correlation rows whose
	// owning ProjectBuild carries the given token and whose dependency is
	// bound to the given job.
	ProjectBuildDependenciesForBuild(ctx context.Context, correlationID string, jobID int64) ([]model.ProjectBuildDependency, error)
	AttachBuild(ctx context.Context, projectBuildDependencyID, buildID int64) error

	Close() error
}
