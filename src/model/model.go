// Package model defines the domain entities shared across the application.
package model

import "time"

// Build phases as reported by the Jenkins notification plugin.
const (
	PhaseStarted   = "STARTED"
	PhaseCompleted = "COMPLETED"
	PhaseFinished  = "FINISHED"
	PhaseUnknown   = "UNKNOWN"
)

// Build statuses as reported by Jenkins.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusAborted = "ABORTED"
	StatusUnknown = "UNKNOWN"
)

// Server is a configured Jenkins server.
type Server struct {
	ID       int64
	Name     string
	URL      string
	Username string
	Password string
	// RemoteAddr is the address notifications from this server arrive from.
	// Used to resolve the source of incoming webhook calls.
	RemoteAddr string
}

// Job is a named build definition on a Jenkins server.
// (ServerID, Name) is unique.
type Job struct {
	ID       int64
	ServerID int64
	Name     string
}

// Build is one execution of a Job. (JobID, Number) is unique; notifications
// for the same run update the same record.
type Build struct {
	ID     int64
	JobID  int64
	Number int
	// BuildID is the correlation token threaded through dispatch parameters
	// and notifications. Empty for builds not requested through a project.
	BuildID  string
	Phase    string
	Status   string
	URL      string
	Duration *int64
	Console  *string
}

// Artifact is a file produced by a Build, imported from Jenkins after the
// build finishes.
type Artifact struct {
	ID       int64
	BuildID  int64
	Filename string
	URL      string
}

// Dependency is a logical component bound to a Job.
type Dependency struct {
	ID   int64
	Name string
	// JobID is nil when the dependency has no Jenkins job yet.
	JobID       *int64
	Description string
	// Parameters holds one KEY=VALUE per line, forwarded on dispatch.
	Parameters string
}

// Project is a named set of Dependencies.
type Project struct {
	ID          int64
	Name        string
	Description string
}

// ProjectDependency records which build of a dependency a project is
// currently using. With AutoTrack the pointer follows the latest build for
// the dependency's job; without it, it only moves by explicit action.
type ProjectDependency struct {
	ID             int64
	ProjectID      int64
	DependencyID   int64
	AutoTrack      bool
	CurrentBuildID *int64
}

// ProjectBuild is one requested build of a Project.
type ProjectBuild struct {
	ID          int64
	ProjectID   int64
	RequestedBy string
	RequestedAt time.Time
	EndedAt     *time.Time
	Status      string
	Phase       string
	// BuildID is the daily-sequenced token, e.g. "20140312.1".
	BuildID string
}

// ProjectBuildDependency ties a ProjectBuild to one of the project's
// dependencies. BuildID starts nil for dependencies triggered by the
// request and is filled in once a correlated build is observed; for
// dependencies outside the triggered scope it is pre-set to the
// dependency's current build.
type ProjectBuildDependency struct {
	ID             int64
	ProjectBuildID int64
	DependencyID   int64
	BuildID        *int64
}
