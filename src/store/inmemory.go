package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"capomastro/src/model"
)

// InMemoryStore is a thread-safe in-memory implementation of Store.
// Used for local mode and tests.
type InMemoryStore struct {
	mu sync.RWMutex

	nextID int64

	servers       map[int64]model.Server
	jobs          map[int64]model.Job
	builds        map[int64]model.Build
	artifacts     map[int64]model.Artifact
	dependencies  map[int64]model.Dependency
	projects      map[int64]model.Project
	projectDeps   map[int64]model.ProjectDependency
	projectBuilds map[int64]model.ProjectBuild
	buildDeps     map[int64]model.ProjectBuildDependency
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		servers:       make(map[int64]model.Server),
		jobs:          make(map[int64]model.Job),
		builds:        make(map[int64]model.Build),
		artifacts:     make(map[int64]model.Artifact),
		dependencies:  make(map[int64]model.Dependency),
		projects:      make(map[int64]model.Project),
		projectDeps:   make(map[int64]model.ProjectDependency),
		projectBuilds: make(map[int64]model.ProjectBuild),
		buildDeps:     make(map[int64]model.ProjectBuildDependency),
	}
}

func (s *InMemoryStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) CreateServer(ctx context.Context, server *model.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.servers {
		if existing.Name == server.Name {
			return fmt.Errorf("server already exists: %s", server.Name)
		}
	}
	server.ID = s.allocID()
	s.servers[server.ID] = *server
	return nil
}

func (s *InMemoryStore) ServerByID(ctx context.Context, id int64) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	server, ok := s.servers[id]
	if !ok {
		return nil, ErrNotFound{Kind: "server", Key: strconv.FormatInt(id, 10)}
	}
	return &server, nil
}

func (s *InMemoryStore) ServerByName(ctx context.Context, name string) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, server := range s.servers {
		if server.Name == name {
			srv := server
			return &srv, nil
		}
	}
	return nil, ErrNotFound{Kind: "server", Key: name}
}

func (s *InMemoryStore) ServerByRemoteAddr(ctx context.Context, addr string) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, server := range s.servers {
		if server.RemoteAddr == addr {
			srv := server
			return &srv, nil
		}
	}
	return nil, ErrNotFound{Kind: "server", Key: addr}
}

func (s *InMemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.ServerID == job.ServerID && existing.Name == job.Name {
			return fmt.Errorf("job already exists: %s", job.Name)
		}
	}
	job.ID = s.allocID()
	s.jobs[job.ID] = *job
	return nil
}

func (s *InMemoryStore) JobByID(ctx context.Context, id int64) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound{Kind: "job", Key: strconv.FormatInt(id, 10)}
	}
	return &job, nil
}

func (s *InMemoryStore) JobByName(ctx context.Context, serverID int64, name string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.ServerID == serverID && job.Name == name {
			j := job
			return &j, nil
		}
	}
	return nil, ErrNotFound{Kind: "job", Key: name}
}

func (s *InMemoryStore) CreateBuild(ctx context.Context, build *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.builds {
		if existing.JobID == build.JobID && existing.Number == build.Number {
			return fmt.Errorf("build already exists: job %d number %d", build.JobID, build.Number)
		}
	}
	build.ID = s.allocID()
	s.builds[build.ID] = *build
	return nil
}

func (s *InMemoryStore) UpdateBuild(ctx context.Context, build *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.builds[build.ID]; !ok {
		return ErrNotFound{Kind: "build", Key: strconv.FormatInt(build.ID, 10)}
	}
	s.builds[build.ID] = *build
	return nil
}

func (s *InMemoryStore) BuildByID(ctx context.Context, id int64) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	build, ok := s.builds[id]
	if !ok {
		return nil, ErrNotFound{Kind: "build", Key: strconv.FormatInt(id, 10)}
	}
	return &build, nil
}

func (s *InMemoryStore) BuildByNumber(ctx context.Context, jobID int64, number int) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, build := range s.builds {
		if build.JobID == jobID && build.Number == number {
			b := build
			return &b, nil
		}
	}
	return nil, ErrNotFound{Kind: "build", Key: fmt.Sprintf("job %d number %d", jobID, number)}
}

func (s *InMemoryStore) LatestFinishedBuild(ctx context.Context, jobID int64) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Build
	for _, build := range s.builds {
		if build.JobID != jobID || build.Phase != model.PhaseFinished {
			continue
		}
		if latest == nil || build.Number > latest.Number {
			b := build
			latest = &b
		}
	}
	if latest == nil {
		return nil, ErrNotFound{Kind: "build", Key: fmt.Sprintf("finished build for job %d", jobID)}
	}
	return latest, nil
}

func (s *InMemoryStore) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact.ID = s.allocID()
	s.artifacts[artifact.ID] = *artifact
	return nil
}

func (s *InMemoryStore) ArtifactsForBuild(ctx context.Context, buildID int64) ([]model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var artifacts []model.Artifact
	for _, artifact := range s.artifacts {
		if artifact.BuildID == buildID {
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

func (s *InMemoryStore) ArtifactsForCorrelation(ctx context.Context, correlationID string) ([]model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matching := make(map[int64]bool)
	for _, build := range s.builds {
		if build.BuildID == correlationID {
			matching[build.ID] = true
		}
	}
	var artifacts []model.Artifact
	for _, artifact := range s.artifacts {
		if matching[artifact.BuildID] {
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

func (s *InMemoryStore) CreateDependency(ctx context.Context, dep *model.Dependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.dependencies {
		if existing.Name == dep.Name {
			return fmt.Errorf("dependency already exists: %s", dep.Name)
		}
	}
	dep.ID = s.allocID()
	s.dependencies[dep.ID] = *dep
	return nil
}

func (s *InMemoryStore) DependencyByID(ctx context.Context, id int64) (*model.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, ok := s.dependencies[id]
	if !ok {
		return nil, ErrNotFound{Kind: "dependency", Key: strconv.FormatInt(id, 10)}
	}
	return &dep, nil
}

func (s *InMemoryStore) DependencyByName(ctx context.Context, name string) (*model.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dep := range s.dependencies {
		if dep.Name == name {
			d := dep
			return &d, nil
		}
	}
	return nil, ErrNotFound{Kind: "dependency", Key: name}
}

func (s *InMemoryStore) DependenciesForJob(ctx context.Context, jobID int64) ([]model.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var deps []model.Dependency
	for _, dep := range s.dependencies {
		if dep.JobID != nil && *dep.JobID == jobID {
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

func (s *InMemoryStore) CreateProject(ctx context.Context, project *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.Name == project.Name {
			return fmt.Errorf("project already exists: %s", project.Name)
		}
	}
	project.ID = s.allocID()
	s.projects[project.ID] = *project
	return nil
}

func (s *InMemoryStore) ProjectByID(ctx context.Context, id int64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound{Kind: "project", Key: strconv.FormatInt(id, 10)}
	}
	return &project, nil
}

func (s *InMemoryStore) ProjectByName(ctx context.Context, name string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, project := range s.projects {
		if project.Name == name {
			p := project
			return &p, nil
		}
	}
	return nil, ErrNotFound{Kind: "project", Key: name}
}

func (s *InMemoryStore) CreateProjectDependency(ctx context.Context, pd *model.ProjectDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pd.ID = s.allocID()
	s.projectDeps[pd.ID] = *pd
	return nil
}

func (s *InMemoryStore) ProjectDependencies(ctx context.Context, projectID int64) ([]model.ProjectDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pds []model.ProjectDependency
	for _, pd := range s.projectDeps {
		if pd.ProjectID == projectID {
			pds = append(pds, pd)
		}
	}
	return pds, nil
}

func (s *InMemoryStore) ProjectDependenciesForDependency(ctx context.Context, dependencyID int64) ([]model.ProjectDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pds []model.ProjectDependency
	for _, pd := range s.projectDeps {
		if pd.DependencyID == dependencyID {
			pds = append(pds, pd)
		}
	}
	return pds, nil
}

func (s *InMemoryStore) SetCurrentBuild(ctx context.Context, projectDependencyID, buildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pd, ok := s.projectDeps[projectDependencyID]
	if !ok {
		return ErrNotFound{Kind: "project dependency", Key: strconv.FormatInt(projectDependencyID, 10)}
	}
	pd.CurrentBuildID = &buildID
	s.projectDeps[projectDependencyID] = pd
	return nil
}

func (s *InMemoryStore) CreateProjectBuild(ctx context.Context, pb *model.ProjectBuild, deps []*model.ProjectBuildDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pb.ID = s.allocID()
	s.projectBuilds[pb.ID] = *pb
	for _, dep := range deps {
		dep.ID = s.allocID()
		dep.ProjectBuildID = pb.ID
		s.buildDeps[dep.ID] = *dep
	}
	return nil
}

func (s *InMemoryStore) UpdateProjectBuild(ctx context.Context, pb *model.ProjectBuild) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projectBuilds[pb.ID]; !ok {
		return ErrNotFound{Kind: "project build", Key: strconv.FormatInt(pb.ID, 10)}
	}
	s.projectBuilds[pb.ID] = *pb
	return nil
}

func (s *InMemoryStore) ProjectBuildByID(ctx context.Context, id int64) (*model.ProjectBuild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pb, ok := s.projectBuilds[id]
	if !ok {
		return nil, ErrNotFound{Kind: "project build", Key: strconv.FormatInt(id, 10)}
	}
	return &pb, nil
}

func (s *InMemoryStore) CountProjectBuilds(ctx context.Context, projectID int64, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, pb := range s.projectBuilds {
		if pb.ProjectID != projectID {
			continue
		}
		if !pb.RequestedAt.Before(from) && pb.RequestedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) ProjectBuildDependencies(ctx context.Context, projectBuildID int64) ([]model.ProjectBuildDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var deps []model.ProjectBuildDependency
	for _, dep := range s.buildDeps {
		if dep.ProjectBuildID == projectBuildID {
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

func (s *InMemoryStore) ProjectBuildDependenciesForBuild(ctx context.Context, correlationID string, jobID int64) ([]model.ProjectBuildDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []model.ProjectBuildDependency
	for _, row := range s.buildDeps {
		pb, ok := s.projectBuilds[row.ProjectBuildID]
		if !ok || pb.BuildID != correlationID {
			continue
		}
		dep, ok := s.dependencies[row.DependencyID]
		if !ok || dep.JobID == nil || *dep.JobID != jobID {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *InMemoryStore) AttachBuild(ctx context.Context, projectBuildDependencyID, buildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.buildDeps[projectBuildDependencyID]
	if !ok {
		return ErrNotFound{Kind: "project build dependency", Key: strconv.FormatInt(projectBuildDependencyID, 10)}
	}
	row.BuildID = &buildID
	s.buildDeps[projectBuildDependencyID] = row
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
