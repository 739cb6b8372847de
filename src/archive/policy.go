// Package archive copies the artifacts of finished project builds to
// long-term storage.
package archive

import (
	"path"

	"capomastro/src/model"
)

// Policy decides where an artifact lands in the archive.
type Policy interface {
	// Destination returns the archive-relative path for an artifact of the
	// given project build.
	Destination(project *model.Project, pb *model.ProjectBuild, artifact *model.Artifact) string
}

// IdentityPolicy stores artifacts flat, by filename. Collisions between
// builds overwrite; only useful for single-project archives.
type IdentityPolicy struct{}

func (IdentityPolicy) Destination(_ *model.Project, _ *model.ProjectBuild, artifact *model.Artifact) string {
	return artifact.Filename
}

// CdimagePolicy lays artifacts out like a cdimage file tree:
// {project}/{build_id}/{filename}.
type CdimagePolicy struct{}

func (CdimagePolicy) Destination(project *model.Project, pb *model.ProjectBuild, artifact *model.Artifact) string {
	return path.Join(project.Name, pb.BuildID, artifact.Filename)
}
