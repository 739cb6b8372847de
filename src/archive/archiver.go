package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/store"
)

// Fetcher downloads an artifact from the build engine.
type Fetcher interface {
	OpenArtifact(ctx context.Context, downloadURL string) (io.ReadCloser, error)
}

// FetcherFactory returns a Fetcher for a configured server.
type FetcherFactory func(server *model.Server) Fetcher

// Archiver copies the artifacts of a finished project build into long-term
// storage. Archival is best effort per artifact: one failed download or
// write does not abandon the rest.
type Archiver struct {
	store    store.Store
	policy   Policy
	fetchers FetcherFactory
	log      logger.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(st store.Store, policy Policy, fetchers FetcherFactory, log logger.Logger) *Archiver {
	return &Archiver{store: st, policy: policy, fetchers: fetchers, log: log}
}

// ArchiveProjectBuild copies every artifact correlated to the project build
// through the transport, at the destination the policy assigns. Returned
// errors are joined per artifact.
func (a *Archiver) ArchiveProjectBuild(ctx context.Context, pb *model.ProjectBuild, transport Transport) error {
	project, err := a.store.ProjectByID(ctx, pb.ProjectID)
	if err != nil {
		return err
	}
	artifacts, err := a.store.ArtifactsForCorrelation(ctx, pb.BuildID)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		a.log.Info("no artifacts to archive for %s", pb.BuildID)
		return nil
	}

	if err := transport.Start(); err != nil {
		return fmt.Errorf("failed to start archive transport: %w", err)
	}
	defer transport.End()

	var errs []error
	for _, artifact := range artifacts {
		if err := a.archiveArtifact(ctx, project, pb, &artifact, transport); err != nil {
			a.log.Error("failed to archive %s for %s: %v", artifact.Filename, pb.BuildID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Archiver) archiveArtifact(ctx context.Context, project *model.Project, pb *model.ProjectBuild, artifact *model.Artifact, transport Transport) error {
	build, err := a.store.BuildByID(ctx, artifact.BuildID)
	if err != nil {
		return err
	}
	job, err := a.store.JobByID(ctx, build.JobID)
	if err != nil {
		return err
	}
	server, err := a.store.ServerByID(ctx, job.ServerID)
	if err != nil {
		return err
	}

	body, err := a.fetchers(server).OpenArtifact(ctx, artifact.URL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", artifact.URL, err)
	}
	defer body.Close()

	dest := a.policy.Destination(project, pb, artifact)
	if err := transport.Archive(body, dest); err != nil {
		return err
	}
	a.log.Info("archived %s to %s", artifact.Filename, dest)
	return nil
}
