// Package dispatch triggers remote runs of a dependency's job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/store"
)

// ErrNoJob is returned when a build is requested for a dependency that has
// no bound job.
var ErrNoJob = errors.New("dependency has no job")

// BuildIDParameter is the parameter name carrying the correlation token
// through the external engine and back in its notifications.
const BuildIDParameter = "BUILD_ID"

// Engine is the subset of the Jenkins client the dispatcher needs.
type Engine interface {
	TriggerBuild(ctx context.Context, jobName string, params map[string]string) error
}

// EngineFactory returns an Engine for a configured server.
type EngineFactory func(server *model.Server) Engine

// Dispatcher asks the external build engine to start job runs. Dispatch is
// fire-and-forget: success means accepted for queuing, not completed.
type Dispatcher struct {
	store   store.Store
	engines EngineFactory
	log     logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st store.Store, engines EngineFactory, log logger.Logger) *Dispatcher {
	return &Dispatcher{store: st, engines: engines, log: log}
}

// ParseParameters parses a dependency's parameter text, one KEY=VALUE per
// line. Blank lines and lines without a separator are ignored.
func ParseParameters(text string) map[string]string {
	params := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = value
	}
	return params
}

// Trigger asks the engine to queue a run of the dependency's job with its
// configured parameters. A non-empty correlationID is threaded through as
// the BUILD_ID parameter, overriding any configured value.
func (d *Dispatcher) Trigger(ctx context.Context, dep *model.Dependency, correlationID string) error {
	if dep.JobID == nil {
		return fmt.Errorf("%w: %s", ErrNoJob, dep.Name)
	}

	job, err := d.store.JobByID(ctx, *dep.JobID)
	if err != nil {
		return err
	}
	server, err := d.store.ServerByID(ctx, job.ServerID)
	if err != nil {
		return err
	}

	params := ParseParameters(dep.Parameters)
	if correlationID != "" {
		params[BuildIDParameter] = correlationID
	}

	if err := d.engines(server).TriggerBuild(ctx, job.Name, params); err != nil {
		return fmt.Errorf("failed to trigger %s on %s: %w", job.Name, server.Name, err)
	}

	d.log.Info("triggered build of %s on %s (correlation %q)", job.Name, server.Name, correlationID)
	return nil
}
