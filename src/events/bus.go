// Package events provides the in-process event bus connecting the build
// registry to the status aggregator. Publication is synchronous so that
// causality stays explicit and testable: by the time Publish returns, every
// subscriber has seen the event.
package events

import (
	"context"
	"sync"

	"capomastro/src/model"
)

// BuildEvent is published by the build registry after every successful
// upsert of a Build record.
type BuildEvent struct {
	Build *model.Build
	// Created is true when the upsert created the record rather than
	// updating an existing one.
	Created bool
}

// ProjectBuildEvent is published by the status aggregator when a
// ProjectBuild's aggregate phase reaches FINISHED.
type ProjectBuildEvent struct {
	ProjectBuild *model.ProjectBuild
}

// BuildHandler consumes BuildEvents.
type BuildHandler func(ctx context.Context, ev BuildEvent)

// ProjectBuildHandler consumes ProjectBuildEvents.
type ProjectBuildHandler func(ctx context.Context, ev ProjectBuildEvent)

// Bus fans events out to subscribed handlers, in subscription order.
type Bus struct {
	mu                   sync.RWMutex
	buildHandlers        []BuildHandler
	projectBuildHandlers []ProjectBuildHandler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeBuilds registers a handler for BuildEvents.
func (b *Bus) SubscribeBuilds(h BuildHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buildHandlers = append(b.buildHandlers, h)
}

// SubscribeProjectBuilds registers a handler for ProjectBuildEvents.
func (b *Bus) SubscribeProjectBuilds(h ProjectBuildHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projectBuildHandlers = append(b.projectBuildHandlers, h)
}

// PublishBuild delivers the event to all build handlers synchronously.
func (b *Bus) PublishBuild(ctx context.Context, ev BuildEvent) {
	b.mu.RLock()
	handlers := make([]BuildHandler, len(b.buildHandlers))
	copy(handlers, b.buildHandlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// PublishProjectBuild delivers the event to all project-build handlers
// synchronously.
func (b *Bus) PublishProjectBuild(ctx context.Context, ev ProjectBuildEvent) {
	b.mu.RLock()
	handlers := make([]ProjectBuildHandler, len(b.projectBuildHandlers))
	copy(handlers, b.projectBuildHandlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
