package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"capomastro/src/events"
	"capomastro/src/logger"
)

// FinishedEnvelope is the wire format published to
// TopicProjectBuildsFinished.
type FinishedEnvelope struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	ProjectID   int64      `json:"project_id"`
	BuildID     string     `json:"build_id"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	RequestedAt time.Time  `json:"requested_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Bridge forwards project-build-finished events from the in-process bus to
// an external broker. Publication failures are logged, never propagated:
// aggregation must not depend on broker availability.
type Bridge struct {
	broker Broker
	log    logger.Logger
}

// NewBridge creates a Bridge publishing to the given broker.
func NewBridge(b Broker, log logger.Logger) *Bridge {
	return &Bridge{broker: b, log: log}
}

// Attach subscribes the bridge to the bus.
func (b *Bridge) Attach(bus *events.Bus) {
	bus.SubscribeProjectBuilds(b.handle)
}

func (b *Bridge) handle(ctx context.Context, ev events.ProjectBuildEvent) {
	pb := ev.ProjectBuild
	envelope := FinishedEnvelope{
		ID:          uuid.NewString(),
		Type:        "projectbuild.finished",
		Timestamp:   time.Now().UTC(),
		ProjectID:   pb.ProjectID,
		BuildID:     pb.BuildID,
		Status:      pb.Status,
		Phase:       pb.Phase,
		RequestedAt: pb.RequestedAt,
		EndedAt:     pb.EndedAt,
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		b.log.Error("failed to marshal finished envelope for %s: %v", pb.BuildID, err)
		return
	}

	if err := b.broker.Publish(ctx, TopicProjectBuildsFinished, pb.BuildID, value); err != nil {
		b.log.Error("failed to publish finished event for %s: %v", pb.BuildID, err)
	}
}
