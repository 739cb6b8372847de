package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"capomastro/src/events"
	"capomastro/src/logger"
	"capomastro/src/model"
)

type fakeBroker struct {
	topics []string
	keys   []string
	values [][]byte
}

func (f *fakeBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	f.values = append(f.values, value)
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, topic, groupID string) (<-chan Message, error) {
	return nil, nil
}

func (f *fakeBroker) Close() error { return nil }

func TestBridgePublishesFinishedEnvelope(t *testing.T) {
	fake := &fakeBroker{}
	bus := events.NewBus()
	NewBridge(fake, logger.NewSilentLogger()).Attach(bus)

	ended := time.Date(2014, 3, 12, 15, 4, 5, 0, time.UTC)
	bus.PublishProjectBuild(context.Background(), events.ProjectBuildEvent{
		ProjectBuild: &model.ProjectBuild{
			ID:        7,
			ProjectID: 3,
			BuildID:   "20140312.1",
			Status:    model.StatusSuccess,
			Phase:     model.PhaseFinished,
			EndedAt:   &ended,
		},
	})

	if len(fake.values) != 1 {
		t.Fatalf("broker received %d messages, want 1", len(fake.values))
	}
	if fake.topics[0] != TopicProjectBuildsFinished {
		t.Errorf("published to topic %q, want %q", fake.topics[0], TopicProjectBuildsFinished)
	}
	if fake.keys[0] != "20140312.1" {
		t.Errorf("published with key %q, want build_id", fake.keys[0])
	}

	var envelope FinishedEnvelope
	if err := json.Unmarshal(fake.values[0], &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.ID == "" {
		t.Error("envelope has no id")
	}
	if envelope.Type != "projectbuild.finished" {
		t.Errorf("envelope type = %q", envelope.Type)
	}
	if envelope.Status != model.StatusSuccess || envelope.Phase != model.PhaseFinished {
		t.Errorf("envelope status/phase = %q/%q", envelope.Status, envelope.Phase)
	}
	if envelope.EndedAt == nil || !envelope.EndedAt.Equal(ended) {
		t.Errorf("envelope ended_at = %v, want %v", envelope.EndedAt, ended)
	}
}
