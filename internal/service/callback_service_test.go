package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

// seedPair creates the two sibling beats of one task with a stable
// creation order.
func seedPair(t *testing.T, st *store.Store, agentID, taskID string) []*model.Beat {
	t.Helper()
	now := time.Now()
	pair := make([]*model.Beat, 0, 2)
	for i := 0; i < 2; i++ {
		beat := &model.Beat{
			ID:        uuid.New().String(),
			AgentID:   agentID,
			TaskID:    taskID,
			Title:     fmt.Sprintf("Sibling %d", i+1),
			Genre:     "techno",
			Price:     9.99,
			Status:    model.BeatStatusGenerating,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.CreateBeat(context.Background(), beat); err != nil {
			t.Fatalf("seed pair: %v", err)
		}
		pair = append(pair, beat)
	}
	return pair
}

func completeEnvelope(taskID string) []byte {
	return []byte(fmt.Sprintf(`{
		"code": 200,
		"data": {
			"callbackType": "complete",
			"task_id": %q,
			"data": [
				{"id": "trk-1", "audio_url": "https://cdn.example.com/a1.mp3", "stream_audio_url": "https://cdn.example.com/s1.mp3", "duration": 120},
				{"id": "trk-2", "audio_url": "https://cdn.example.com/a2.mp3", "duration": 118}
			]
		}
	}`, taskID))
}

func TestCallbackCompleteFinalizesPair(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	if err := svc.HandleGeneration(ctx, completeEnvelope("task-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	first, _ := st.GetBeat(ctx, pair[0].ID)
	second, _ := st.GetBeat(ctx, pair[1].ID)
	if first.Status != model.BeatStatusComplete || second.Status != model.BeatStatusComplete {
		t.Fatalf("statuses = %s, %s", first.Status, second.Status)
	}
	// Positional mapping: first delivered track goes to the older sibling.
	if first.ProviderTrackID != "trk-1" || second.ProviderTrackID != "trk-2" {
		t.Fatalf("track ids = %s, %s", first.ProviderTrackID, second.ProviderTrackID)
	}
	if first.AudioURL != "https://cdn.example.com/a1.mp3" {
		t.Fatalf("audio url = %s", first.AudioURL)
	}

	agent, _ := st.GetAgent(ctx, "agent-1")
	if agent.Reputation != 1 {
		t.Fatalf("reputation = %d, want 1", agent.Reputation)
	}
}

func TestCallbackDuplicateDeliveryIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	for i := 0; i < 3; i++ {
		if err := svc.HandleGeneration(ctx, completeEnvelope("task-1")); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	agent, _ := st.GetAgent(ctx, "agent-1")
	if agent.Reputation != 1 {
		t.Fatalf("reputation = %d after redeliveries, want 1", agent.Reputation)
	}
	first, _ := st.GetBeat(ctx, pair[0].ID)
	if first.AudioURL != "https://cdn.example.com/a1.mp3" {
		t.Fatalf("audio url changed: %s", first.AudioURL)
	}
}

func TestCallbackFirstStageRecordsPreviewOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	body := []byte(`{
		"code": 200,
		"data": {
			"callbackType": "first",
			"task_id": "task-1",
			"data": [
				{"id": "trk-1", "stream_audio_url": "https://cdn.example.com/s1.mp3"}
			]
		}
	}`)
	if err := svc.HandleGeneration(ctx, body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	first, _ := st.GetBeat(ctx, pair[0].ID)
	if first.Status != model.BeatStatusGenerating {
		t.Fatalf("preview changed status to %s", first.Status)
	}
	if first.StreamURL != "https://cdn.example.com/s1.mp3" {
		t.Fatalf("stream url = %s", first.StreamURL)
	}
	agent, _ := st.GetAgent(ctx, "agent-1")
	if agent.Reputation != 0 {
		t.Fatalf("preview awarded reputation: %d", agent.Reputation)
	}
}

func TestCallbackOutOfOrderPreviewAfterComplete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	if err := svc.HandleGeneration(ctx, completeEnvelope("task-1")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	late := []byte(`{
		"code": 200,
		"data": {
			"callbackType": "first",
			"task_id": "task-1",
			"data": [
				{"id": "trk-1", "stream_audio_url": "https://cdn.example.com/stale.mp3"}
			]
		}
	}`)
	if err := svc.HandleGeneration(ctx, late); err != nil {
		t.Fatalf("late preview: %v", err)
	}

	first, _ := st.GetBeat(ctx, pair[0].ID)
	if first.Status != model.BeatStatusComplete {
		t.Fatalf("status regressed to %s", first.Status)
	}
	if first.StreamURL != "https://cdn.example.com/s1.mp3" {
		t.Fatalf("late preview overwrote stream url: %s", first.StreamURL)
	}
}

func TestCallbackMatchesByLatestGenerating(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	// No task id, no known track ids: the newest generating pair is the
	// last-resort match.
	body := []byte(`{
		"clips": [
			{"id": "trk-9", "audio_url": "https://cdn.example.com/x1.mp3"},
			{"id": "trk-10", "audio_url": "https://cdn.example.com/x2.mp3"}
		]
	}`)
	if err := svc.HandleGeneration(ctx, body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	first, _ := st.GetBeat(ctx, pair[0].ID)
	if first.Status != model.BeatStatusComplete || first.ProviderTrackID != "trk-9" {
		t.Fatalf("fallback match failed: %s %s", first.Status, first.ProviderTrackID)
	}
}

func TestCallbackErrorFailsGeneratingSiblings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	body := []byte(`{"code": 531, "data": {"callbackType": "error", "task_id": "task-1"}}`)
	if err := svc.HandleGeneration(ctx, body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, b := range pair {
		got, _ := st.GetBeat(ctx, b.ID)
		if got.Status != model.BeatStatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
	}
}

func TestCallbackUnrecognizedPayloadAcknowledged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	pair := seedPair(t, st, "agent-1", "task-1")
	svc := NewCallbackService(st, nil, nil, nil)

	if err := svc.HandleGeneration(ctx, []byte(`{"unexpected": true}`)); err != nil {
		t.Fatalf("unrecognized payload should be acknowledged, got %v", err)
	}
	for _, b := range pair {
		got, _ := st.GetBeat(ctx, b.ID)
		if got.Status != model.BeatStatusGenerating {
			t.Fatalf("unrecognized payload mutated beat: %s", got.Status)
		}
	}
}
