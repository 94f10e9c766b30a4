package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/beatforge/api/internal/model"
)

func TestExtractStemsFromNestedDelivery(t *testing.T) {
	data := json.RawMessage(`{
		"vocal_removal_info": {
			"instrumental_url": "https://cdn.example.com/instrumental.mp3",
			"vocal_url": "https://cdn.example.com/vocal.mp3",
			"drums_url": "https://cdn.example.com/drums.mp3",
			"origin_url": "https://cdn.example.com/origin.mp3",
			"bass_url": "http://insecure.example.com/bass.mp3",
			"task_id": "job-1"
		}
	}`)

	stems := ExtractStems(data)
	if len(stems) != 3 {
		t.Fatalf("stems = %v, want 3 entries", stems)
	}
	for _, name := range []string{"instrumental", "vocal", "drums"} {
		if stems[name] == "" {
			t.Fatalf("missing stem %q in %v", name, stems)
		}
	}
	if _, ok := stems["origin"]; ok {
		t.Fatal("origin mix kept as a stem")
	}
	if _, ok := stems["bass"]; ok {
		t.Fatal("non-https stem kept")
	}
}

func TestExtractStemsFlatDelivery(t *testing.T) {
	data := json.RawMessage(`{
		"instrumental_url": "https://cdn.example.com/instrumental.mp3",
		"vocal_url": "https://cdn.example.com/vocal.mp3"
	}`)
	stems := ExtractStems(data)
	if len(stems) != 2 {
		t.Fatalf("stems = %v", stems)
	}
}

func TestExtractStemsNothingUsable(t *testing.T) {
	if stems := ExtractStems(json.RawMessage(`{"task_id": "x"}`)); stems != nil {
		t.Fatalf("got %v", stems)
	}
	if stems := ExtractStems(json.RawMessage(`[1,2,3]`)); stems != nil {
		t.Fatalf("got %v", stems)
	}
}

func TestTriggerDispatchesBothJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	gen := &fakeMusicGenerator{}
	svc := NewPostProcessService(st, gen, testConfig())

	resp, err := svc.Trigger(ctx, "agent-1", beat.ID, "provider-key")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if resp.LosslessStatus != model.JobStatusProcessing || resp.StemsStatus != model.JobStatusProcessing {
		t.Fatalf("statuses = %s, %s", resp.LosslessStatus, resp.StemsStatus)
	}
	if len(gen.lossless) != 1 || len(gen.stems) != 1 {
		t.Fatalf("dispatches = %d lossless, %d stems", len(gen.lossless), len(gen.stems))
	}
	cb := gen.lossless[0].CallbackURL
	if !strings.Contains(cb, "/callbacks/lossless?") || !strings.Contains(cb, "beatId="+beat.ID) || !strings.Contains(cb, "secret=cb-secret") {
		t.Fatalf("lossless callback url = %s", cb)
	}
	if gen.lossless[0].TaskID != "task-1" || gen.lossless[0].AudioID != beat.ProviderTrackID {
		t.Fatalf("job request = %+v", gen.lossless[0])
	}

	// Both in flight: a second trigger is a no-op.
	resp, err = svc.Trigger(ctx, "agent-1", beat.ID, "provider-key")
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if resp.Message == "" {
		t.Fatal("expected already-in-progress message")
	}
	if len(gen.lossless) != 1 || len(gen.stems) != 1 {
		t.Fatalf("second trigger re-dispatched: %d, %d", len(gen.lossless), len(gen.stems))
	}
}

func TestTriggerGuards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	svc := NewPostProcessService(st, &fakeMusicGenerator{}, testConfig())

	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	if _, err := svc.Trigger(ctx, "agent-2", beat.ID, "k"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("want ErrNotOwner, got %v", err)
	}

	generating := seedBeat(t, st, "agent-1", "task-2", model.BeatStatusGenerating)
	var precondition *PreconditionError
	if _, err := svc.Trigger(ctx, "agent-1", generating.ID, "k"); !errors.As(err, &precondition) {
		t.Fatalf("want precondition error, got %v", err)
	}
}

func TestTriggerFailedDispatchMarksJobFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	gen := &fakeMusicGenerator{err: fmt.Errorf("provider down")}
	svc := NewPostProcessService(st, gen, testConfig())

	resp, err := svc.Trigger(ctx, "agent-1", beat.ID, "provider-key")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if resp.LosslessStatus != model.JobStatusFailed || resp.StemsStatus != model.JobStatusFailed {
		t.Fatalf("statuses = %s, %s", resp.LosslessStatus, resp.StemsStatus)
	}

	// Failed jobs are retryable once the provider recovers.
	gen.err = nil
	resp, err = svc.Trigger(ctx, "agent-1", beat.ID, "provider-key")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if resp.LosslessStatus != model.JobStatusProcessing || resp.StemsStatus != model.JobStatusProcessing {
		t.Fatalf("retry statuses = %s, %s", resp.LosslessStatus, resp.StemsStatus)
	}
}

func TestHandleLosslessCallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	svc := NewPostProcessService(st, &fakeMusicGenerator{}, testConfig())

	body := []byte(`{"code": 200, "data": {"audio_wav_url": "https://cdn.example.com/master.wav"}}`)
	if err := svc.HandleLossless(ctx, beat.ID, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := st.GetBeat(ctx, beat.ID)
	if got.LosslessStatus != model.JobStatusComplete || got.LosslessURL != "https://cdn.example.com/master.wav" {
		t.Fatalf("beat = %s %s", got.LosslessStatus, got.LosslessURL)
	}

	// A duplicate with a different URL never replaces the stored master.
	dup := []byte(`{"code": 200, "data": {"audio_wav_url": "https://cdn.example.com/other.wav"}}`)
	if err := svc.HandleLossless(ctx, beat.ID, dup); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	got, _ = st.GetBeat(ctx, beat.ID)
	if got.LosslessURL != "https://cdn.example.com/master.wav" {
		t.Fatalf("duplicate overwrote master: %s", got.LosslessURL)
	}
}

func TestHandleLosslessRejectsBadDelivery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	svc := NewPostProcessService(st, &fakeMusicGenerator{}, testConfig())

	failed := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	if err := svc.HandleLossless(ctx, failed.ID, []byte(`{"code": 500, "msg": "conversion failed"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := st.GetBeat(ctx, failed.ID)
	if got.LosslessStatus != model.JobStatusFailed {
		t.Fatalf("status = %s", got.LosslessStatus)
	}

	insecure := seedBeat(t, st, "agent-1", "task-2", model.BeatStatusComplete)
	body := []byte(`{"code": 200, "data": {"audio_wav_url": "http://insecure.example.com/m.wav"}}`)
	if err := svc.HandleLossless(ctx, insecure.ID, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ = st.GetBeat(ctx, insecure.ID)
	if got.LosslessStatus != model.JobStatusFailed {
		t.Fatalf("insecure url accepted: %s", got.LosslessStatus)
	}
}

func TestHandleStemsCallbackWithSilenceProbe(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	svc := NewPostProcessService(st, &fakeMusicGenerator{}, testConfig())

	sizes := map[string]int64{
		"https://cdn.example.com/instrumental.mp3": 4_000_000,
		"https://cdn.example.com/vocal.mp3":        120_000, // near-empty render
		"https://cdn.example.com/drums.mp3":        3_500_000,
	}
	svc.probe = func(_ context.Context, url string) (int64, error) {
		return sizes[url], nil
	}

	body := []byte(`{"code": 200, "data": {"vocal_removal_info": {
		"instrumental_url": "https://cdn.example.com/instrumental.mp3",
		"vocal_url": "https://cdn.example.com/vocal.mp3",
		"drums_url": "https://cdn.example.com/drums.mp3"
	}}}`)
	if err := svc.HandleStems(ctx, beat.ID, body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := st.GetBeat(ctx, beat.ID)
	if got.StemsStatus != model.JobStatusComplete {
		t.Fatalf("status = %s", got.StemsStatus)
	}
	if len(got.StemURLs) != 3 {
		t.Fatalf("stems = %v", got.StemURLs)
	}
	if len(got.SilentStems) != 1 || got.SilentStems[0] != "vocal" {
		t.Fatalf("silent stems = %v", got.SilentStems)
	}
	// Silent stems stay purchasable but are excluded from sampling.
	if _, ok := got.SampleStems()["vocal"]; ok {
		t.Fatal("silent stem exposed in sample set")
	}
}

func TestHandleStemsZeroUsableFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAgent(t, st, "agent-1")
	beat := seedBeat(t, st, "agent-1", "task-1", model.BeatStatusComplete)
	svc := NewPostProcessService(st, &fakeMusicGenerator{}, testConfig())

	body := []byte(`{"code": 200, "data": {"origin_url": "https://cdn.example.com/origin.mp3"}}`)
	if err := svc.HandleStems(ctx, beat.ID, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := st.GetBeat(ctx, beat.ID)
	if got.StemsStatus != model.JobStatusFailed {
		t.Fatalf("status = %s", got.StemsStatus)
	}
}
