package service

import (
	"testing"

	"github.com/beatforge/api/internal/model"
)

func TestNormalizeEnvelopePayload(t *testing.T) {
	body := []byte(`{
		"code": 200,
		"msg": "All generated successfully.",
		"data": {
			"callbackType": "complete",
			"task_id": "task-123",
			"data": [
				{"id": "trk-1", "audio_url": "https://cdn.example.com/a1.mp3", "stream_audio_url": "https://cdn.example.com/s1.mp3", "image_url": "https://cdn.example.com/i1.png", "duration": 121.4},
				{"id": "trk-2", "audio_url": "https://cdn.example.com/a2.mp3", "duration": 118.0}
			]
		}
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("envelope payload not recognized")
	}
	if norm.Stage != model.StageComplete {
		t.Fatalf("stage = %s", norm.Stage)
	}
	if norm.TaskID != "task-123" {
		t.Fatalf("task id = %s", norm.TaskID)
	}
	if len(norm.Tracks) != 2 {
		t.Fatalf("tracks = %d", len(norm.Tracks))
	}
	if norm.Tracks[0].TrackID != "trk-1" || norm.Tracks[0].StreamURL != "https://cdn.example.com/s1.mp3" {
		t.Fatalf("first track = %+v", norm.Tracks[0])
	}
	if norm.Tracks[1].Duration != 118.0 {
		t.Fatalf("duration = %f", norm.Tracks[1].Duration)
	}
}

func TestNormalizeFirstStagePayload(t *testing.T) {
	body := []byte(`{
		"code": 200,
		"data": {
			"callbackType": "first",
			"task_id": "task-123",
			"data": [
				{"id": "trk-1", "stream_audio_url": "https://cdn.example.com/s1.mp3"}
			]
		}
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("payload not recognized")
	}
	if norm.Stage != model.StageFirst {
		t.Fatalf("stage = %s", norm.Stage)
	}
	if norm.HasAudio() {
		t.Fatal("first-stage payload should carry no final audio")
	}
}

func TestNormalizeFlatPayload(t *testing.T) {
	body := []byte(`{
		"taskId": "task-9",
		"status": "SUCCESS",
		"tracks": [
			{"audioId": "trk-7", "audioUrl": "https://cdn.example.com/a.mp3"}
		]
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("flat payload not recognized")
	}
	if norm.Stage != model.StageComplete {
		t.Fatalf("stage = %s", norm.Stage)
	}
	if norm.TaskID != "task-9" {
		t.Fatalf("task id = %s", norm.TaskID)
	}
	if norm.Tracks[0].TrackID != "trk-7" {
		t.Fatalf("track id = %s", norm.Tracks[0].TrackID)
	}
}

func TestNormalizeBareTracksInferStage(t *testing.T) {
	body := []byte(`{
		"results": [
			{"id": "trk-1", "audio_url": "https://cdn.example.com/a.mp3"},
			{"id": "trk-2", "stream_url": "https://cdn.example.com/s.mp3"}
		]
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("bare tracks not recognized")
	}
	// Any final audio present means the generation finished.
	if norm.Stage != model.StageComplete {
		t.Fatalf("stage = %s", norm.Stage)
	}
}

func TestNormalizeRejectsNonHTTPSMedia(t *testing.T) {
	body := []byte(`{
		"task_id": "task-1",
		"status": "complete",
		"tracks": [
			{"id": "trk-1", "audio_url": "http://insecure.example.com/a.mp3"},
			{"id": "trk-2", "audio_url": "file:///etc/passwd"}
		]
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("payload not recognized")
	}
	for _, track := range norm.Tracks {
		if track.AudioURL != "" {
			t.Fatalf("non-https url kept: %s", track.AudioURL)
		}
	}
}

func TestNormalizeEnvelopeWithoutStageKey(t *testing.T) {
	body := []byte(`{
		"code": 200,
		"data": {
			"task_id": "task-7",
			"data": [
				{"id": "trk-1", "audio_url": "https://cdn.example.com/a1.mp3"},
				{"id": "trk-2", "audio_url": "https://cdn.example.com/a2.mp3"}
			]
		}
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("stage-less nested delivery dropped")
	}
	// No stage key: completeness is inferred from the final audio.
	if norm.Stage != model.StageComplete {
		t.Fatalf("stage = %s, want complete", norm.Stage)
	}
	if norm.TaskID != "task-7" || len(norm.Tracks) != 2 {
		t.Fatalf("task = %s, tracks = %d", norm.TaskID, len(norm.Tracks))
	}

	// Without audio the same shape is a preview.
	preview := []byte(`{
		"data": {
			"task_id": "task-7",
			"data": [{"id": "trk-1", "stream_audio_url": "https://cdn.example.com/s1.mp3"}]
		}
	}`)
	norm = NormalizeCallback(preview)
	if norm == nil || norm.Stage != model.StageFirst {
		t.Fatalf("preview = %+v, want first stage", norm)
	}
}

func TestNormalizeUnrecognizedPayload(t *testing.T) {
	for _, body := range []string{
		`not json at all`,
		`{"hello": "world"}`,
		`{"data": {"unrelated": true}}`,
	} {
		if norm := NormalizeCallback([]byte(body)); norm != nil {
			t.Fatalf("payload %q should not normalize, got %+v", body, norm)
		}
	}
}

func TestNormalizeErrorStage(t *testing.T) {
	body := []byte(`{
		"code": 531,
		"data": {
			"callbackType": "error",
			"task_id": "task-123"
		}
	}`)

	norm := NormalizeCallback(body)
	if norm == nil {
		t.Fatal("error payload not recognized")
	}
	if norm.Stage != model.StageError {
		t.Fatalf("stage = %s", norm.Stage)
	}
}
