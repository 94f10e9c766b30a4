package service

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/beatforge/api/internal/model"
)

// NormalizedTrack is one track variant extracted from a provider webhook.
type NormalizedTrack struct {
	TrackID   string
	AudioURL  string
	StreamURL string
	ImageURL  string
	Duration  float64
}

// NormalizedCallback is the provider-neutral shape the pipeline consumes.
// Providers deliver several envelope layouts; everything downstream of
// normalization only ever sees this.
type NormalizedCallback struct {
	Stage  model.CallbackStage
	TaskID string
	Tracks []NormalizedTrack
}

// HasAudio reports whether any extracted track carries a final audio URL.
func (n *NormalizedCallback) HasAudio() bool {
	for _, t := range n.Tracks {
		if t.AudioURL != "" {
			return true
		}
	}
	return false
}

// TrackIDs returns the non-empty provider track ids in delivery order.
func (n *NormalizedCallback) TrackIDs() []string {
	ids := make([]string, 0, len(n.Tracks))
	for _, t := range n.Tracks {
		if t.TrackID != "" {
			ids = append(ids, t.TrackID)
		}
	}
	return ids
}

type detector func(payload map[string]any) (*NormalizedCallback, bool)

// detectors is ordered most specific first. The first detector that
// recognizes the payload wins.
var detectors = []detector{
	detectEnvelope,
	detectFlat,
	detectBareTracks,
}

// NormalizeCallback turns a raw webhook body into the neutral callback
// shape. Returns nil when no detector recognizes the payload; the caller
// acknowledges such deliveries without mutating anything.
func NormalizeCallback(body []byte) *NormalizedCallback {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	for _, detect := range detectors {
		if norm, ok := detect(payload); ok {
			norm.inferStage()
			return norm
		}
	}
	return nil
}

// detectEnvelope handles the nested envelope layout:
// {"code":200,"data":{"callbackType":"complete","task_id":"...","data":[...]}}
func detectEnvelope(payload map[string]any) (*NormalizedCallback, bool) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return nil, false
	}
	norm := &NormalizedCallback{Stage: model.StageUnknown}
	stage, hasStage := stringField(data, "callbackType", "callback_type")
	if hasStage {
		norm.Stage = parseStage(stage)
	}
	norm.TaskID, _ = stringField(data, "task_id", "taskId")
	if items, ok := data["data"].([]any); ok {
		norm.Tracks = extractTracks(items)
	}
	// Some deliveries omit the stage key. The nested task id or track
	// list still identifies the envelope; the stage is inferred from
	// whether the tracks carry final audio.
	if !hasStage && norm.TaskID == "" && len(norm.Tracks) == 0 {
		return nil, false
	}
	return norm, true
}

// detectFlat handles layouts that put stage, task id, and the track list
// at the top level under loosely standardized names.
func detectFlat(payload map[string]any) (*NormalizedCallback, bool) {
	taskID, hasTask := stringField(payload, "task_id", "taskId")
	stage, hasStage := stringField(payload, "callbackType", "callback_type", "stage", "status", "event")
	if !hasTask && !hasStage {
		return nil, false
	}
	norm := &NormalizedCallback{TaskID: taskID, Stage: model.StageUnknown}
	if hasStage {
		norm.Stage = parseStage(stage)
	}
	for _, key := range []string{"tracks", "data", "items", "clips"} {
		if items, ok := payload[key].([]any); ok {
			norm.Tracks = extractTracks(items)
			break
		}
	}
	return norm, true
}

// detectBareTracks is the fallback: any top-level array whose elements
// look like tracks. Stage is inferred from what the tracks carry.
func detectBareTracks(payload map[string]any) (*NormalizedCallback, bool) {
	for _, value := range payload {
		items, ok := value.([]any)
		if !ok {
			continue
		}
		tracks := extractTracks(items)
		if len(tracks) > 0 {
			return &NormalizedCallback{Stage: model.StageUnknown, Tracks: tracks}, true
		}
	}
	return nil, false
}

// inferStage resolves an unknown stage from the extracted tracks: final
// audio present means the generation finished.
func (n *NormalizedCallback) inferStage() {
	if n.Stage != model.StageUnknown {
		return
	}
	if n.HasAudio() {
		n.Stage = model.StageComplete
	} else if len(n.Tracks) > 0 {
		n.Stage = model.StageFirst
	}
}

func parseStage(raw string) model.CallbackStage {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "completed", "success", "all_complete":
		return model.StageComplete
	case "first", "text", "stream", "streaming":
		return model.StageFirst
	case "error", "fail", "failed":
		return model.StageError
	}
	return model.StageUnknown
}

func extractTracks(items []any) []NormalizedTrack {
	tracks := make([]NormalizedTrack, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		track := NormalizedTrack{}
		track.TrackID, _ = stringField(raw, "id", "audio_id", "audioId", "clip_id", "clipId", "track_id", "trackId")
		track.AudioURL = mediaField(raw, "audio_url", "audioUrl", "source_audio_url", "sourceAudioUrl")
		track.StreamURL = mediaField(raw, "stream_audio_url", "streamAudioUrl", "source_stream_audio_url", "stream_url", "streamUrl")
		track.ImageURL = mediaField(raw, "image_url", "imageUrl", "source_image_url", "cover_url")
		track.Duration = floatField(raw, "duration", "audio_duration", "audioDuration")
		if track.TrackID == "" && track.AudioURL == "" && track.StreamURL == "" {
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// mediaField returns the first alias that holds a well-formed https URL.
// Anything else is discarded rather than stored.
func mediaField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && validMediaURL(v) {
			return v
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		}
	}
	return 0
}

// validMediaURL accepts only absolute https URLs with a host. Provider
// payloads are untrusted input; nothing else is ever persisted or
// fetched.
func validMediaURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}
