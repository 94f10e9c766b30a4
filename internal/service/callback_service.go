package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/beatforge/api/internal/keycache"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
	"github.com/beatforge/api/internal/websocket"
)

// CallbackService reconciles provider webhook deliveries against stored
// beats. Deliveries are at-least-once and may arrive out of order, so
// every transition here is written to be safe under duplication and
// reordering.
type CallbackService struct {
	store *store.Store
	post  *PostProcessService
	keys  *keycache.Cache
	hub   *websocket.Hub
}

func NewCallbackService(st *store.Store, post *PostProcessService, keys *keycache.Cache, hub *websocket.Hub) *CallbackService {
	return &CallbackService{store: st, post: post, keys: keys, hub: hub}
}

// HandleGeneration processes one generation webhook. Unrecognized or
// unmatchable payloads are logged and acknowledged without mutation;
// returning an error here would only make the provider redeliver a
// payload we already know we cannot use.
func (s *CallbackService) HandleGeneration(ctx context.Context, body []byte) error {
	norm := NormalizeCallback(body)
	if norm == nil {
		log.Printf("[Callback] Unrecognized generation payload (%d bytes), acknowledged", len(body))
		return nil
	}

	beats, err := s.matchBeats(ctx, norm)
	if err != nil {
		return err
	}
	if len(beats) == 0 {
		log.Printf("[Callback] No beats matched task=%q tracks=%v, acknowledged", norm.TaskID, norm.TrackIDs())
		return nil
	}

	switch norm.Stage {
	case model.StageComplete:
		return s.applyComplete(ctx, norm, beats)
	case model.StageFirst:
		return s.applyPreview(ctx, norm, beats)
	case model.StageError:
		return s.applyError(ctx, beats)
	}

	log.Printf("[Callback] Stage %q for task %s carried nothing actionable, acknowledged", norm.Stage, beats[0].TaskID)
	return nil
}

// matchBeats resolves the sibling beat set for a callback. Ladder: the
// payload's task id, then recorded provider track ids, then the newest
// still-generating pair as a last resort.
func (s *CallbackService) matchBeats(ctx context.Context, norm *NormalizedCallback) ([]*model.Beat, error) {
	if norm.TaskID != "" {
		beats, err := s.store.BeatsByTask(ctx, norm.TaskID)
		if err != nil {
			return nil, fmt.Errorf("match by task: %w", err)
		}
		if len(beats) > 0 {
			return beats, nil
		}
	}

	if ids := norm.TrackIDs(); len(ids) > 0 {
		matched, err := s.store.BeatsByProviderTracks(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("match by track ids: %w", err)
		}
		if len(matched) > 0 {
			// Reload the full sibling set so positional mapping sees
			// both beats, not just the ones already carrying track ids.
			beats, err := s.store.BeatsByTask(ctx, matched[0].TaskID)
			if err != nil {
				return nil, fmt.Errorf("load siblings: %w", err)
			}
			if len(beats) > 0 {
				return beats, nil
			}
			return matched, nil
		}
	}

	beats, err := s.store.LatestGeneratingBeats(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("match latest generating: %w", err)
	}
	return beats, nil
}

// applyComplete finalizes beats positionally against the delivered
// tracks. Duplicate deliveries only backfill media holes.
func (s *CallbackService) applyComplete(ctx context.Context, norm *NormalizedCallback, beats []*model.Beat) error {
	n := len(beats)
	if len(norm.Tracks) < n {
		n = len(norm.Tracks)
	}

	completed := 0
	for i := 0; i < n; i++ {
		beat, track := beats[i], norm.Tracks[i]
		if track.AudioURL == "" {
			// A complete delivery can still carry a not-yet-final
			// variant; keep its preview without finalizing.
			if track.StreamURL != "" {
				if err := s.store.RecordStreamPreview(ctx, beat.ID, track.TrackID, track.StreamURL, track.ImageURL); err != nil {
					return err
				}
			}
			continue
		}
		err := s.store.CompleteBeat(ctx, beat.ID, track.TrackID, track.AudioURL, track.StreamURL, track.ImageURL, track.Duration)
		if errors.Is(err, store.ErrConflict) {
			if err := s.store.BackfillBeatMedia(ctx, beat.ID, track.StreamURL, track.ImageURL); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		beat.ProviderTrackID = track.TrackID
		completed++
	}

	if completed > 0 {
		if err := s.store.IncrementReputation(ctx, beats[0].AgentID, 1); err != nil {
			log.Printf("Warning: reputation credit failed for agent %s: %v", beats[0].AgentID, err)
		}
		s.autoStartPostProcessing(ctx, beats[:n])
	}

	return s.broadcast(ctx, beats[0].TaskID, model.StageComplete)
}

// applyPreview records intermediate streaming references positionally.
func (s *CallbackService) applyPreview(ctx context.Context, norm *NormalizedCallback, beats []*model.Beat) error {
	n := len(beats)
	if len(norm.Tracks) < n {
		n = len(norm.Tracks)
	}
	for i := 0; i < n; i++ {
		beat, track := beats[i], norm.Tracks[i]
		if track.StreamURL == "" {
			continue
		}
		if err := s.store.RecordStreamPreview(ctx, beat.ID, track.TrackID, track.StreamURL, track.ImageURL); err != nil {
			return err
		}
	}
	return s.broadcast(ctx, beats[0].TaskID, model.StageFirst)
}

// applyError fails whichever siblings are still generating. Completed
// beats are untouched; the provider sometimes errors one variant after
// finishing the other.
func (s *CallbackService) applyError(ctx context.Context, beats []*model.Beat) error {
	for _, beat := range beats {
		if beat.Status != model.BeatStatusGenerating {
			continue
		}
		if err := s.store.FailBeat(ctx, beat.ID); err != nil {
			return err
		}
	}
	return s.broadcast(ctx, beats[0].TaskID, model.StageError)
}

// autoStartPostProcessing consumes the single-use cached provider
// credential for the task and dispatches lossless and stem jobs for the
// finalized beats. Missing credential is normal: the agent can trigger
// post-processing explicitly later.
func (s *CallbackService) autoStartPostProcessing(ctx context.Context, beats []*model.Beat) {
	if s.post == nil || s.keys == nil || len(beats) == 0 {
		return
	}
	taskID := beats[0].TaskID
	apiKey, err := s.keys.Take(ctx, taskID)
	if err != nil {
		if !errors.Is(err, keycache.ErrNotFound) {
			log.Printf("Warning: credential lookup failed for task %s: %v", taskID, err)
		}
		return
	}
	for _, beat := range beats {
		if beat.ProviderTrackID == "" {
			continue
		}
		s.post.DispatchJobs(ctx, beat, apiKey)
	}
}

func (s *CallbackService) broadcast(ctx context.Context, taskID string, stage model.CallbackStage) error {
	if s.hub == nil || taskID == "" {
		return nil
	}
	beats, err := s.store.BeatsByTask(ctx, taskID)
	if err != nil {
		return err
	}
	summaries := make([]model.Summary, 0, len(beats))
	for _, b := range beats {
		summaries = append(summaries, b.Summarize())
	}
	s.hub.BroadcastTaskEvent(taskID, stage, summaries)
	return nil
}
