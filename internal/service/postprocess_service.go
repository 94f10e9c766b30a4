package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/config"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

// silentStemRatio marks a stem as silent when its byte size falls below
// this fraction of the sibling median. Near-empty renders (a hi-hat
// track in a song with no hi-hats) should not count toward the stems
// product.
const silentStemRatio = 0.25

// SizeProber measures a remote file without downloading it. Swappable
// for tests.
type SizeProber func(ctx context.Context, url string) (int64, error)

// PostProcessService runs the lossless and stems sub-pipelines for
// finished beats. Dispatch is idempotent: re-invoking for a stuck job is
// always safe.
type PostProcessService struct {
	store          *store.Store
	suno           client.MusicGenerator
	probe          SizeProber
	publicURL      string
	callbackSecret string
}

func NewPostProcessService(st *store.Store, suno client.MusicGenerator, cfg *config.Config) *PostProcessService {
	return &PostProcessService{
		store:          st,
		suno:           suno,
		probe:          headContentLength,
		publicURL:      cfg.Server.PublicURL,
		callbackSecret: cfg.Secrets.CallbackSecret,
	}
}

// Trigger explicitly starts (or restarts) post-processing for one of the
// agent's beats, using the agent's own provider credential.
func (s *PostProcessService) Trigger(ctx context.Context, agentID, beatID, providerKey string) (*model.PostProcessResponse, error) {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		return nil, err
	}
	if beat.AgentID != agentID {
		return nil, ErrNotOwner
	}
	if beat.Status != model.BeatStatusComplete {
		return nil, preconditionf("beat is not finished generating — post-processing needs a completed beat")
	}
	if beat.ProviderTrackID == "" {
		return nil, preconditionf("beat has no provider track reference — wait for the completion callback")
	}

	if beat.LosslessStatus == model.JobStatusComplete && beat.StemsStatus == model.JobStatusComplete {
		return &model.PostProcessResponse{
			BeatID:         beat.ID,
			LosslessStatus: beat.LosslessStatus,
			StemsStatus:    beat.StemsStatus,
			Message:        "post-processing already done",
		}, nil
	}
	if beat.LosslessStatus == model.JobStatusProcessing && beat.StemsStatus == model.JobStatusProcessing {
		return &model.PostProcessResponse{
			BeatID:         beat.ID,
			LosslessStatus: beat.LosslessStatus,
			StemsStatus:    beat.StemsStatus,
			Message:        "post-processing already in progress",
		}, nil
	}

	s.DispatchJobs(ctx, beat, providerKey)

	fresh, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		return nil, err
	}
	return &model.PostProcessResponse{
		BeatID:         fresh.ID,
		LosslessStatus: fresh.LosslessStatus,
		StemsStatus:    fresh.StemsStatus,
	}, nil
}

// DispatchJobs sends the provider requests for every job not yet
// complete and records the per-job outcome. A job that fails to dispatch
// is marked failed immediately so a later trigger can retry it.
func (s *PostProcessService) DispatchJobs(ctx context.Context, beat *model.Beat, apiKey string) {
	if beat.LosslessStatus != model.JobStatusComplete {
		s.dispatchJob(ctx, beat, apiKey, "lossless")
	}
	if beat.StemsStatus != model.JobStatusComplete {
		s.dispatchJob(ctx, beat, apiKey, "stems")
	}
}

// DispatchJob re-runs a single sub-job. Used by the download path to
// nudge a missing deliverable with the platform credential.
func (s *PostProcessService) DispatchJob(ctx context.Context, beat *model.Beat, apiKey, job string) {
	s.dispatchJob(ctx, beat, apiKey, job)
}

func (s *PostProcessService) dispatchJob(ctx context.Context, beat *model.Beat, apiKey, job string) {
	req := &client.SecondaryJobRequest{
		TaskID:      beat.TaskID,
		AudioID:     beat.ProviderTrackID,
		CallbackURL: fmt.Sprintf("%s/callbacks/%s?secret=%s&beatId=%s", s.publicURL, job, s.callbackSecret, beat.ID),
	}

	var err error
	switch job {
	case "lossless":
		_, err = s.suno.RequestLossless(ctx, apiKey, req)
	case "stems":
		_, err = s.suno.RequestStemSplit(ctx, apiKey, req)
	default:
		return
	}

	status := model.JobStatusProcessing
	if err != nil {
		log.Printf("Failed to dispatch %s job for beat %s: %v", job, beat.ID, err)
		status = model.JobStatusFailed
	}
	if serr := s.store.SetJobStatus(ctx, beat.ID, job, status); serr != nil {
		log.Printf("Failed to record %s status for beat %s: %v", job, beat.ID, serr)
	}
}

// losslessPayload is the lossless job webhook body.
type losslessPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		AudioWavURL string `json:"audio_wav_url"`
		AudioURL    string `json:"audio_url"`
	} `json:"data"`
}

// HandleLossless processes a lossless job webhook for one beat. Sold and
// deleted beats are never mutated after the fact; a finished job stays
// finished.
func (s *PostProcessService) HandleLossless(ctx context.Context, beatID string, body []byte) error {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Printf("[Callback] Lossless delivery for unknown beat %s, acknowledged", beatID)
			return nil
		}
		return err
	}
	if beat.Sold || beat.Deleted || beat.LosslessStatus == model.JobStatusComplete {
		return nil
	}

	var payload losslessPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[Callback] Malformed lossless payload for beat %s, acknowledged", beatID)
		return nil
	}
	if payload.Code != 0 && payload.Code != 200 {
		log.Printf("[Callback] Lossless job failed for beat %s: %s", beatID, payload.Msg)
		return s.store.SetJobStatus(ctx, beatID, "lossless", model.JobStatusFailed)
	}

	url := payload.Data.AudioWavURL
	if url == "" {
		url = payload.Data.AudioURL
	}
	if !validMediaURL(url) {
		log.Printf("[Callback] Lossless delivery for beat %s carried no usable URL", beatID)
		return s.store.SetJobStatus(ctx, beatID, "lossless", model.JobStatusFailed)
	}

	if err := s.store.CompleteLossless(ctx, beatID, url); err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return err
	}
	return nil
}

// stemsPayload is the stem split webhook body. The stems arrive as a
// flat named map nested one level down.
type stemsPayload struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// HandleStems processes a stem split webhook for one beat, extracting
// named stems and probing each for silence.
func (s *PostProcessService) HandleStems(ctx context.Context, beatID string, body []byte) error {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Printf("[Callback] Stems delivery for unknown beat %s, acknowledged", beatID)
			return nil
		}
		return err
	}
	if beat.Sold || beat.Deleted || beat.StemsStatus == model.JobStatusComplete {
		return nil
	}

	var payload stemsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[Callback] Malformed stems payload for beat %s, acknowledged", beatID)
		return nil
	}
	if payload.Code != 0 && payload.Code != 200 {
		log.Printf("[Callback] Stems job failed for beat %s: %s", beatID, payload.Msg)
		return s.store.SetJobStatus(ctx, beatID, "stems", model.JobStatusFailed)
	}

	stems := ExtractStems(payload.Data)
	if len(stems) == 0 {
		log.Printf("[Callback] Stems delivery for beat %s carried no usable stems", beatID)
		return s.store.SetJobStatus(ctx, beatID, "stems", model.JobStatusFailed)
	}

	silent := s.probeSilentStems(ctx, stems)

	if err := s.store.CompleteStems(ctx, beatID, stems, silent); err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return err
	}
	return nil
}

// ExtractStems pulls named stem URLs out of the delivery's data object.
// Keys ending in "_url" name a stem; the original mix ("origin") and
// anything that is not a well-formed https URL are dropped.
func ExtractStems(data json.RawMessage) map[string]string {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil
	}

	stems := make(map[string]string)
	collect := func(m map[string]any) {
		for key, value := range m {
			url, ok := value.(string)
			if !ok || !strings.HasSuffix(key, "_url") {
				continue
			}
			name := strings.TrimSuffix(key, "_url")
			if name == "" || name == "origin" || name == "original" || name == "source" {
				continue
			}
			if !validMediaURL(url) {
				continue
			}
			stems[name] = url
		}
	}

	// The map can be the data object itself or nested one level down
	// under a provider-specific key.
	collect(root)
	if len(stems) == 0 {
		for _, value := range root {
			if nested, ok := value.(map[string]any); ok {
				collect(nested)
			}
		}
	}
	if len(stems) == 0 {
		return nil
	}
	return stems
}

// probeSilentStems measures every stem and flags the ones materially
// smaller than the sibling median. Probe failures leave a stem unflagged
// rather than hiding it on a guess.
func (s *PostProcessService) probeSilentStems(ctx context.Context, stems map[string]string) []string {
	if s.probe == nil || len(stems) < 2 {
		return nil
	}

	sizes := make(map[string]int64, len(stems))
	measured := make([]int64, 0, len(stems))
	for name, url := range stems {
		size, err := s.probe(ctx, url)
		if err != nil || size <= 0 {
			continue
		}
		sizes[name] = size
		measured = append(measured, size)
	}
	if len(measured) < 2 {
		return nil
	}

	sort.Slice(measured, func(i, j int) bool { return measured[i] < measured[j] })
	median := measured[len(measured)/2]

	var silent []string
	for name, size := range sizes {
		if float64(size) < float64(median)*silentStemRatio {
			silent = append(silent, name)
		}
	}
	sort.Strings(silent)
	return silent
}

// headContentLength is the default size prober: one HEAD request.
func headContentLength(ctx context.Context, url string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return resp.ContentLength, nil
}
