package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/beatforge/api/internal/config"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

// sampleTokenTTL bounds unauthenticated stem sampling links.
const sampleTokenTTL = time.Hour

// Download result kinds. The handler decides how to answer from the
// kind; the service never touches the response writer.
const (
	DownloadRedirect   = "redirect"
	DownloadProxy      = "proxy"
	DownloadManifest   = "manifest"
	DownloadProcessing = "processing"
)

// DownloadResult tells the handler what to serve.
type DownloadResult struct {
	Kind     string
	URL      string
	Filename string
	Manifest *model.StemsManifest
}

// DownloadService redeems capability tokens for media. Usage accounting
// happens before any bytes move; aborted deliveries give the unit back.
type DownloadService struct {
	store       *store.Store
	post        *PostProcessService
	tokens      *TokenSigner
	cap         int
	platformKey string
	publicURL   string
}

func NewDownloadService(st *store.Store, post *PostProcessService, tokens *TokenSigner, cfg *config.Config) *DownloadService {
	return &DownloadService{
		store:       st,
		post:        post,
		tokens:      tokens,
		cap:         cfg.Limits.DownloadCap,
		platformKey: cfg.Suno.APIKey,
		publicURL:   cfg.Server.PublicURL,
	}
}

// Resolve redeems one purchase download token. Each successful
// resolution consumes one of the purchase's download uses.
func (s *DownloadService) Resolve(ctx context.Context, token string) (*DownloadResult, error) {
	payload, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if payload.Sample {
		return nil, ErrTokenInvalid
	}

	purchase, err := s.store.GetPurchase(ctx, payload.PurchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.PayPalStatus != model.PurchaseCompleted {
		return nil, ErrTokenInvalid
	}
	if purchase.BeatID != payload.BeatID {
		return nil, ErrTokenInvalid
	}

	beat, err := s.store.GetBeat(ctx, purchase.BeatID)
	if err != nil {
		return nil, err
	}

	count, err := s.store.ConsumeDownloadUse(ctx, purchase.ID, s.cap)
	if err != nil {
		if err == store.ErrConflict {
			return nil, &LimitError{Message: "download limit reached for this purchase"}
		}
		return nil, err
	}

	switch purchase.Tier {
	case model.TierStems:
		return s.serveStems(ctx, purchase, beat, count)
	default:
		return s.serveTrack(ctx, beat), nil
	}
}

// serveTrack delivers the track tier: the lossless master when it
// exists, else the compressed primary while a one-shot re-trigger tries
// to produce the master for next time.
func (s *DownloadService) serveTrack(ctx context.Context, beat *model.Beat) *DownloadResult {
	if beat.HasLossless() {
		return &DownloadResult{
			Kind:     DownloadRedirect,
			URL:      s.mediaURL(beat, "lossless", beat.LosslessURL),
			Filename: beat.Title + ".wav",
		}
	}
	s.retriggerJob(ctx, beat, "lossless", beat.LosslessStatus)
	return &DownloadResult{
		Kind:     DownloadProxy,
		URL:      s.mediaURL(beat, "audio", beat.AudioURL),
		Filename: beat.Title + ".mp3",
	}
}

// serveStems delivers the stems tier manifest, or reports the split as
// still processing. A processing answer is not a delivery: the consumed
// use is rolled back.
func (s *DownloadService) serveStems(ctx context.Context, purchase *model.Purchase, beat *model.Beat, count int) (*DownloadResult, error) {
	if !beat.HasStems() {
		if err := s.store.RollbackDownloadUse(ctx, purchase.ID, count); err != nil && err != store.ErrConflict {
			log.Printf("Warning: failed to roll back download use for purchase %s: %v", purchase.ID, err)
		}
		s.retriggerJob(ctx, beat, "stems", beat.StemsStatus)
		return &DownloadResult{Kind: DownloadProcessing}, nil
	}

	trackURL := beat.AudioURL
	if beat.HasLossless() {
		trackURL = beat.LosslessURL
	}
	stems := make(map[string]string, len(beat.StemURLs))
	for name, url := range beat.StemURLs {
		stems[name] = s.mediaURL(beat, name, url)
	}
	return &DownloadResult{
		Kind: DownloadManifest,
		Manifest: &model.StemsManifest{
			BeatID:   beat.ID,
			Title:    beat.Title,
			TrackURL: trackURL,
			Stems:    stems,
		},
	}, nil
}

// SampleManifest redeems a sampling token for the public stem preview.
// No purchase, no usage accounting; silent stems stay hidden.
func (s *DownloadService) SampleManifest(ctx context.Context, token string) (*model.StemsManifest, error) {
	payload, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if !payload.Sample {
		return nil, ErrTokenInvalid
	}

	beat, err := s.store.GetBeat(ctx, payload.BeatID)
	if err != nil {
		return nil, err
	}
	if beat.Deleted || !beat.HasStems() {
		return nil, store.ErrNotFound
	}

	return &model.StemsManifest{
		BeatID: beat.ID,
		Title:  beat.Title,
		Stems:  beat.SampleStems(),
	}, nil
}

// MintSampleURL creates a short-lived public sampling link for a beat
// with finished stems.
func (s *DownloadService) MintSampleURL(ctx context.Context, beatID string) (string, error) {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		return "", err
	}
	if beat.Deleted {
		return "", store.ErrNotFound
	}
	if !beat.HasStems() {
		return "", preconditionf("stems are not ready for this beat")
	}
	token := s.tokens.MintSample(beat.ID, time.Now().Add(sampleTokenTTL))
	return fmt.Sprintf("%s/samples/stems?token=%s", s.publicURL, token), nil
}

// retriggerJob nudges a missing deliverable with the platform
// credential. One shot, never while the job is already in flight.
func (s *DownloadService) retriggerJob(ctx context.Context, beat *model.Beat, job string, status model.JobStatus) {
	if s.post == nil || s.platformKey == "" {
		return
	}
	if status == model.JobStatusProcessing || beat.ProviderTrackID == "" {
		return
	}
	log.Printf("Re-triggering %s job for beat %s on download demand", job, beat.ID)
	s.post.DispatchJob(ctx, beat, s.platformKey, job)
}

// mediaURL prefers the archived mirror for a media kind when one exists.
func (s *DownloadService) mediaURL(beat *model.Beat, kind, original string) string {
	if mirror, ok := beat.MirrorURLs[kind]; ok && mirror != "" {
		return mirror
	}
	return original
}
