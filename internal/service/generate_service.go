package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/config"
	"github.com/beatforge/api/internal/keycache"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

const (
	// staleWindow is how long a beat may sit generating before the
	// opportunistic sweep fails it.
	staleWindow = 15 * time.Minute
	// dedupWindow bounds the concurrent-generation guard against retried
	// client calls.
	dedupWindow = 10 * time.Minute
	// maxConcurrentGenerating is the in-flight ceiling per agent.
	maxConcurrentGenerating = 2
	// maxPrice bounds per-beat price overrides.
	maxPrice = 999.99
)

// forbiddenTerms marks vocal/lyric content. The product is
// instrumental-only; requests carrying these are rejected outright.
var forbiddenTerms = []string{
	"vocal", "vocals", "lyric", "lyrics", "singing", "singer", "sung",
	"acapella", "a cappella", "rap", "spoken word",
}

// GenerateService is the fulfillment orchestrator: it enforces the
// per-agent invariants, dispatches exactly one provider call, and creates
// the sibling beat pair under the returned task id.
type GenerateService struct {
	store          *store.Store
	suno           client.MusicGenerator
	keys           *keycache.Cache
	limits         config.LimitsConfig
	publicURL      string
	callbackSecret string
}

func NewGenerateService(st *store.Store, suno client.MusicGenerator, keys *keycache.Cache, cfg *config.Config) *GenerateService {
	return &GenerateService{
		store:          st,
		suno:           suno,
		keys:           keys,
		limits:         cfg.Limits,
		publicURL:      cfg.Server.PublicURL,
		callbackSecret: cfg.Secrets.CallbackSecret,
	}
}

// Generate accepts one generation request for the agent. All
// preconditions are checked before any external call; on provider failure
// no beat rows are left behind.
func (s *GenerateService) Generate(ctx context.Context, agentID string, req *model.GenerateBeatRequest) (*model.GenerateBeatResponse, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, preconditionf("producer profile not found — complete registration before generating")
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}

	if agent.PayoutEmail == "" {
		return nil, preconditionf("no payout destination configured — set a payout email before generating")
	}
	if agent.DefaultPrice < s.limits.PriceFloor {
		return nil, preconditionf("default track price must be at least %.2f — update your pricing first", s.limits.PriceFloor)
	}
	if agent.DefaultStemsPrice < s.limits.PriceFloor {
		return nil, preconditionf("default stems price must be at least %.2f — update your pricing first", s.limits.PriceFloor)
	}
	if !agent.HasGenre(req.Genre) {
		return nil, preconditionf("invalid genre %q — your declared genres are: %s",
			req.Genre, strings.Join(agent.Genres, ", "))
	}
	if term := findForbiddenTerm(req.Title, req.SecondaryTitle, req.Style); term != "" {
		return nil, &ValidationError{Message: fmt.Sprintf(
			"beats are instrumental-only — remove %q from the request", term)}
	}

	// Lazy sweep: fail anything stuck generating past the staleness
	// window before the in-flight count below is taken.
	now := time.Now()
	if swept, err := s.store.SweepStaleGenerating(ctx, agentID, now.Add(-staleWindow)); err != nil {
		return nil, fmt.Errorf("sweep stale beats: %w", err)
	} else if swept > 0 {
		log.Printf("Swept %d stale generating beat(s) for agent %s", swept, agentID)
	}

	requests, err := s.store.CountRequestsSince(ctx, agentID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	if requests >= s.limits.RequestsPerHour {
		return nil, &LimitError{Message: "hourly generation limit reached — try again later"}
	}

	beatsToday, err := s.store.CountBeatsSince(ctx, agentID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count beats: %w", err)
	}
	if beatsToday >= s.limits.BeatsPerDay {
		return nil, &LimitError{Message: "daily beat limit reached — try again tomorrow"}
	}

	inFlight, err := s.store.CountGeneratingSince(ctx, agentID, now.Add(-dedupWindow))
	if err != nil {
		return nil, fmt.Errorf("count generating: %w", err)
	}
	if inFlight >= maxConcurrentGenerating {
		return nil, preconditionf("a generation is already in flight — wait for it to finish before starting another")
	}

	price := s.resolvePrice(req.PriceOverride, agent.DefaultPrice)
	stemsPrice := s.resolvePrice(req.StemsPriceOverride, agent.DefaultStemsPrice)

	// The instrumental flag is forced server-side no matter what the
	// client sent.
	taskID, err := s.suno.GenerateTrack(ctx, req.ProviderKey, &client.GenerateTrackRequest{
		Title:        req.Title,
		Style:        buildStylePrompt(req.Genre, req.Style, req.Tempo),
		Instrumental: true,
		CustomMode:   true,
		CallbackURL:  fmt.Sprintf("%s/callbacks/generation?secret=%s", s.publicURL, s.callbackSecret),
	})
	if err != nil {
		return nil, err
	}

	secondaryTitle := req.SecondaryTitle
	if secondaryTitle == "" {
		secondaryTitle = req.Title + " (Alt)"
	}

	beats := make([]model.Summary, 0, 2)
	for i, title := range []string{req.Title, secondaryTitle} {
		beat := &model.Beat{
			ID:         uuid.New().String(),
			AgentID:    agentID,
			TaskID:     taskID,
			Title:      title,
			Genre:      req.Genre,
			Style:      req.Style,
			Tempo:      req.Tempo,
			Price:      price,
			StemsPrice: stemsPrice,
			Status:     model.BeatStatusGenerating,
			CreatedAt:  now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.store.CreateBeat(ctx, beat); err != nil {
			return nil, fmt.Errorf("create beat: %w", err)
		}
		beats = append(beats, beat.Summarize())
	}

	if err := s.store.LogRequest(ctx, agentID); err != nil {
		return nil, fmt.Errorf("log request: %w", err)
	}

	// Cache the caller's provider key so the completion callback can
	// auto-start post-processing without asking again. Never persisted.
	if s.keys != nil {
		if err := s.keys.Put(ctx, taskID, req.ProviderKey); err != nil {
			log.Printf("Warning: failed to cache provider credential for task %s: %v", taskID, err)
		}
	}

	return &model.GenerateBeatResponse{
		TaskID: taskID,
		Beats:  beats,
		Genres: agent.Genres,
	}, nil
}

// resolvePrice applies a per-request override when it is valid and within
// bounds, else the agent default.
func (s *GenerateService) resolvePrice(override, fallback float64) float64 {
	if override >= s.limits.PriceFloor && override <= maxPrice {
		return override
	}
	return fallback
}

// findForbiddenTerm matches whole words so genres like "trap" survive the
// "rap" screen.
func findForbiddenTerm(fields ...string) string {
	for _, field := range fields {
		lowered := strings.ToLower(field)
		words := make(map[string]bool)
		for _, w := range strings.FieldsFunc(lowered, func(r rune) bool {
			return !unicode.IsLetter(r)
		}) {
			words[w] = true
		}
		for _, term := range forbiddenTerms {
			if strings.Contains(term, " ") {
				if strings.Contains(lowered, term) {
					return term
				}
			} else if words[term] {
				return term
			}
		}
	}
	return ""
}

func buildStylePrompt(genre, style string, tempo int) string {
	parts := []string{genre}
	if style != "" {
		parts = append(parts, style)
	}
	if tempo > 0 {
		parts = append(parts, fmt.Sprintf("%d BPM", tempo))
	}
	parts = append(parts, "instrumental")
	return strings.Join(parts, ", ")
}
