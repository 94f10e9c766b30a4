package service

import (
	"context"

	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/store"
)

// BeatService exposes the producing agent's view of its own catalog.
type BeatService struct {
	store *store.Store
}

func NewBeatService(st *store.Store) *BeatService {
	return &BeatService{store: st}
}

// List returns the agent's beats, newest first.
func (s *BeatService) List(ctx context.Context, agentID string) ([]*model.Beat, error) {
	return s.store.ListBeatsByAgent(ctx, agentID)
}

// Get returns one beat if the agent owns it.
func (s *BeatService) Get(ctx context.Context, agentID, beatID string) (*model.Beat, error) {
	beat, err := s.store.GetBeat(ctx, beatID)
	if err != nil {
		return nil, err
	}
	if beat.Deleted {
		return nil, store.ErrNotFound
	}
	if beat.AgentID != agentID {
		return nil, ErrNotOwner
	}
	return beat, nil
}

// Delete soft-deletes an unsold beat. Sold beats are the buyer's
// deliverable and can no longer be withdrawn.
func (s *BeatService) Delete(ctx context.Context, agentID, beatID string) error {
	beat, err := s.Get(ctx, agentID, beatID)
	if err != nil {
		return err
	}
	if beat.Sold {
		return preconditionf("beat has been sold and can no longer be removed")
	}
	if err := s.store.SoftDeleteBeat(ctx, beatID, agentID); err != nil {
		if err == store.ErrConflict {
			return preconditionf("beat has been sold and can no longer be removed")
		}
		return err
	}
	return nil
}
