package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"path"

	"github.com/hibiken/asynq"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/internal/store"
)

// ArchiveWorker mirrors a sold beat's media into object storage so the
// buyer's download links outlive the provider CDN. Partial progress is
// persisted before a retry; already mirrored kinds are skipped.
type ArchiveWorker struct {
	store   *store.Store
	storage client.StorageClient
}

func NewArchiveWorker(st *store.Store, storage client.StorageClient) *ArchiveWorker {
	return &ArchiveWorker{store: st, storage: storage}
}

// ProcessTask handles one archival task.
func (w *ArchiveWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.ArchiveBeatPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal archive payload: %v: %w", err, asynq.SkipRetry)
	}
	if w.storage == nil {
		log.Printf("[ArchiveWorker] no storage configured, dropping task for beat %s", payload.BeatID)
		return nil
	}

	beat, err := w.store.GetBeat(ctx, payload.BeatID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Printf("[ArchiveWorker] beat %s no longer exists, dropping task", payload.BeatID)
			return nil
		}
		return err
	}

	sources := map[string]string{}
	if beat.AudioURL != "" {
		sources["audio"] = beat.AudioURL
	}
	if beat.LosslessURL != "" {
		sources["lossless"] = beat.LosslessURL
	}
	for name, stemURL := range beat.StemURLs {
		sources[name] = stemURL
	}

	mirrors := make(map[string]string, len(sources))
	for kind, mirror := range beat.MirrorURLs {
		mirrors[kind] = mirror
	}

	var failed int
	for kind, source := range sources {
		if mirrors[kind] != "" {
			continue
		}
		key := fmt.Sprintf("beats/%s/%s%s", beat.ID, kind, mediaExt(source))
		mirror, err := w.storage.MirrorURL(ctx, key, source)
		if err != nil {
			log.Printf("[ArchiveWorker] failed to mirror %s for beat %s: %v", kind, beat.ID, err)
			failed++
			continue
		}
		mirrors[kind] = mirror
	}

	if err := w.store.SetMirrors(ctx, beat.ID, mirrors); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d media file(s) failed to mirror for beat %s", failed, beat.ID)
	}

	log.Printf("[ArchiveWorker] archived %d media file(s) for beat %s", len(mirrors), beat.ID)
	return nil
}

// mediaExt pulls a file extension from the source URL path, defaulting
// to .mp3.
func mediaExt(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ".mp3"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".mp3"
}
