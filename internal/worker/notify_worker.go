package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/internal/store"
)

// NotifyWorker delivers the download link to the buyer after a completed
// capture. Delivery failures are retried by the queue; the sale itself
// never depends on this.
type NotifyWorker struct {
	store     *store.Store
	mailer    client.Notifier
	publicURL string
}

func NewNotifyWorker(st *store.Store, mailer client.Notifier, publicURL string) *NotifyWorker {
	return &NotifyWorker{store: st, mailer: mailer, publicURL: publicURL}
}

// ProcessTask handles one buyer notification task.
func (w *NotifyWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.NotifyBuyerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal notify payload: %v: %w", err, asynq.SkipRetry)
	}

	purchase, err := w.store.GetPurchase(ctx, payload.PurchaseID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Printf("[NotifyWorker] purchase %s no longer exists, dropping task", payload.PurchaseID)
			return nil
		}
		return err
	}
	if purchase.PayPalStatus != model.PurchaseCompleted || purchase.DownloadToken == "" {
		log.Printf("[NotifyWorker] purchase %s is not deliverable, dropping task", purchase.ID)
		return nil
	}

	beat, err := w.store.GetBeat(ctx, purchase.BeatID)
	if err != nil {
		return err
	}

	msg := &client.DownloadNotification{
		To:          purchase.BuyerEmail,
		BeatTitle:   beat.Title,
		Tier:        string(purchase.Tier),
		DownloadURL: fmt.Sprintf("%s/download?token=%s", w.publicURL, purchase.DownloadToken),
	}
	if purchase.TokenExpiresAt != nil {
		msg.ExpiresAt = *purchase.TokenExpiresAt
	}
	if err := w.mailer.SendDownloadLink(ctx, msg); err != nil {
		return fmt.Errorf("send download link: %w", err)
	}

	log.Printf("[NotifyWorker] notified %s about purchase %s", purchase.BuyerEmail, purchase.ID)
	return nil
}
