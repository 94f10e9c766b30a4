package service

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Background task types. Both run strictly after capture; nothing in the
// fulfillment pipeline itself goes through the queue.
const (
	TaskTypeNotifyBuyer = "purchase:notify"
	TaskTypeArchiveBeat = "beat:archive"
)

// NotifyBuyerPayload identifies the completed purchase to notify about.
type NotifyBuyerPayload struct {
	PurchaseID string `json:"purchaseId"`
}

// ArchiveBeatPayload identifies the sold beat to mirror into object
// storage.
type ArchiveBeatPayload struct {
	BeatID string `json:"beatId"`
}

// NewNotifyBuyerTask creates a buyer notification task.
func NewNotifyBuyerTask(purchaseID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotifyBuyerPayload{PurchaseID: purchaseID})
	if err != nil {
		return nil, fmt.Errorf("marshal notify payload: %w", err)
	}
	return asynq.NewTask(TaskTypeNotifyBuyer, payload, asynq.MaxRetry(5)), nil
}

// NewArchiveBeatTask creates a media archival task.
func NewArchiveBeatTask(beatID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ArchiveBeatPayload{BeatID: beatID})
	if err != nil {
		return nil, fmt.Errorf("marshal archive payload: %w", err)
	}
	return asynq.NewTask(TaskTypeArchiveBeat, payload, asynq.MaxRetry(3)), nil
}
