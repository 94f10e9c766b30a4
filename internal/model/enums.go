package model

// Beat pipeline status
type BeatStatus string

const (
	BeatStatusGenerating BeatStatus = "generating"
	BeatStatusComplete   BeatStatus = "complete"
	BeatStatusFailed     BeatStatus = "failed"
)

// JobStatus tracks the lossless and stems sub-pipelines. The empty value
// means the job was never dispatched.
type JobStatus string

const (
	JobStatusNone       JobStatus = ""
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// Purchase tier
type PurchaseTier string

const (
	TierTrack PurchaseTier = "track"
	TierStems PurchaseTier = "stems"
)

// PurchaseStatus mirrors the PayPal order lifecycle as we track it.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
	PurchaseExpired   PurchaseStatus = "expired"
)

// Callback stages as normalized from provider webhook payloads.
type CallbackStage string

const (
	StageFirst    CallbackStage = "first"    // streaming preview available
	StageComplete CallbackStage = "complete" // final audio available
	StageError    CallbackStage = "error"
	StageUnknown  CallbackStage = "unknown"
)
