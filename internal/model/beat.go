package model

import "time"

// Beat is one generation artifact. A single provider request yields two
// sibling beats sharing a TaskID; each progresses independently through
// the lossless and stems sub-pipelines once generation completes.
type Beat struct {
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
	TaskID  string `json:"taskId"`

	Title    string  `json:"title"`
	Genre    string  `json:"genre"`
	Style    string  `json:"style,omitempty"`
	Tempo    int     `json:"tempo,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	ProviderTrackID string            `json:"providerTrackId,omitempty"`
	AudioURL        string            `json:"audioUrl,omitempty"`
	StreamURL       string            `json:"streamUrl,omitempty"`
	LosslessURL     string            `json:"losslessUrl,omitempty"`
	ImageURL        string            `json:"imageUrl,omitempty"`
	StemURLs        map[string]string `json:"stemUrls,omitempty"`

	// SilentStems lists stems whose byte size fell materially below the
	// sibling median; they stay in StemURLs but are hidden from sampling.
	SilentStems []string `json:"-"`

	// MirrorURLs maps a media kind ("audio", "lossless", stem names) to an
	// archived copy in object storage, populated after a sale.
	MirrorURLs map[string]string `json:"-"`

	Price      float64 `json:"price"`
	StemsPrice float64 `json:"stemsPrice"`
	Sold       bool    `json:"sold"`
	Deleted    bool    `json:"-"`

	Status         BeatStatus `json:"status"`
	LosslessStatus JobStatus  `json:"losslessStatus,omitempty"`
	StemsStatus    JobStatus  `json:"stemsStatus,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasAudio reports whether the beat carries a trusted primary reference.
// Media URLs are only trusted once the owning status is complete.
func (b *Beat) HasAudio() bool {
	return b.Status == BeatStatusComplete && b.AudioURL != ""
}

// HasLossless reports whether the lossless reference can be served.
func (b *Beat) HasLossless() bool {
	return b.LosslessStatus == JobStatusComplete && b.LosslessURL != ""
}

// HasStems reports whether the stem map can be served.
func (b *Beat) HasStems() bool {
	return b.StemsStatus == JobStatusComplete && len(b.StemURLs) > 0
}

// SampleStems returns the stem map with silent stems filtered out.
func (b *Beat) SampleStems() map[string]string {
	if len(b.StemURLs) == 0 {
		return nil
	}
	silent := make(map[string]bool, len(b.SilentStems))
	for _, name := range b.SilentStems {
		silent[name] = true
	}
	out := make(map[string]string, len(b.StemURLs))
	for name, url := range b.StemURLs {
		if !silent[name] {
			out[name] = url
		}
	}
	return out
}

// Summary is the beat shape echoed to the producing agent.
type Summary struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	Title      string     `json:"title"`
	Genre      string     `json:"genre"`
	Price      float64    `json:"price"`
	StemsPrice float64    `json:"stemsPrice"`
	Status     BeatStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Summarize converts a beat to its public summary.
func (b *Beat) Summarize() Summary {
	return Summary{
		ID:         b.ID,
		TaskID:     b.TaskID,
		Title:      b.Title,
		Genre:      b.Genre,
		Price:      b.Price,
		StemsPrice: b.StemsPrice,
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
	}
}
