package model

import "time"

// Agent mirrors the producer profile owned by the external identity
// service. Only the columns the fulfillment pipeline reads live here:
// declared genres, default pricing, payout destination, reputation.
type Agent struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	Genres            []string  `json:"genres"`
	DefaultPrice      float64   `json:"defaultPrice"`
	DefaultStemsPrice float64   `json:"defaultStemsPrice"`
	PayoutEmail       string    `json:"payoutEmail,omitempty"`
	Reputation        int       `json:"reputation"`
	CreatedAt         time.Time `json:"createdAt"`
}

// HasGenre reports whether genre is in the agent's declared set.
func (a *Agent) HasGenre(genre string) bool {
	for _, g := range a.Genres {
		if g == genre {
			return true
		}
	}
	return false
}
