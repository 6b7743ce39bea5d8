package generation

import "time"

// Seed bounds passed to the upstream provider.
const (
	MinSeed = 1
	MaxSeed = 100000
)

// Record is the persisted trace of one successful image generation.
// Records are written once and never updated.
type Record struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	Seed      int       `json:"seed"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
