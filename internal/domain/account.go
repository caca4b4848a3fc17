package domain

import (
	"time"
)

// Account is one provider login whose history is collected. Curl stores the
// raw cURL command the user pasted; the header map parsed out of it lives in
// the credentials table and is what the collectors actually send.
type Account struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Alias     string    `json:"alias"`
	Curl      string    `json:"curl,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
