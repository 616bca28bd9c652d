package model

import "time"

// Reply is one generated email reply, owned by the account that created it.
type Reply struct {
	ID        int64     `json:"id"`
	PublicID  string    `json:"public_id"`
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject"`
	Original  string    `json:"original"`
	Reply     string    `json:"reply"`
	Language  string    `json:"language"`
	Tone      string    `json:"tone"`
	CreatedAt time.Time `json:"created_at"`
}
