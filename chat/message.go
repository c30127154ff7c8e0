package chat

import "time"

// A Message represents a persisted chat message. The id is assigned by the
// durable store; messages are immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberMeta is the metadata tracked alongside a presence entry.
type MemberMeta struct {
	Ref      string    `json:"ref"`
	JoinedAt time.Time `json:"joined_at"`
}
