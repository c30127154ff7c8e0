package postgres

import (
	"time"

	"github.com/queendesk/lounge/chat"
)

// A message represents a chat message row.
type message struct {
	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Author    string    `bun:",notnull"`
	Body      string    `bun:"body,notnull"`
	CreatedAt time.Time `bun:",nullzero,default:now()"`
}

func (m message) ChatMessage() chat.Message {
	return chat.Message{
		ID:        m.ID,
		Author:    m.Author,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}
