package models

import (
	"time"

	"github.com/google/uuid"
)

// Comment belongs to exactly one post and has no independent
// lifecycle: comments are only ever prepended, never edited or
// removed on their own.
type Comment struct {
	ID             uuid.UUID `json:"id"`
	AuthorID       uuid.UUID `json:"user"`
	AuthorUsername string    `json:"username"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}
