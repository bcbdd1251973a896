package models

import (
	"time"

	"github.com/google/uuid"
)

// Like records a single user's like on a post. The username is a
// snapshot taken when the like was added and is not kept in sync with
// later username changes.
type Like struct {
	UserID   uuid.UUID `json:"user"`
	Username string    `json:"username"`
}

// Post is the aggregate root. Likes and comments are owned by the post
// and live inside its document; both collections are ordered
// most-recent-first.
type Post struct {
	ID             uuid.UUID `json:"id"`
	AuthorID       uuid.UUID `json:"user"`
	AuthorUsername string    `json:"username"`
	Text           string    `json:"text"`
	Image          string    `json:"image"` // empty string means no image
	Likes          []Like    `json:"likes"`
	Comments       []Comment `json:"comments"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LikedBy reports whether userID already appears in the likes collection.
func (p *Post) LikedBy(userID uuid.UUID) bool {
	for _, l := range p.Likes {
		if l.UserID == userID {
			return true
		}
	}
	return false
}
