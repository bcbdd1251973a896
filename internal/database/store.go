// Package database provides persistence for the post aggregate and
// the user directory.
package database

import (
	"context"

	"github.com/google/uuid"

	"feedwall/internal/models"
)

// PostStore provides methods for interacting with the posts collection.
// Every mutation is scoped to exactly one post document.
type PostStore interface {
	SavePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error)
	GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error)
	ToggleLike(ctx context.Context, id, userID uuid.UUID, username string) ([]models.Like, error)
	AddComment(ctx context.Context, id uuid.UUID, comment models.Comment) ([]models.Comment, error)
	DeletePost(ctx context.Context, id uuid.UUID) error
	CountPosts(ctx context.Context) (int64, error)
}

// UserStore provides methods for interacting with the users collection.
type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

var (
	_ PostStore = (*MongoDB)(nil)
	_ UserStore = (*MongoDB)(nil)
)
