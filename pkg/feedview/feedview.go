// Package feedview is the client-side view over a fetched post
// sequence. Mutation results from the server (a full likes or
// comments collection, a created post, a deletion) are merged
// surgically into the held sequence by post id; nothing here talks to
// the network or re-fetches.
package feedview

import (
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"feedwall/internal/models"
)

// SortOrder selects how Sorted arranges the feed.
type SortOrder string

const (
	// SortRecent orders by createdAt descending.
	SortRecent SortOrder = "recent"
	// SortMostLiked orders by likes count descending.
	SortMostLiked SortOrder = "likes"
	// SortMostCommented orders by comments count descending.
	SortMostCommented SortOrder = "comments"
)

// Feed holds the last-fetched post sequence. Every merge replaces the
// backing slice rather than mutating shared post values, so slices
// handed out earlier stay valid.
type Feed struct {
	posts []models.Post
}

// New builds a feed from a fetched post sequence.
func New(posts []models.Post) *Feed {
	f := &Feed{}
	f.Replace(posts)
	return f
}

// Replace swaps in a freshly fetched sequence.
func (f *Feed) Replace(posts []models.Post) {
	f.posts = make([]models.Post, len(posts))
	copy(f.posts, posts)
}

// Posts returns a copy of the current sequence in fetch order.
func (f *Feed) Posts() []models.Post {
	out := make([]models.Post, len(f.posts))
	copy(out, f.posts)
	return out
}

// Len returns the number of posts currently held.
func (f *Feed) Len() int {
	return len(f.posts)
}

// Prepend puts a just-created post at the front, without a re-fetch.
func (f *Feed) Prepend(post models.Post) {
	posts := make([]models.Post, 0, len(f.posts)+1)
	posts = append(posts, post)
	posts = append(posts, f.posts...)
	f.posts = posts
}

// SetLikes replaces only the likes collection of the matching post,
// leaving everything else untouched. Returns false when the post is
// not in the feed.
func (f *Feed) SetLikes(postID uuid.UUID, likes []models.Like) bool {
	return f.update(postID, func(p models.Post) models.Post {
		p.Likes = likes
		return p
	})
}

// SetComments replaces only the comments collection of the matching post.
func (f *Feed) SetComments(postID uuid.UUID, comments []models.Comment) bool {
	return f.update(postID, func(p models.Post) models.Post {
		p.Comments = comments
		return p
	})
}

// Remove drops the post with the given id. Returns false when the
// post is not in the feed.
func (f *Feed) Remove(postID uuid.UUID) bool {
	before := len(f.posts)
	f.posts = lo.Filter(f.posts, func(p models.Post, _ int) bool {
		return p.ID != postID
	})
	return len(f.posts) != before
}

func (f *Feed) update(postID uuid.UUID, apply func(models.Post) models.Post) bool {
	_, idx, found := lo.FindIndexOf(f.posts, func(p models.Post) bool {
		return p.ID == postID
	})
	if !found {
		return false
	}

	posts := make([]models.Post, len(f.posts))
	copy(posts, f.posts)
	posts[idx] = apply(posts[idx])
	f.posts = posts
	return true
}

// Sorted returns the feed arranged by the given order. The sort is
// stable, so posts that compare equal keep their current relative
// order and re-applying an order never reshuffles them.
func (f *Feed) Sorted(order SortOrder) []models.Post {
	posts := f.Posts()

	switch order {
	case SortMostLiked:
		sort.SliceStable(posts, func(i, j int) bool {
			return len(posts[i].Likes) > len(posts[j].Likes)
		})
	case SortMostCommented:
		sort.SliceStable(posts, func(i, j int) bool {
			return len(posts[i].Comments) > len(posts[j].Comments)
		})
	case SortRecent:
		fallthrough
	default:
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		})
	}

	return posts
}
