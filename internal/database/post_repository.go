// internal/database/post_repository.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"feedwall/internal/models"
	"feedwall/internal/utils"
)

// How many times ToggleLike re-attempts when a concurrent toggle lands
// between its two conditional updates.
const maxToggleAttempts = 3

// LikeEntry represents one element of a post's embedded likes array.
type LikeEntry struct {
	UserID   string `bson:"userid"`
	Username string `bson:"username"`
}

// CommentDocument represents one element of a post's embedded comments array.
type CommentDocument struct {
	ID             string    `bson:"_id"`
	AuthorID       string    `bson:"authorid"`
	AuthorUsername string    `bson:"authorusername"`
	Text           string    `bson:"text"`
	CreatedAt      time.Time `bson:"createdat"`
}

// PostDocument represents the MongoDB schema for a post. Likes and
// comments are embedded so a single-document update covers every
// mutation the aggregate allows.
type PostDocument struct {
	ID             string            `bson:"_id"`
	AuthorID       string            `bson:"authorid"`
	AuthorUsername string            `bson:"authorusername"`
	Text           string            `bson:"text"`
	Image          string            `bson:"image"`
	Likes          []LikeEntry       `bson:"likes"`
	Comments       []CommentDocument `bson:"comments"`
	CreatedAt      time.Time         `bson:"createdat"`
}

func postToDocument(post *models.Post) *PostDocument {
	doc := &PostDocument{
		ID:             post.ID.String(),
		AuthorID:       post.AuthorID.String(),
		AuthorUsername: post.AuthorUsername,
		Text:           post.Text,
		Image:          post.Image,
		Likes:          make([]LikeEntry, 0, len(post.Likes)),
		Comments:       make([]CommentDocument, 0, len(post.Comments)),
		CreatedAt:      post.CreatedAt,
	}
	for _, like := range post.Likes {
		doc.Likes = append(doc.Likes, LikeEntry{
			UserID:   like.UserID.String(),
			Username: like.Username,
		})
	}
	for _, comment := range post.Comments {
		doc.Comments = append(doc.Comments, commentToDocument(comment))
	}
	return doc
}

func commentToDocument(comment models.Comment) CommentDocument {
	return CommentDocument{
		ID:             comment.ID.String(),
		AuthorID:       comment.AuthorID.String(),
		AuthorUsername: comment.AuthorUsername,
		Text:           comment.Text,
		CreatedAt:      comment.CreatedAt,
	}
}

func documentToPost(doc *PostDocument) (*models.Post, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid post ID: %v", err)
	}

	authorID, err := uuid.Parse(doc.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("invalid author ID: %v", err)
	}

	likes, err := documentToLikes(doc.Likes)
	if err != nil {
		return nil, err
	}

	comments, err := documentToComments(doc.Comments)
	if err != nil {
		return nil, err
	}

	return &models.Post{
		ID:             id,
		AuthorID:       authorID,
		AuthorUsername: doc.AuthorUsername,
		Text:           doc.Text,
		Image:          doc.Image,
		Likes:          likes,
		Comments:       comments,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// Empty collections come back as non-nil slices so they encode as []
// rather than null.
func documentToLikes(entries []LikeEntry) ([]models.Like, error) {
	likes := make([]models.Like, 0, len(entries))
	for _, entry := range entries {
		userID, err := uuid.Parse(entry.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid like user ID: %v", err)
		}
		likes = append(likes, models.Like{UserID: userID, Username: entry.Username})
	}
	return likes, nil
}

func documentToComments(docs []CommentDocument) ([]models.Comment, error) {
	comments := make([]models.Comment, 0, len(docs))
	for _, doc := range docs {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid comment ID: %v", err)
		}
		authorID, err := uuid.Parse(doc.AuthorID)
		if err != nil {
			return nil, fmt.Errorf("invalid comment author ID: %v", err)
		}
		comments = append(comments, models.Comment{
			ID:             id,
			AuthorID:       authorID,
			AuthorUsername: doc.AuthorUsername,
			Text:           doc.Text,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return comments, nil
}

// SavePost creates or updates a post in MongoDB.
func (m *MongoDB) SavePost(ctx context.Context, post *models.Post) error {
	doc := postToDocument(post)

	opts := options.Update().SetUpsert(true)
	filter := bson.M{"_id": post.ID.String()}
	update := bson.M{"$set": doc}

	_, err := m.Posts.UpdateOne(ctx, filter, update, opts)
	return err
}

// GetPost retrieves a post by its ID.
func (m *MongoDB) GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var doc PostDocument

	err := m.Posts.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewAppError(utils.ErrNotFound, "Post not found", err)
	}
	if err != nil {
		return nil, err
	}

	return documentToPost(&doc)
}

// GetRecentPosts retrieves the limit most-recently-created posts,
// newest first.
func (m *MongoDB) GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdat", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.Posts.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %v", err)
	}
	defer cursor.Close(ctx)

	posts := make([]*models.Post, 0, limit)
	for cursor.Next(ctx) {
		var doc PostDocument
		if err := cursor.Decode(&doc); err != nil {
			logrus.WithError(err).Warn("skipping undecodable post document")
			continue
		}

		post, err := documentToPost(&doc)
		if err != nil {
			logrus.WithError(err).Warn("skipping malformed post document")
			continue
		}
		posts = append(posts, post)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor iteration failed: %v", err)
	}

	return posts, nil
}

// ToggleLike atomically removes the user's like if present, otherwise
// prepends one. Each attempt is a pair of single-document conditional
// findAndModify calls: the $pull only matches when the like exists, and
// the $push is guarded by $ne so the user can never appear twice. Both
// return the likes as of the write itself, so the returned collection
// is the exact result of this toggle even under concurrent toggles.
// When neither update matches while the post still exists, a concurrent
// toggle got in between and the attempt is retried.
func (m *MongoDB) ToggleLike(ctx context.Context, id, userID uuid.UUID, username string) ([]models.Like, error) {
	postID := id.String()
	likerID := userID.String()

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"likes": 1})

	var doc struct {
		Likes []LikeEntry `bson:"likes"`
	}

	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		// Unlike: remove the existing like.
		err := m.Posts.FindOneAndUpdate(ctx,
			bson.M{"_id": postID, "likes.userid": likerID},
			bson.M{"$pull": bson.M{"likes": bson.M{"userid": likerID}}},
			opts,
		).Decode(&doc)
		if err == nil {
			return documentToLikes(doc.Likes)
		}
		if err != mongo.ErrNoDocuments {
			return nil, err
		}

		// Like: prepend, unless the user already appears.
		err = m.Posts.FindOneAndUpdate(ctx,
			bson.M{"_id": postID, "likes.userid": bson.M{"$ne": likerID}},
			bson.M{"$push": bson.M{"likes": bson.M{
				"$each":     []LikeEntry{{UserID: likerID, Username: username}},
				"$position": 0,
			}}},
			opts,
		).Decode(&doc)
		if err == nil {
			return documentToLikes(doc.Likes)
		}
		if err != mongo.ErrNoDocuments {
			return nil, err
		}

		count, err := m.Posts.CountDocuments(ctx, bson.M{"_id": postID})
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, utils.NewAppError(utils.ErrNotFound, "Post not found", nil)
		}

		logrus.WithFields(logrus.Fields{
			"post": postID,
			"user": likerID,
		}).Debug("like toggle raced, retrying")
	}

	return nil, utils.NewAppError(utils.ErrDatabase, "like toggle kept conflicting", nil)
}

// AddComment prepends the comment to the post's comments array and
// returns the resulting collection.
func (m *MongoDB) AddComment(ctx context.Context, id uuid.UUID, comment models.Comment) ([]models.Comment, error) {
	update := bson.M{"$push": bson.M{"comments": bson.M{
		"$each":     []CommentDocument{commentToDocument(comment)},
		"$position": 0,
	}}}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"comments": 1})

	var doc struct {
		Comments []CommentDocument `bson:"comments"`
	}
	err := m.Posts.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewAppError(utils.ErrNotFound, "Post not found", err)
	}
	if err != nil {
		return nil, err
	}

	return documentToComments(doc.Comments)
}

// CountPosts returns how many posts exist.
func (m *MongoDB) CountPosts(ctx context.Context) (int64, error) {
	return m.Posts.CountDocuments(ctx, bson.M{})
}

// DeletePost removes the post document and, with it, every embedded
// like and comment.
func (m *MongoDB) DeletePost(ctx context.Context, id uuid.UUID) error {
	res, err := m.Posts.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return utils.NewAppError(utils.ErrNotFound, "Post not found", nil)
	}
	return nil
}
