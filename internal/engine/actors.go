// Package engine routes every post mutation through a single actor so
// that concurrent toggles and comments against the same post never
// interleave within the process; durability and cross-process safety
// come from the store's conditional updates.
package engine

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"feedwall/internal/database"
	"feedwall/internal/models"
	"feedwall/internal/utils"
)

// Message types for post operations
type (
	CreatePostMsg struct {
		AuthorID       uuid.UUID
		AuthorUsername string
		Text           string
		Image          string
	}

	GetPostMsg struct {
		PostID uuid.UUID
	}

	GetRecentPostsMsg struct {
		Limit int
	}

	ToggleLikeMsg struct {
		PostID   uuid.UUID
		UserID   uuid.UUID
		Username string
	}

	AddCommentMsg struct {
		PostID         uuid.UUID
		AuthorID       uuid.UUID
		AuthorUsername string
		Text           string
	}

	DeletePostMsg struct {
		PostID uuid.UUID
		UserID uuid.UUID
	}
)

// LikesResult carries the full likes collection after a toggle.
type LikesResult struct {
	Likes []models.Like
}

// CommentsResult carries the full comments collection after an append.
type CommentsResult struct {
	Comments []models.Comment
}

// DeleteResult acknowledges a completed deletion.
type DeleteResult struct {
	PostID uuid.UUID
}

// How long a single store call may take before the actor gives up.
const storeTimeout = 5 * time.Second

// FeedActor owns all reads and writes against the post aggregate
// store. Its mailbox serializes mutations; every handler is a
// write-through to MongoDB.
type FeedActor struct {
	store   database.PostStore
	metrics *utils.MetricsCollector
}

// NewFeedActor creates a new FeedActor instance
func NewFeedActor(store database.PostStore, metrics *utils.MetricsCollector) actor.Actor {
	return &FeedActor{
		store:   store,
		metrics: metrics,
	}
}

// Receive handles incoming messages
func (a *FeedActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		logrus.Info("FeedActor started")

	case *actor.Stopping:
		logrus.Info("FeedActor stopping")

	case *actor.Stopped:
		logrus.Info("FeedActor stopped")

	case *actor.Restarting:
		logrus.Info("FeedActor restarting")

	case *CreatePostMsg:
		a.handleCreatePost(context, msg)
	case *GetPostMsg:
		a.handleGetPost(context, msg)
	case *GetRecentPostsMsg:
		a.handleGetRecentPosts(context, msg)
	case *ToggleLikeMsg:
		a.handleToggleLike(context, msg)
	case *AddCommentMsg:
		a.handleAddComment(context, msg)
	case *DeletePostMsg:
		a.handleDeletePost(context, msg)
	default:
		logrus.Warnf("FeedActor: unknown message type: %T", msg)
	}
}

func (a *FeedActor) handleCreatePost(actx actor.Context, msg *CreatePostMsg) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	newPost := &models.Post{
		ID:             uuid.New(),
		AuthorID:       msg.AuthorID,
		AuthorUsername: msg.AuthorUsername,
		Text:           msg.Text,
		Image:          msg.Image,
		Likes:          []models.Like{},
		Comments:       []models.Comment{},
		CreatedAt:      time.Now().UTC(),
	}

	if err := a.store.SavePost(ctx, newPost); err != nil {
		actx.Respond(utils.NewAppError(utils.ErrDatabase, "failed to save post", err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"post":   newPost.ID,
		"author": newPost.AuthorID,
	}).Info("created post")

	a.metrics.AddOperationLatency("create_post", time.Since(startTime))
	actx.Respond(newPost)
}

func (a *FeedActor) handleGetPost(actx actor.Context, msg *GetPostMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	post, err := a.store.GetPost(ctx, msg.PostID)
	if err != nil {
		actx.Respond(storeError(err))
		return
	}
	actx.Respond(post)
}

func (a *FeedActor) handleGetRecentPosts(actx actor.Context, msg *GetRecentPostsMsg) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	posts, err := a.store.GetRecentPosts(ctx, msg.Limit)
	if err != nil {
		actx.Respond(storeError(err))
		return
	}

	a.metrics.AddOperationLatency("list_recent", time.Since(startTime))
	actx.Respond(posts)
}

func (a *FeedActor) handleToggleLike(actx actor.Context, msg *ToggleLikeMsg) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	likes, err := a.store.ToggleLike(ctx, msg.PostID, msg.UserID, msg.Username)
	if err != nil {
		actx.Respond(storeError(err))
		return
	}

	a.metrics.AddOperationLatency("toggle_like", time.Since(startTime))
	actx.Respond(&LikesResult{Likes: likes})
}

func (a *FeedActor) handleAddComment(actx actor.Context, msg *AddCommentMsg) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	comment := models.Comment{
		ID:             uuid.New(),
		AuthorID:       msg.AuthorID,
		AuthorUsername: msg.AuthorUsername,
		Text:           msg.Text,
		CreatedAt:      time.Now().UTC(),
	}

	comments, err := a.store.AddComment(ctx, msg.PostID, comment)
	if err != nil {
		actx.Respond(storeError(err))
		return
	}

	a.metrics.AddOperationLatency("add_comment", time.Since(startTime))
	actx.Respond(&CommentsResult{Comments: comments})
}

func (a *FeedActor) handleDeletePost(actx actor.Context, msg *DeletePostMsg) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	post, err := a.store.GetPost(ctx, msg.PostID)
	if err != nil {
		actx.Respond(storeError(err))
		return
	}

	// Only the post's author may delete it.
	if post.AuthorID != msg.UserID {
		actx.Respond(utils.NewUnauthorizedError("only the author can delete this post"))
		return
	}

	if err := a.store.DeletePost(ctx, msg.PostID); err != nil {
		actx.Respond(storeError(err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"post": msg.PostID,
		"user": msg.UserID,
	}).Info("deleted post")

	a.metrics.AddOperationLatency("delete_post", time.Since(startTime))
	actx.Respond(&DeleteResult{PostID: msg.PostID})
}

// storeError keeps AppErrors intact and wraps anything else as a
// database failure so callers never see driver details.
func storeError(err error) *utils.AppError {
	if appErr, ok := err.(*utils.AppError); ok {
		return appErr
	}
	return utils.NewAppError(utils.ErrDatabase, "storage failure", err)
}

// Engine coordinates communication between actors
type Engine struct {
	feedActor *actor.PID
}

func NewEngine(system *actor.ActorSystem, store database.PostStore, metrics *utils.MetricsCollector) *Engine {
	context := system.Root

	feedProps := actor.PropsFromProducer(func() actor.Actor {
		return NewFeedActor(store, metrics)
	})
	feedPID := context.Spawn(feedProps)

	return &Engine{
		feedActor: feedPID,
	}
}

// GetFeedActor returns the PID of the feed actor
func (e *Engine) GetFeedActor() *actor.PID {
	return e.feedActor
}
