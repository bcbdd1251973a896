package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"feedwall/internal/engine"
	"feedwall/internal/middleware"
	"feedwall/internal/models"
	"feedwall/internal/utils"
)

// CommentRequest represents a request to comment on a post
type CommentRequest struct {
	Text string `json:"text"`
}

// CreatePostRequest is the JSON body of a text-only post. Posts with
// an image arrive as multipart forms instead.
type CreatePostRequest struct {
	Text string `json:"text"`
}

const maxCommentLength = 500

const maxUploadSize = 10 << 20 // 10 MiB

var allowedImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".webp": true,
}

// HandleListPosts returns the most recent posts, newest first
func (s *Server) HandleListPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		future := s.Context.RequestFuture(
			s.Engine.GetFeedActor(),
			&engine.GetRecentPostsMsg{Limit: recentPostsLimit},
			s.RequestTimeout,
		)

		result, err := future.Result()
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		if appErr, ok := result.(*utils.AppError); ok {
			s.writeAppError(w, appErr)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"posts":   result.([]*models.Post),
		})
	}
}

// HandleCreatePost creates a new post from either a JSON body or a
// multipart form carrying an image
func (s *Server) HandleCreatePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			s.writeFailure(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		text, imageURL, appErr := s.extractPostContent(r)
		if appErr != nil {
			s.writeAppError(w, appErr)
			return
		}

		// Snapshot the author's display name at creation time.
		user, err := s.Users.GetUser(r.Context(), userID)
		if err != nil {
			s.writeAppError(w, storeError(err))
			return
		}

		future := s.Context.RequestFuture(s.Engine.GetFeedActor(), &engine.CreatePostMsg{
			AuthorID:       userID,
			AuthorUsername: user.Username,
			Text:           text,
			Image:          imageURL,
		}, s.RequestTimeout)

		result, err := future.Result()
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		if appErr, ok := result.(*utils.AppError); ok {
			s.writeAppError(w, appErr)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"post":    result.(*models.Post),
		})
	}
}

// extractPostContent pulls text and an optional uploaded image out of
// the request. The image is uploaded to the media host before the post
// exists; an upload failure aborts creation so no post ever carries a
// dead image reference.
func (s *Server) extractPostContent(r *http.Request) (text, imageURL string, appErr *utils.AppError) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return "", "", utils.NewInvalidInputError("Invalid form data")
		}

		text = strings.TrimSpace(r.FormValue("text"))

		file, header, err := r.FormFile("image")
		if err == http.ErrMissingFile {
			if text == "" {
				return "", "", utils.NewInvalidInputError("Post must contain text or an image")
			}
			return text, "", nil
		}
		if err != nil {
			return "", "", utils.NewInvalidInputError("Invalid image upload")
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedImageExtensions[ext] {
			return "", "", utils.NewInvalidInputError("Invalid image file extension")
		}

		if s.Media == nil {
			return "", "", utils.NewAppError(utils.ErrUpstream, "image uploads are not available", nil)
		}

		filename := fmt.Sprintf("post_%s%s", uuid.New().String(), ext)
		url, err := s.Media.Upload(r.Context(), file, filename, header.Header.Get("Content-Type"))
		if err != nil {
			return "", "", utils.NewAppError(utils.ErrUpstream, "image upload failed", err)
		}
		return text, url, nil
	}

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", "", utils.NewInvalidInputError("Invalid request")
	}

	text = strings.TrimSpace(req.Text)
	if text == "" {
		return "", "", utils.NewInvalidInputError("Post must contain text or an image")
	}
	return text, "", nil
}

// HandleToggleLike adds the caller's like to a post, or removes it if
// it is already there
func (s *Server) HandleToggleLike() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			s.writeFailure(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		postID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			// An unparsable id can never resolve to a post.
			s.writeFailure(w, http.StatusNotFound, "Post not found")
			return
		}

		user, err := s.Users.GetUser(r.Context(), userID)
		if err != nil {
			s.writeAppError(w, storeError(err))
			return
		}

		future := s.Context.RequestFuture(s.Engine.GetFeedActor(), &engine.ToggleLikeMsg{
			PostID:   postID,
			UserID:   userID,
			Username: user.Username,
		}, s.RequestTimeout)

		result, err := future.Result()
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		if appErr, ok := result.(*utils.AppError); ok {
			s.writeAppError(w, appErr)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"likes":   result.(*engine.LikesResult).Likes,
		})
	}
}

// HandleAddComment appends a comment to the front of a post's comments
func (s *Server) HandleAddComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			s.writeFailure(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		postID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			s.writeFailure(w, http.StatusNotFound, "Post not found")
			return
		}

		var req CommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeFailure(w, http.StatusBadRequest, "Invalid request")
			return
		}

		text := strings.TrimSpace(req.Text)
		if text == "" {
			s.writeFailure(w, http.StatusBadRequest, "Comment cannot be empty")
			return
		}
		if utf8.RuneCountInString(text) > maxCommentLength {
			s.writeFailure(w, http.StatusBadRequest, "Comment must not exceed 500 characters")
			return
		}

		user, err := s.Users.GetUser(r.Context(), userID)
		if err != nil {
			s.writeAppError(w, storeError(err))
			return
		}

		future := s.Context.RequestFuture(s.Engine.GetFeedActor(), &engine.AddCommentMsg{
			PostID:         postID,
			AuthorID:       userID,
			AuthorUsername: user.Username,
			Text:           text,
		}, s.RequestTimeout)

		result, err := future.Result()
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		if appErr, ok := result.(*utils.AppError); ok {
			s.writeAppError(w, appErr)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"comments": result.(*engine.CommentsResult).Comments,
		})
	}
}

// HandleDeletePost removes a post, but only for its author
func (s *Server) HandleDeletePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			s.writeFailure(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		postID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			s.writeFailure(w, http.StatusNotFound, "Post not found")
			return
		}

		future := s.Context.RequestFuture(s.Engine.GetFeedActor(), &engine.DeletePostMsg{
			PostID: postID,
			UserID: userID,
		}, s.RequestTimeout)

		result, err := future.Result()
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		if appErr, ok := result.(*utils.AppError); ok {
			if appErr.Code == utils.ErrUnauthorized {
				s.writeFailure(w, http.StatusUnauthorized, "User not authorized")
				return
			}
			s.writeAppError(w, appErr)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Post removed",
		})
	}
}

// storeError keeps AppErrors intact and hides anything else behind a
// generic database failure.
func storeError(err error) *utils.AppError {
	if appErr, ok := err.(*utils.AppError); ok {
		return appErr
	}
	return utils.NewAppError(utils.ErrDatabase, "storage failure", err)
}
