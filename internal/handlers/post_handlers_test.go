package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedwall/internal/database"
	"feedwall/internal/engine"
	"feedwall/internal/media"
	"feedwall/internal/middleware"
	"feedwall/internal/models"
	"feedwall/internal/utils"
)

// In-memory stores with the same contract as the MongoDB repositories.

type memPostStore struct {
	mu    sync.Mutex
	posts map[uuid.UUID]*models.Post
	order []uuid.UUID
}

var _ database.PostStore = (*memPostStore)(nil)

func newMemPostStore() *memPostStore {
	return &memPostStore{posts: make(map[uuid.UUID]*models.Post)}
}

func clonePost(p *models.Post) *models.Post {
	c := *p
	c.Likes = append([]models.Like{}, p.Likes...)
	c.Comments = append([]models.Comment{}, p.Comments...)
	return &c
}

func (s *memPostStore) SavePost(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.posts[post.ID]; !exists {
		s.order = append(s.order, post.ID)
	}
	s.posts[post.ID] = clonePost(post)
	return nil
}

func (s *memPostStore) GetPost(_ context.Context, id uuid.UUID) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[id]
	if !ok {
		return nil, utils.NewNotFoundError("Post not found")
	}
	return clonePost(post), nil
}

func (s *memPostStore) GetRecentPosts(_ context.Context, limit int) ([]*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := make([]*models.Post, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if p, ok := s.posts[s.order[i]]; ok {
			posts = append(posts, clonePost(p))
		}
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (s *memPostStore) ToggleLike(_ context.Context, id, userID uuid.UUID, username string) ([]models.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, utils.NewNotFoundError("Post not found")
	}
	if post.LikedBy(userID) {
		for i, like := range post.Likes {
			if like.UserID == userID {
				post.Likes = append(post.Likes[:i], post.Likes[i+1:]...)
				break
			}
		}
	} else {
		post.Likes = append([]models.Like{{UserID: userID, Username: username}}, post.Likes...)
	}
	return append([]models.Like{}, post.Likes...), nil
}

func (s *memPostStore) AddComment(_ context.Context, id uuid.UUID, comment models.Comment) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, utils.NewNotFoundError("Post not found")
	}
	post.Comments = append([]models.Comment{comment}, post.Comments...)
	return append([]models.Comment{}, post.Comments...), nil
}

func (s *memPostStore) DeletePost(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return utils.NewNotFoundError("Post not found")
	}
	delete(s.posts, id)
	return nil
}

func (s *memPostStore) CountPosts(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.posts)), nil
}

type memUserStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.User
	byEmail map[string]*models.User
}

var _ database.UserStore = (*memUserStore)(nil)

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byID:    make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (s *memUserStore) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.byID[u.ID] = &u
	s.byEmail[u.Email] = &u
	return nil
}

func (s *memUserStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "User not found", nil)
	}
	u := *user
	return &u, nil
}

func (s *memUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byEmail[email]
	if !ok {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "User not found", nil)
	}
	u := *user
	return &u, nil
}

// stubUploader stands in for the media host and records what reached it.
type stubUploader struct {
	mu      sync.Mutex
	baseURL string
	err     error
	uploads []string
}

var _ media.Uploader = (*stubUploader)(nil)

func (u *stubUploader) Upload(_ context.Context, _ io.Reader, filename, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, filename)
	return u.baseURL + filename, nil
}

func (u *stubUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string{}, u.uploads...)
}

func newTestServer(t *testing.T) (http.Handler, *Server) {
	return newTestServerWithMedia(t, nil)
}

func newTestServerWithMedia(t *testing.T, uploader media.Uploader) (http.Handler, *Server) {
	t.Helper()

	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	posts := newMemPostStore()
	eng := engine.NewEngine(system, posts, metrics)
	tokens := middleware.NewTokenIssuer("test-secret", time.Hour)

	server := NewServer(system, eng, posts, newMemUserStore(), uploader, tokens, metrics)
	return server.Routes(middleware.DefaultCORSConfig(nil)), server
}

type authedUser struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func registerUser(t *testing.T, router http.Handler, username string) authedUser {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "hunter22",
	})
	rec := doJSON(router, http.MethodPost, "/user/register", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user authedUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.NotEmpty(t, user.Token)
	return user
}

// doMultipartPost submits a post as a multipart form, with an optional
// image part.
func doMultipartPost(t *testing.T, router http.Handler, token, text, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if text != "" {
		require.NoError(t, form.WriteField("text", text))
	}
	if filename != "" {
		part, err := form.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/posts", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSON(router http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type postEnvelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Post    *models.Post `json:"post"`
}

type feedEnvelope struct {
	Success bool          `json:"success"`
	Posts   []models.Post `json:"posts"`
}

type likesEnvelope struct {
	Success bool          `json:"success"`
	Likes   []models.Like `json:"likes"`
}

type commentsEnvelope struct {
	Success  bool             `json:"success"`
	Comments []models.Comment `json:"comments"`
}

func TestEndToEndFlow(t *testing.T) {
	router, _ := newTestServer(t)

	alice := registerUser(t, router, "alice")
	bob := registerUser(t, router, "bob")

	// Alice creates a post
	body, _ := json.Marshal(map[string]string{"text": "hello"})
	rec := doJSON(router, http.MethodPost, "/posts", alice.Token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created postEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Success)
	require.NotNil(t, created.Post)
	assert.Equal(t, "hello", created.Post.Text)
	assert.Equal(t, "alice", created.Post.AuthorUsername)

	postID := created.Post.ID.String()

	// The feed lists it first
	rec = doJSON(router, http.MethodGet, "/posts", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var feed feedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.True(t, feed.Success)
	require.NotEmpty(t, feed.Posts)
	assert.Equal(t, "hello", feed.Posts[0].Text)

	// Bob likes it
	rec = doJSON(router, http.MethodPost, "/posts/"+postID+"/like", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var likes likesEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &likes))
	require.Len(t, likes.Likes, 1)
	assert.Equal(t, "bob", likes.Likes[0].Username)

	// Liking again removes the like
	rec = doJSON(router, http.MethodPost, "/posts/"+postID+"/like", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &likes))
	assert.Empty(t, likes.Likes)

	// Bob comments
	body, _ = json.Marshal(map[string]string{"text": "hi"})
	rec = doJSON(router, http.MethodPost, "/posts/"+postID+"/comment", bob.Token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var comments commentsEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comments))
	require.Len(t, comments.Comments, 1)
	assert.Equal(t, "hi", comments.Comments[0].Text)
	assert.Equal(t, "bob", comments.Comments[0].AuthorUsername)

	// Bob cannot delete Alice's post
	rec = doJSON(router, http.MethodDelete, "/posts/"+postID, bob.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Alice can
	rec = doJSON(router, http.MethodDelete, "/posts/"+postID, alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// And the feed no longer includes it
	rec = doJSON(router, http.MethodGet, "/posts", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Empty(t, feed.Posts)
}

func TestPostsRequireAuth(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(router, http.MethodGet, "/posts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/posts", "not-a-token", []byte(`{"text":"x"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePostValidation(t *testing.T) {
	router, _ := newTestServer(t)
	alice := registerUser(t, router, "alice")

	// No text and no image
	rec := doJSON(router, http.MethodPost, "/posts", alice.Token, []byte(`{"text":"   "}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Post must contain text or an image", resp.Message)
}

func TestCreatePostMultipartTextOnly(t *testing.T) {
	router, _ := newTestServer(t)
	alice := registerUser(t, router, "alice")

	rec := doMultipartPost(t, router, alice.Token, "from a form", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created postEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "from a form", created.Post.Text)
	assert.Empty(t, created.Post.Image)
}

func TestCreatePostWithImage(t *testing.T) {
	uploader := &stubUploader{baseURL: "https://media.example.com/"}
	router, _ := newTestServerWithMedia(t, uploader)
	alice := registerUser(t, router, "alice")

	rec := doMultipartPost(t, router, alice.Token, "look at this", "pic.png", []byte("png-bytes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created postEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "look at this", created.Post.Text)
	assert.True(t, strings.HasPrefix(created.Post.Image, "https://media.example.com/post_"))
	assert.True(t, strings.HasSuffix(created.Post.Image, ".png"))
	assert.Len(t, uploader.uploaded(), 1)
}

func TestCreatePostImageUploadFailure(t *testing.T) {
	uploader := &stubUploader{err: errors.New("bucket unreachable")}
	router, server := newTestServerWithMedia(t, uploader)
	alice := registerUser(t, router, "alice")

	rec := doMultipartPost(t, router, alice.Token, "look at this", "pic.png", []byte("png-bytes"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Server error", resp.Message)

	// A failed upload must not leave a post behind
	count, err := server.Posts.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreatePostRejectsBadImageExtension(t *testing.T) {
	uploader := &stubUploader{baseURL: "https://media.example.com/"}
	router, server := newTestServerWithMedia(t, uploader)
	alice := registerUser(t, router, "alice")

	rec := doMultipartPost(t, router, alice.Token, "notes", "notes.txt", []byte("plain text"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid image file extension", resp.Message)

	// The file never reached the media host and no post was created
	assert.Empty(t, uploader.uploaded())
	count, err := server.Posts.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreatePostImageWithoutMediaHost(t *testing.T) {
	router, server := newTestServer(t)
	alice := registerUser(t, router, "alice")

	rec := doMultipartPost(t, router, alice.Token, "look at this", "pic.jpg", []byte("jpg-bytes"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	count, err := server.Posts.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCommentLengthBounds(t *testing.T) {
	router, _ := newTestServer(t)
	alice := registerUser(t, router, "alice")

	body, _ := json.Marshal(map[string]string{"text": "bounded"})
	rec := doJSON(router, http.MethodPost, "/posts", alice.Token, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var created postEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	postID := created.Post.ID.String()

	// 501 characters is rejected
	body, _ = json.Marshal(map[string]string{"text": strings.Repeat("a", 501)})
	rec = doJSON(router, http.MethodPost, "/posts/"+postID+"/comment", alice.Token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 500 characters is fine
	body, _ = json.Marshal(map[string]string{"text": strings.Repeat("a", 500)})
	rec = doJSON(router, http.MethodPost, "/posts/"+postID+"/comment", alice.Token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Whitespace-only is empty
	body, _ = json.Marshal(map[string]string{"text": "   \n "})
	rec = doJSON(router, http.MethodPost, "/posts/"+postID+"/comment", alice.Token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMutationsOnMissingPost(t *testing.T) {
	router, _ := newTestServer(t)
	alice := registerUser(t, router, "alice")

	missing := uuid.New().String()

	rec := doJSON(router, http.MethodPost, "/posts/"+missing+"/like", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, _ := json.Marshal(map[string]string{"text": "hello?"})
	rec = doJSON(router, http.MethodPost, "/posts/"+missing+"/comment", alice.Token, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodDelete, "/posts/"+missing, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Ids that are not even uuids can never resolve
	rec = doJSON(router, http.MethodPost, "/posts/not-a-uuid/like", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	router, _ := newTestServer(t)

	alice := registerUser(t, router, "alice")
	require.NotEmpty(t, alice.ID)

	// Duplicate email
	body, _ := json.Marshal(map[string]string{
		"username": "alice2",
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	rec := doJSON(router, http.MethodPost, "/user/register", "", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var failure struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	assert.Equal(t, "User already exists", failure.Message)

	// Bad username
	body, _ = json.Marshal(map[string]string{
		"username": "a!",
		"email":    "short@example.com",
		"password": "hunter22",
	})
	rec = doJSON(router, http.MethodPost, "/user/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Login with the right password
	body, _ = json.Marshal(map[string]string{
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	rec = doJSON(router, http.MethodPost, "/user/login", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login authedUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, alice.ID, login.ID)
	assert.NotEmpty(t, login.Token)

	// And with the wrong one
	body, _ = json.Marshal(map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	rec = doJSON(router, http.MethodPost, "/user/login", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	assert.Equal(t, "Invalid credentials", failure.Message)
}

func TestListReturnsFixedWindow(t *testing.T) {
	router, _ := newTestServer(t)
	alice := registerUser(t, router, "alice")

	for i := 0; i < 60; i++ {
		body, _ := json.Marshal(map[string]string{"text": fmt.Sprintf("post %d", i)})
		rec := doJSON(router, http.MethodPost, "/posts", alice.Token, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(router, http.MethodGet, "/posts", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var feed feedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed.Posts, 50)
	assert.Equal(t, "post 59", feed.Posts[0].Text)
	for i := 1; i < len(feed.Posts); i++ {
		assert.False(t, feed.Posts[i-1].CreatedAt.Before(feed.Posts[i].CreatedAt))
	}
}

func TestHealthReportsPostCount(t *testing.T) {
	router, _ := newTestServer(t)
	alice := registerUser(t, router, "alice")

	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(map[string]string{"text": fmt.Sprintf("post %d", i)})
		rec := doJSON(router, http.MethodPost, "/posts", alice.Token, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status string `json:"status"`
		Posts  int64  `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.EqualValues(t, 2, health.Posts)
}
