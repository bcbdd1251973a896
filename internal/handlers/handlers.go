package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"feedwall/internal/database"
	"feedwall/internal/engine"
	"feedwall/internal/media"
	"feedwall/internal/middleware"
	"feedwall/internal/utils"
)

// The feed is a fixed window: callers always get at most the 50 most
// recent posts.
const recentPostsLimit = 50

// Server holds all server dependencies, including the actor system and engine
type Server struct {
	System         *actor.ActorSystem
	Context        *actor.RootContext
	Engine         *engine.Engine
	Posts          database.PostStore
	Users          database.UserStore
	Media          media.Uploader
	Tokens         *middleware.TokenIssuer
	Metrics        *utils.MetricsCollector
	RequestTimeout time.Duration
}

// NewServer creates a new Server instance with the given components
func NewServer(
	system *actor.ActorSystem,
	eng *engine.Engine,
	posts database.PostStore,
	users database.UserStore,
	uploader media.Uploader,
	tokens *middleware.TokenIssuer,
	metrics *utils.MetricsCollector,
) *Server {
	return &Server{
		System:         system,
		Context:        system.Root,
		Engine:         eng,
		Posts:          posts,
		Users:          users,
		Media:          uploader,
		Tokens:         tokens,
		Metrics:        metrics,
		RequestTimeout: 5 * time.Second, // Default timeout for actor requests
	}
}

// Routes assembles the router: register/login and health are open,
// everything under /posts requires a bearer token.
func (s *Server) Routes(corsConfig *middleware.CORSConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware(corsConfig))

	r.Get("/health", s.HandleHealth())
	r.Post("/user/register", s.HandleUserRegistration())
	r.Post("/user/login", s.HandleUserLogin())

	r.Route("/posts", func(r chi.Router) {
		r.Use(s.Tokens.RequireAuth)
		r.Get("/", s.HandleListPosts())
		r.Post("/", s.HandleCreatePost())
		r.Post("/{id}/like", s.HandleToggleLike())
		r.Post("/{id}/comment", s.HandleAddComment())
		r.Delete("/{id}", s.HandleDeletePost())
	})

	return r
}

// HandleHealth handles health check requests. The post count doubles
// as a storage liveness probe: if the store is unreachable the check
// fails.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postCount, err := s.Posts.CountPosts(r.Context())
		if err != nil {
			logrus.WithError(err).Error("health check could not reach storage")
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		requests, errorCount, uptime := s.Metrics.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"server_time":    time.Now(),
			"uptime_seconds": int64(uptime.Seconds()),
			"posts":          postCount,
			"requests":       requests,
			"errors":         errorCount,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

// writeFailure emits the `{success: false, message}` envelope every
// failure response uses.
func (s *Server) writeFailure(w http.ResponseWriter, status int, message string) {
	s.Metrics.IncrementErrors()
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// writeAppError maps an application error to its HTTP status. Storage
// faults stay opaque to the client.
func (s *Server) writeAppError(w http.ResponseWriter, appErr *utils.AppError) {
	status := utils.AppErrorToHTTPStatus(appErr.Code)
	message := appErr.Message
	if status == http.StatusInternalServerError {
		logrus.WithError(appErr).Error("request failed")
		message = "Server error"
	}
	s.writeFailure(w, status, message)
}
