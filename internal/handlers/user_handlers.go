package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"feedwall/internal/models"
	"feedwall/internal/utils"
)

// RegisterUserRequest represents a request to register a new user
type RegisterUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a request to log in a user
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a response to a register or login request
type LoginResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validateRegistration(req *RegisterUserRequest) string {
	if !usernamePattern.MatchString(req.Username) {
		return "Username must be 3-20 characters of letters, numbers, and underscores"
	}
	if !emailPattern.MatchString(req.Email) {
		return "Please enter a valid email address"
	}
	if len(req.Password) < 6 || len(req.Password) > 50 {
		return "Password must be between 6 and 50 characters"
	}
	return ""
}

// HandleUserRegistration handles requests to register a new user
func (s *Server) HandleUserRegistration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		var req RegisterUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeFailure(w, http.StatusBadRequest, "Invalid request")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))

		if reason := validateRegistration(&req); reason != "" {
			s.writeFailure(w, http.StatusBadRequest, reason)
			return
		}

		if _, err := s.Users.GetUserByEmail(r.Context(), req.Email); err == nil {
			s.writeAppError(w, utils.NewAppError(utils.ErrUserAlreadyExists, "User already exists", nil))
			return
		} else if !utils.IsErrorCode(err, utils.ErrUserNotFound) {
			s.writeAppError(w, storeError(err))
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		now := time.Now().UTC()
		user := &models.User{
			ID:             uuid.New(),
			Username:       req.Username,
			Email:          req.Email,
			HashedPassword: string(hashed),
			CreatedAt:      now,
			LastActive:     now,
		}

		if err := s.Users.SaveUser(r.Context(), user); err != nil {
			s.writeAppError(w, storeError(err))
			return
		}

		token, err := s.Tokens.GenerateToken(user.ID)
		if err != nil {
			logrus.WithError(err).Error("failed to generate token")
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		logrus.WithField("user", user.ID).Info("registered user")

		writeJSON(w, http.StatusOK, LoginResponse{
			Success:  true,
			Token:    token,
			UserID:   user.ID.String(),
			Username: user.Username,
		})
	}
}

// HandleUserLogin handles requests to log in a user
func (s *Server) HandleUserLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeFailure(w, http.StatusBadRequest, "Invalid request")
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))

		user, err := s.Users.GetUserByEmail(r.Context(), email)
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrUserNotFound) {
				// Same response as a wrong password, so callers cannot
				// probe which emails are registered.
				s.writeAppError(w, utils.NewAppError(utils.ErrInvalidCredentials, "Invalid credentials", nil))
				return
			}
			s.writeAppError(w, storeError(err))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
			s.writeAppError(w, utils.NewAppError(utils.ErrInvalidCredentials, "Invalid credentials", nil))
			return
		}

		token, err := s.Tokens.GenerateToken(user.ID)
		if err != nil {
			logrus.WithError(err).Error("failed to generate token")
			s.writeFailure(w, http.StatusInternalServerError, "Server error")
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{
			Success:  true,
			Token:    token,
			UserID:   user.ID.String(),
			Username: user.Username,
		})
	}
}
