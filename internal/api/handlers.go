package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chitchat-labs/backend/internal/auth"
	"github.com/chitchat-labs/backend/internal/blob"
	"github.com/chitchat-labs/backend/internal/core"
	"github.com/chitchat-labs/backend/internal/store"
)

// ResourceStore creates resource records for uploads.
type ResourceStore interface {
	CreateResource(ownerID int64, fileName string) (*store.Resource, error)
}

type APIHandler struct {
	chatService *core.ChatService
	blobStore   *blob.FSStore
	resources   ResourceStore
}

func NewAPIHandler(cs *core.ChatService, bs *blob.FSStore, rs ResourceStore) *APIHandler {
	return &APIHandler{chatService: cs, blobStore: bs, resources: rs}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "details": details})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required", "")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", "")
			return
		}

		user, err := h.chatService.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", externalUserID, err)
			writeError(w, http.StatusInternalServerError, "Failed to process user identity", "")
			return
		}

		if user == nil {
			writeError(w, http.StatusUnauthorized, "User not found", "")
			return
		}

		ctx := context.WithValue(r.Context(), "userID", user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "User ID and password are required", "")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "Failed to process password", "")
		return
	}

	user, err := h.chatService.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "Failed to create user", "")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "User ID and password are required", "")
		return
	}

	user, err := h.chatService.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token", "")
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	sessions, err := h.chatService.ListSessions(userID)
	if err != nil {
		log.Printf("Error listing sessions for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat history", "")
		return
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	json.NewEncoder(w).Encode(sessions)
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	MediaSize int64     `json:"media_size,omitempty"`
}

func (h *APIHandler) SessionMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatService.SessionMessages(sessionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found", "")
		case errors.Is(err, core.ErrForbidden):
			writeError(w, http.StatusForbidden, "Unauthorized access to this session", "")
		default:
			log.Printf("Error fetching messages for session %s: %v", sessionID, err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch session messages", "")
		}
		return
	}

	formatted := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		resp := messageResponse{
			ID:        msg.ID,
			Role:      msg.Sender,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		}
		if msg.Media != nil {
			resp.MediaURL = msg.Media.URL
			resp.MediaType = msg.Media.Type
			resp.MediaSize = msg.Media.Size
		}
		formatted = append(formatted, resp)
	}
	json.NewEncoder(w).Encode(formatted)
}

func (h *APIHandler) GreetingHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	topic := r.URL.Query().Get("topic")

	greeting, cached, err := h.chatService.Greeting(r.Context(), userID, topic)
	if err != nil {
		log.Printf("Error generating greeting for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to generate greeting", "")
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"greeting": greeting, "cached": cached})
}

const maxUploadBytes = 32 << 20 // 32 MiB

func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart request", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "A file field is required", err.Error())
		return
	}
	defer file.Close()

	resource, err := h.resources.CreateResource(userID, header.Filename)
	if err != nil {
		log.Printf("Error creating resource for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to register upload", "")
		return
	}

	media, err := h.blobStore.Save(userID, resource.ID, header.Filename, file)
	if err != nil {
		log.Printf("Error storing upload for resource %s: %v", resource.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to store upload", "")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"resource_id": resource.ID,
		"url":         media.URL,
		"media_type":  media.Type,
		"media_size":  media.Size,
	})
}
