package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/chitchat-labs/backend/internal/blob"
	"github.com/chitchat-labs/backend/internal/core"
	"github.com/chitchat-labs/backend/internal/store"
)

type ChatStreamRequest struct {
	SessionID          string   `json:"sessionId,omitempty"`
	Input              string   `json:"input"`
	Mode               string   `json:"mode,omitempty"`
	Tone               string   `json:"tone,omitempty"`
	ContextResourceIDs []string `json:"contextResourceIds,omitempty"`
	SeedPrompt         string   `json:"seedPrompt,omitempty"`
	MediaURI           string   `json:"mediaUri,omitempty"`
}

// ChatStreamHandler conducts one streaming exchange over SSE. Errors before
// the first event surface as plain JSON error responses; once the stream is
// open the connection just ends.
func (h *APIHandler) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "Input text is required", "")
		return
	}

	chatReq := core.ChatRequest{
		UserID:             userID,
		SessionID:          req.SessionID,
		Input:              req.Input,
		Mode:               req.Mode,
		Tone:               req.Tone,
		ContextResourceIDs: req.ContextResourceIDs,
		SeedPrompt:         req.SeedPrompt,
	}

	if req.MediaURI != "" {
		media, err := h.blobStore.Describe(req.MediaURI)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "Unknown media URI", req.MediaURI)
				return
			}
			log.Printf("Error resolving media %s: %v", req.MediaURI, err)
			writeError(w, http.StatusInternalServerError, "Failed to resolve media", "")
			return
		}
		chatReq.Media = media
	}

	sink := newSSESink(w)
	err := h.chatService.StreamMessage(r.Context(), chatReq, sink)
	if err != nil {
		// StreamMessage only errors before the first byte reached the
		// client, so a plain error response is still possible here.
		switch {
		case errors.Is(err, store.ErrEmptyContent), errors.Is(err, store.ErrUnknownMode):
			writeError(w, http.StatusBadRequest, "Failed to process chat message", err.Error())
		case errors.Is(err, store.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found", "")
		case errors.Is(err, core.ErrForbidden):
			writeError(w, http.StatusForbidden, "Unauthorized access to this session", "")
		default:
			log.Printf("Error in chat stream for user %d: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "Failed to process chat message", err.Error())
		}
	}
}
