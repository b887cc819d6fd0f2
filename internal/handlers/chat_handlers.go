package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"support-chat/internal/auth"
	"support-chat/internal/database"
	"support-chat/internal/services"
	"support-chat/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type ChatHandlers struct {
	chatService *services.ChatService
	authService *auth.Service
}

func NewChatHandlers(chatService *services.ChatService, authService *auth.Service) *ChatHandlers {
	return &ChatHandlers{
		chatService: chatService,
		authService: authService,
	}
}

// OpenSupportChat returns the caller's active support chat, creating one on
// first visit. Creation tells the admin group via new_chat_created.
func (h *ChatHandlers) OpenSupportChat(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chat, created, err := h.chatService.OpenSupportChat(r.Context(), identity.UserID)
	if err != nil {
		logger.Error("Open support chat error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(chat)
}

// ListChats serves the staff dashboard list. Idle empty chats are swept
// before the listing.
func (h *ChatHandlers) ListChats(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil || !identity.IsStaff {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := h.chatService.ActiveChats(r.Context())
	if err != nil {
		logger.Error("List chats error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chats)
}

func (h *ChatHandlers) CloseChat(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil || !identity.IsStaff {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid chat ID", http.StatusBadRequest)
		return
	}

	if err := h.chatService.CloseChat(r.Context(), chatID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "chat not found", http.StatusNotFound)
			return
		}
		logger.Error("Close chat error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success", "message": "Chat closed."})
}
