package handlers

import (
	"net/http"
	"strconv"

	"support-chat/internal/auth"
	"support-chat/internal/broker"
	"support-chat/internal/database"
	"support-chat/internal/services"
	"support-chat/internal/ws"
	"support-chat/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	chatService *services.ChatService
	db          database.Database
	broker      *broker.Broker
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, chatService *services.ChatService, db database.Database, b *broker.Broker) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		chatService: chatService,
		db:          db,
		broker:      b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleSupportChat upgrades /ws/support/{chatID} for an end user's chat
// session. Unauthenticated callers are refused before the upgrade with a
// bare status: no body, no frame, no hint of whether the chat exists.
func (h *WebSocketHandlers) HandleSupportChat(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identityFromRequest(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	ws.NewSession(conn, h.db, h.broker, *identity, chatID).Start()
}

// HandleAdminDashboard upgrades /ws/admin/dashboard for a staff aggregator
// view. A non-staff caller is refused exactly like an unauthenticated one.
func (h *WebSocketHandlers) HandleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identityFromRequest(r)
	if err != nil || !identity.IsStaff {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	ws.NewAggregator(conn, h.chatService, h.broker).Start()
}

func (h *WebSocketHandlers) identityFromRequest(r *http.Request) (*auth.Identity, error) {
	// Browsers cannot set headers on websocket handshakes, so the token
	// rides in the query string.
	return h.authService.IdentityFromToken(r.URL.Query().Get("token"))
}
