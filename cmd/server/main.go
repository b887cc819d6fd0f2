package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support-chat/internal/auth"
	"support-chat/internal/broker"
	"support-chat/internal/config"
	"support-chat/internal/database"
	"support-chat/internal/handlers"
	"support-chat/internal/services"
	"support-chat/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// The broker is built once here and handed to everything that needs to
	// publish or subscribe. No ambient global lookup anywhere.
	groupBroker := broker.New()

	// Initialize services
	authService := auth.NewService(db, cfg)
	chatService := services.NewChatService(db, groupBroker, cfg.Chat.IdleTTL)
	accountService := services.NewAccountService(db)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	chatHandlers := handlers.NewChatHandlers(chatService, authService)
	accountHandlers := handlers.NewAccountHandlers(accountService, authService)
	wsHandlers := handlers.NewWebSocketHandlers(authService, chatService, db, groupBroker)

	// Setup routes
	router := setupRouter(authHandlers, chatHandlers, accountHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background reaper, stopped on shutdown
	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	go chatService.RunReaper(reaperCtx, cfg.Chat.ReapInterval)

	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 Support chat endpoint: ws://localhost%s/ws/support/{chatID}", cfg.Server.Port)
	logger.Info("📡 Staff dashboard endpoint: ws://localhost%s/ws/admin/dashboard", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	cancelReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}

func setupRouter(authHandlers *handlers.AuthHandlers, chatHandlers *handlers.ChatHandlers, accountHandlers *handlers.AccountHandlers, wsHandlers *handlers.WebSocketHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	// Auth routes
	r.Post("/register", authHandlers.Register)
	r.Post("/login", authHandlers.Login)

	// Support chat routes
	r.Post("/support/chat", chatHandlers.OpenSupportChat)
	r.Get("/admin/chats", chatHandlers.ListChats)
	r.Post("/admin/chats/{chatID}/close", chatHandlers.CloseChat)

	// Account routes
	r.Route("/account", func(r chi.Router) {
		r.Get("/", accountHandlers.GetAccount)
		r.Get("/history", accountHandlers.History)
		r.Post("/deposit", accountHandlers.Deposit)
		r.Post("/withdraw", accountHandlers.Withdraw)
		r.Post("/refund/{orderID}", accountHandlers.Refund)
	})

	// Payment collaborator routes
	r.Post("/payments/verify", accountHandlers.VerifyCard)
	r.Post("/payments/history", accountHandlers.ImportOrders)

	// WebSocket routes
	r.Get("/ws/support/{chatID}", wsHandlers.HandleSupportChat)
	r.Get("/ws/admin/dashboard", wsHandlers.HandleAdminDashboard)

	return r
}
