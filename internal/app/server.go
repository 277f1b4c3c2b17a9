package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/kbforge/internal/api/middlewares"
	"github.com/markdave123-py/kbforge/internal/config"
	"github.com/markdave123-py/kbforge/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds and wires all routes. Without a JWT secret the chatbot
// routes are open, which is only meant for local sandboxes.
func NewServer(cfg *config.Config, logger *zap.Logger, docs *services.DocumentService, chat *services.ChatService, ret handlers.Retriever, emb handlers.EmbeddingInfo) *Server {
	docHandler := handlers.NewDocumentHandler(docs, logger.Named("http"))
	searchHandler := handlers.NewRetrievalHandler(ret, emb, cfg.RetrievalThreshold, cfg.RetrievalLimit, logger.Named("http"))
	chatHandler := handlers.NewChatHandler(chat, logger.Named("http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", searchHandler.Health)

	// API routes
	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Get("/embeddings/dimensions", searchHandler.Dimensions)

		// chatbot-scoped endpoints
		api.Route("/chatbots/{chatbotID}", func(bot chi.Router) {
			if cfg.JWTSecret != "" {
				bot.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
				bot.Use(appMiddleware.ChatbotScope)
			}
			bot.Post("/documents", docHandler.UploadDocument)
			bot.Get("/documents", docHandler.GetDocuments)
			bot.Get("/documents/{documentID}", docHandler.GetDocument)
			bot.Get("/documents/{documentID}/chunks", docHandler.GetChunks)
			bot.Delete("/documents/{documentID}", docHandler.DeleteDocument)
			bot.Post("/retrieve", searchHandler.Retrieve)
			bot.Post("/chat", chatHandler.Ask)
		})
	})

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; chatbot routes are unauthenticated")
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
