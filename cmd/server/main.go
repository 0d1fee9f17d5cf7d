package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/auth"
	"github.com/concertlabs/concert/internal/config"
	"github.com/concertlabs/concert/internal/engine/external"
	"github.com/concertlabs/concert/internal/handler"
	"github.com/concertlabs/concert/internal/llm"
	"github.com/concertlabs/concert/internal/llm/anthropic"
	"github.com/concertlabs/concert/internal/logger"
	"github.com/concertlabs/concert/internal/middleware"
	redisrepo "github.com/concertlabs/concert/internal/repository/redis"
	"github.com/concertlabs/concert/internal/repository/sqlite"
	"github.com/concertlabs/concert/internal/session"
	"github.com/concertlabs/concert/internal/vault"
	"github.com/concertlabs/concert/internal/webhook"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("databasePath", cfg.DatabasePath).Str("model", cfg.Model).Msg("Config loaded")

	// Vault: unlock and materialize provider credentials into the
	// environment before anything reads them.
	adminKey := os.Getenv("ADMIN_API_KEY")
	if password := cfg.VaultPassword(); password != "" {
		vlt, err := vault.Open(cfg.VaultPath, password)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.VaultPath).Msg("Vault unlock failed")
		}
		if err := vlt.Materialize(map[string]string{
			"anthropic_api_key": "ANTHROPIC_API_KEY",
		}); err != nil {
			log.Fatal().Err(err).Msg("Vault materialize failed")
		}
		if key, err := vlt.Get("admin_api_key"); err == nil {
			adminKey = string(key)
		}
		log.Info().Str("path", cfg.VaultPath).Msg("Vault unlocked")
	} else {
		log.Warn().Msg("No vault password set, using environment credentials")
	}
	if adminKey == "" {
		log.Fatal().Msg("No admin API key available (vault admin_api_key or ADMIN_API_KEY)")
	}

	// Rules engine
	eng, err := external.New(cfg.EnginePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Engine setup failed")
	}

	// Snapshot store, with an optional Redis cache in front.
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Database open failed")
	}
	defer store.Close()

	var snapStore session.SnapshotStore = store
	if cfg.RedisURL != "" {
		cache, err := redisrepo.NewCache(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer cache.Close()
		snapStore = redisrepo.NewCachingStore(store, cache)
		log.Info().Msg("Snapshot cache enabled")
	}

	// Webhooks
	whCfg := webhook.DefaultConfig()
	whCfg.BaseDelay = cfg.WebhookBaseDelay
	webhookMgr := webhook.InitDefault(whCfg)
	defer webhook.TeardownDefault()

	// LLM driver
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("ANTHROPIC_API_KEY not set (vault anthropic_api_key or environment)")
	}
	completer, err := anthropic.NewFromAPIKey(apiKey, cfg.MaxTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("Anthropic client setup failed")
	}
	driver := llm.NewDriver(completer, llm.RetryConfig{
		MaxRetries:    cfg.LLMMaxRetries,
		BaseDelay:     cfg.LLMBaseDelay,
		FallbackModel: cfg.FallbackModel,
	})

	// Sessions: every session entering the registry gets webhook dispatch
	// and an agent runner.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := session.NewRegistry(eng, snapStore)
	var (
		runnersMu sync.Mutex
		runners   []*session.Runner
	)
	registry.SetOnRegister(func(s *session.Session, recovered bool) {
		s.OnEvent(webhook.Listener(webhookMgr))
		if !recovered {
			webhookMgr.Dispatch(webhook.EventGameCreated, map[string]any{
				"game_id": s.ID(),
				"name":    s.Name(),
			})
		}
		runner := session.NewRunner(s, driver, session.RunnerConfig{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, nil)
		runner.Start(ctx)
		runnersMu.Lock()
		runners = append(runners, runner)
		runnersMu.Unlock()
	})

	if n, err := registry.RecoverSessions(ctx); err != nil {
		log.Error().Err(err).Msg("Session recovery failed (non-fatal)")
	} else if n > 0 {
		log.Info().Int("sessions", n).Msg("Sessions recovered")
	}

	// Auth and handlers
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	authHandler := handler.NewAuthHandler(jwtMgr, adminKey)
	gameHandler := handler.NewGameHandler(registry)
	webhookHandler := handler.NewWebhookHandler(webhookMgr)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("POST /auth/token", authHandler.IssueToken)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("POST /games", gameHandler.CreateGame)
	api.HandleFunc("GET /games", gameHandler.ListGames)
	api.HandleFunc("GET /games/{id}", gameHandler.GetGame)
	api.HandleFunc("DELETE /games/{id}", gameHandler.DeleteGame)
	api.HandleFunc("GET /games/{id}/state", gameHandler.GetState)
	api.HandleFunc("GET /games/{id}/events", gameHandler.GetEvents)
	api.HandleFunc("POST /games/{id}/start", gameHandler.StartGame)
	api.HandleFunc("POST /games/{id}/pause", gameHandler.PauseGame)
	api.HandleFunc("POST /games/{id}/resume", gameHandler.ResumeGame)
	api.HandleFunc("POST /games/{id}/abandon", gameHandler.AbandonGame)
	api.HandleFunc("PATCH /games/{id}/config", gameHandler.UpdateConfig)
	api.HandleFunc("POST /games/{id}/deadline/force", gameHandler.ForceDeadline)
	api.HandleFunc("POST /games/{id}/agents", gameHandler.RegisterAgent)
	api.HandleFunc("POST /games/{id}/orders", gameHandler.SubmitOrders)
	api.HandleFunc("GET /games/{id}/messages", gameHandler.GetMessages)
	api.HandleFunc("POST /games/{id}/messages", gameHandler.SendMessage)
	api.HandleFunc("POST /webhooks", webhookHandler.CreateWebhook)
	api.HandleFunc("GET /webhooks", webhookHandler.ListWebhooks)
	api.HandleFunc("GET /webhooks/stats", webhookHandler.GetStats)
	api.HandleFunc("GET /webhooks/deliveries", webhookHandler.ListDeliveries)
	api.HandleFunc("GET /webhooks/dead-letters", webhookHandler.ListDeadLetters)
	api.HandleFunc("DELETE /webhooks/dead-letters", webhookHandler.ClearDeadLetters)
	api.HandleFunc("POST /webhooks/dead-letters/{id}/retry", webhookHandler.RetryDeadLetter)
	api.HandleFunc("GET /webhooks/{id}", webhookHandler.GetWebhook)
	api.HandleFunc("DELETE /webhooks/{id}", webhookHandler.DeleteWebhook)
	api.HandleFunc("POST /webhooks/{id}/activate", webhookHandler.ActivateWebhook)
	api.HandleFunc("POST /webhooks/{id}/deactivate", webhookHandler.DeactivateWebhook)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	root := middleware.Chain(mux, middleware.Logger, middleware.CORS("*"), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()
	runnersMu.Lock()
	for _, r := range runners {
		r.Stop()
	}
	runnersMu.Unlock()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
