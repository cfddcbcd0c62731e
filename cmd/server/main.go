package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/backend"
	"github.com/ieraasyl/PsoriScan/internal/database"
	"github.com/ieraasyl/PsoriScan/internal/handlers"
	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/ieraasyl/PsoriScan/internal/middleware"
	"github.com/ieraasyl/PsoriScan/internal/services"
	"github.com/ieraasyl/PsoriScan/pkg/cache"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Server.Environment == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Backend).
		Str("identity", cfg.Identity.Mode).
		Msg("Starting PsoriScan companion")

	kv, redisDB, err := openStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer kv.Close()

	sessions := services.NewSessionManager(newIdentityProvider(cfg), kv, &cfg.Identity)
	store := services.NewAssessmentStore(cache.NewCache(kv))
	sessions.OnSessionChange(store.SetOwner)

	// Restore the anonymous draft, then let Start hand over to the stored
	// user's answers when a session survives.
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 15*time.Second)
	store.RestoreOnLaunch(bootCtx)
	if err := sessions.Start(bootCtx); err != nil {
		log.Warn().Err(err).Msg("Starting signed out")
	}
	bootCancel()

	bridge := services.NewResultBridge(&cfg.Bridge)
	runCtx, stopRun := context.WithCancel(context.Background())
	go bridge.Run(runCtx, time.Minute)

	backendClient := backend.NewClient(&cfg.Backend, sessions, nil)
	submitter := services.NewSubmitter(store, backendClient, bridge)

	rt := &handlers.Router{
		Auth:           handlers.NewAuthHandler(sessions),
		Assessment:     handlers.NewAssessmentHandler(store),
		Results:        handlers.NewResultsHandler(submitter, bridge, backendClient),
		Health:         handlers.NewHealthHandler(map[string]handlers.Pinger{cfg.Storage.Backend: kv}),
		Sessions:       sessions,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Backend.Timeout + 5*time.Second,
	}
	if redisDB != nil {
		rt.RateLimiter = middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowDuration)
	} else {
		log.Info().Msg("Rate limiting disabled without Redis storage")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Backend.UploadTimeout + 15*time.Second,
		WriteTimeout:      cfg.Backend.UploadTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	stopRun()

	// Drain background writes before the storage handle closes.
	if err := store.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Assessment writes not flushed")
	}
	if err := sessions.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Credential writes not flushed")
	}
	store.Close()
	sessions.Close()

	log.Info().Msg("Server stopped gracefully")
}

// openStorage connects the configured key-value backend and wraps it with
// metrics. The Redis handle is returned separately for rate limiting.
func openStorage(cfg *config.Config) (database.KV, *database.RedisDB, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		db, err := database.NewRedisDB(&cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return database.Instrument(db, config.StorageRedis), db, nil
	default:
		db, err := database.NewSQLiteDB(&cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return database.Instrument(db, config.StorageSQLite), nil, nil
	}
}

func newIdentityProvider(cfg *config.Config) identity.Provider {
	if cfg.Identity.Mode == config.IdentityHosted {
		return identity.NewHostedProvider(&cfg.Identity, &http.Client{Timeout: 30 * time.Second})
	}

	log.Warn().Msg("Using the local identity provider, confirmation codes are logged")
	return identity.NewLocalProvider(cfg.Identity.LocalSecret, cfg.Identity.ClientID, cfg.Identity.TokenExpiry)
}
