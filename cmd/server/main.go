package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"rightsgate/internal/config"
	"rightsgate/internal/database"
	"rightsgate/internal/gate"
	"rightsgate/internal/handlers"
	"rightsgate/internal/notify"
	"rightsgate/internal/pow"
	"rightsgate/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.NewDB(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Not fatal: the limiter resolves a dead store per endpoint policy.
		logger.Warn("redis unreachable at startup, limiter will apply failure policies", zap.Error(err))
	}
	cancelPing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counters := ratelimit.NewRedisStore(rdb, "ratelimit")
	fallback := ratelimit.NewMemoryStore()
	fallback.StartJanitor(ctx, time.Duration(cfg.FallbackSweepIntervalMins)*time.Minute)

	limiter := ratelimit.New(counters, fallback,
		time.Duration(cfg.CounterStoreTimeoutMS)*time.Millisecond, logger)

	powSvc := pow.NewService(db, map[pow.Resource]int{
		pow.ResourceReportSubmission: cfg.PoWReportDifficulty,
		pow.ResourceVoting:           cfg.PoWVoteDifficulty,
	}, cfg.PoWNonceBytes, time.Duration(cfg.ChallengeExpiryMinutes)*time.Minute, logger)

	admission := gate.New(powSvc, limiter, logger)

	dispatcher := notify.NewDispatcher(cfg.NotifyBufferSize, func(ev notify.Event) {
		logger.Info("write accepted",
			zap.String("kind", ev.Kind),
			zap.String("resource", ev.Resource),
			zap.String("key", ev.Key),
		)
	}, logger)
	dispatcher.Start(ctx)

	recorder := &acceptRecorder{log: logger}

	handler := handlers.NewHandler(cfg, powSvc, admission, recorder, recorder, dispatcher,
		db.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		logger)

	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pow/challenge", handler.ChallengeHandler).Methods("POST")
	api.HandleFunc("/reports", handler.SubmitReportHandler).Methods("POST")
	api.HandleFunc("/reports/{id}/vote", handler.CastVoteHandler).Methods("POST")
	api.HandleFunc("/health", handler.HealthHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.APICORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      c.Handler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go startCleanupRoutine(ctx, db, cfg, logger)

	logger.Info("admission gate starting",
		zap.String("addr", server.Addr),
		zap.String("db", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)),
		zap.String("redis", cfg.RedisAddr),
		zap.Int("reportDifficulty", cfg.PoWReportDifficulty),
		zap.Int("voteDifficulty", cfg.PoWVoteDifficulty),
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.DebugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func startCleanupRoutine(ctx context.Context, db *database.DB, cfg *config.Config, logger *zap.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.ChallengeCleanupIntervalMins) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupExpiredChallenges(ctx); err != nil {
				logger.Warn("failed to cleanup expired challenges", zap.Error(err))
			}
			if err := db.CleanupOldAttempts(ctx, time.Duration(cfg.AttemptRetentionHours)*time.Hour); err != nil {
				logger.Warn("failed to cleanup old solution attempts", zap.Error(err))
			}
		}
	}
}

// acceptRecorder stands in for the report/vote persistence layer, which
// lives outside this service. It acknowledges accepted writes with a
// receipt id.
type acceptRecorder struct {
	log *zap.Logger
}

func (rec *acceptRecorder) SubmitReport(_ context.Context, in handlers.SubmitReportInput) (string, error) {
	id := uuid.NewString()
	rec.log.Info("report forwarded",
		zap.String("reportId", id),
		zap.String("key", in.Identity.Key("reports")),
	)
	return id, nil
}

func (rec *acceptRecorder) CastVote(_ context.Context, in handlers.CastVoteInput) error {
	rec.log.Info("vote forwarded",
		zap.String("reportId", in.ReportID),
		zap.Int("value", in.Value),
		zap.String("key", in.Identity.Key("votes")),
	)
	return nil
}
