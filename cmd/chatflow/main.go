package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/config"
	"github.com/mkatche/chatflow/internal/db"
	"github.com/mkatche/chatflow/internal/history"
	"github.com/mkatche/chatflow/internal/histsync"
	"github.com/mkatche/chatflow/internal/httpapi"
	"github.com/mkatche/chatflow/internal/httpapi/handlers"
	"github.com/mkatche/chatflow/internal/logger"
	"github.com/mkatche/chatflow/internal/session"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}

	store := history.NewStore(gdb, log)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("automigrate failed", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = cache.Close() }()
	}
	browser := history.NewBrowser(store, cache, log)

	keeper, err := config.LoadKeeper(cfg.SecretKeyFile)
	if err != nil {
		log.Fatal("load secret key failed", zap.Error(err))
	}
	creds, err := config.LoadCredentials(keeper, cfg.CredentialsFile)
	if err != nil {
		log.Fatal("load credentials failed", zap.Error(err))
	}
	source := config.NewEnvSource(creds)

	var sync *histsync.Publisher
	if cfg.RabbitURL != "" {
		sync, err = histsync.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit connect failed", zap.Error(err))
		}
		defer func() { _ = sync.Close() }()
	}

	params := session.Params{
		Store:   store,
		Browser: browser,
		Source:  source,
		Log:     log,
	}
	if sync != nil {
		// Replicate each committed exchange to peers, assistant first to
		// match the local insert order so peer ids sort the same way.
		// Best effort; a broker outage never fails the user-visible turn.
		params.OnCommit = func(user, assistant history.Turn) {
			ctx := context.Background()
			for _, t := range []history.Turn{assistant, user} {
				if err := sync.PublishAdd(ctx, t); err != nil {
					log.Warn("history replication failed", zap.Error(err))
					return
				}
			}
		}
	}
	sessions := session.NewManager(params)

	if cfg.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandler(sessions, browser, sync, log)
	router := httpapi.NewRouter(h, cfg, log)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
