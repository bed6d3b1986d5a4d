package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"taskboard/api"
	"taskboard/board"
	"taskboard/config"
	"taskboard/notify"
	"taskboard/storage"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	var rc *redis.Client
	if cfg.Redis.URL != "" {
		rc = redis.NewClient(storage.ParseRedisOptions(cfg.Redis.URL))
		defer rc.Close()
	}

	kv, err := openKV(cfg, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	publishers, err := openPublishers(cfg, rc)
	if err != nil {
		log.Fatalf("notify: %v", err)
	}
	var opts []board.Option
	var dispatcher *notify.Dispatcher
	if len(publishers) > 0 {
		dispatcher = notify.NewDispatcher(notify.Config{
			Workers:        cfg.Notify.Workers,
			Buffer:         cfg.Notify.Buffer,
			PublishTimeout: cfg.Notify.PublishTimeout,
			HandoffTimeout: cfg.Notify.HandoffTimeout,
		}, logger, publishers...)
		defer dispatcher.Close()
		opts = append(opts, board.WithListener(dispatcher))
	}

	broker := api.NewBroker()
	registry := board.NewRegistry(kv, cfg.BoardKey, logger, opts...)
	registry.SetCapacity(cfg.MaxBoards)
	registry.OnOpen(func(s *board.Session) { s.Store.Subscribe(broker) })

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	var deduper api.Deduper = api.NewMemoryDeduper(cfg.Requests.IdempotencyTTL)
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.Requests.IdempotencyTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		ExposeHeaders: []string{echo.HeaderXRequestID},
	}))
	e.Use(api.RequestIDMiddleware(), api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Boards:  registry,
		Auth:    auth,
		Deduper: deduper,
		Broker:  broker,
		Health: func(ctx context.Context) error {
			_, _, err := kv.Get(ctx, cfg.BoardKey)
			return err
		},
		Logger:       logger,
		MaxBodyBytes: cfg.Requests.MaxBodyBytes,
	})

	listenAddr := cfg.ListenAddr
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.WithFields(log.Fields{"addr": listenAddr, "backend": cfg.Storage.Backend}).Info("task board listening")
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
}

// openKV builds the configured storage backend. A table backend is fronted
// by the Redis cache when Redis is configured.
func openKV(cfg *config.Config, rc *redis.Client) (storage.KV, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		fs := afero.NewOsFs()
		if err := fs.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", cfg.Storage.Dir, err)
		}
		return storage.NewFile(fs, cfg.Storage.Dir), nil
	case config.BackendRedis:
		return storage.NewRedis(rc), nil
	case config.BackendTable:
		table, err := storage.NewTable(cfg.Table.ConnectionString, cfg.Table.Name)
		if err != nil {
			return nil, err
		}
		if rc != nil {
			return storage.NewCache(table, rc, cfg.Redis.CacheTTL), nil
		}
		return table, nil
	default:
		return storage.NewMemory(), nil
	}
}

func openPublishers(cfg *config.Config, rc *redis.Client) ([]notify.Publisher, error) {
	var pubs []notify.Publisher
	if cfg.Notify.Channel != "" {
		pubs = append(pubs, notify.NewRedisPublisher(rc, cfg.Notify.Channel))
	}
	if cfg.Notify.Queue != "" {
		qp, err := notify.NewQueuePublisher(cfg.Table.ConnectionString, cfg.Notify.Queue)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, qp)
	}
	return pubs, nil
}

func newAuth(cfg *config.Config) (api.Authenticator, error) {
	switch cfg.Auth.Mode {
	case config.AuthHS256:
		a := api.NewSharedSecretAuth([]byte(cfg.Auth.Secret))
		a.Audience = cfg.Auth.Audience
		return a, nil
	case config.AuthJWKS:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewJWKSAuth(jwks, cfg.Auth.Audience, "https://"+cfg.Auth.Domain+"/", cfg.Auth.JWKSCacheTTL), nil
	default:
		return api.Anonymous{}, nil
	}
}
