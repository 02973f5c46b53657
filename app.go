package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gogotex/gogotex/backend/auth-service/handlers"
	"github.com/gogotex/gogotex/backend/auth-service/internal/auth"
	"github.com/gogotex/gogotex/backend/auth-service/internal/cache"
	"github.com/gogotex/gogotex/backend/auth-service/internal/config"
	"github.com/gogotex/gogotex/backend/auth-service/internal/database"
	"github.com/gogotex/gogotex/backend/auth-service/internal/keyset"
	"github.com/gogotex/gogotex/backend/auth-service/internal/password"
	"github.com/gogotex/gogotex/backend/auth-service/internal/providers"
	"github.com/gogotex/gogotex/backend/auth-service/internal/revocation"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/middleware"
)

// app owns the wired auth core and the connections it depends on.
type app struct {
	cfg     *config.Config
	auth    *auth.Service
	redis   *redis.Client
	db      *sql.DB
	mongo   *mongo.Client
	checks  map[string]func(context.Context) error
	started time.Time
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, checks: map[string]func(context.Context) error{}, started: time.Now()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// Denylist and key-set documents live in Redis when configured so that
	// every replica sees the same revocations.
	var store cache.Cache
	if addr := cfg.Redis.Addr(); addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		rc := cache.NewRedisCache(a.redis, cfg.Redis.Prefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", addr, err)
		}
		a.checks["redis"] = rc.Ping
		store = rc
	} else {
		logger.Warnf("REDIS_HOST not set: revocations are kept in process memory")
		store = cache.NewMemoryCache(nil)
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	tm, err := tokens.NewManager(tokens.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTokenTTL,
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}
	usvc := users.NewService(repo, hasher)
	dl := revocation.New(store, nil)

	var ps []providers.Provider
	if cfg.Auth.LocalEnabled {
		local, err := providers.NewLocal(tm, usvc, dl)
		if err != nil {
			return nil, err
		}
		ps = append(ps, local)
	}
	if cfg.External.Enabled {
		ext, err := newExternal(ctx, cfg.External, tm, usvc, store, dl)
		if err != nil {
			return nil, err
		}
		ps = append(ps, ext)
	}
	reg, err := providers.NewRegistry(ps...)
	if err != nil {
		return nil, err
	}

	a.auth = auth.NewService(reg, tm, dl, usvc, auth.Options{
		DefaultProvider: cfg.Auth.DefaultProvider,
		Timeout:         cfg.Auth.OperationTimeout,
	})
	ok = true
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (users.Repository, error) {
	cfg := a.cfg
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := database.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Storage.ConnectAttempts)
		if err != nil {
			return nil, err
		}
		a.db = db
		if err := database.Migrate(ctx, db); err != nil {
			return nil, err
		}
		a.checks["postgres"] = db.PingContext
		return users.NewPostgresRepository(db), nil
	case "mongo":
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.Storage.ConnectAttempts)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		repo := users.NewMongoRepository(client.Database(cfg.MongoDB.Database))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		a.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		return repo, nil
	default:
		logger.Warnf("STORAGE_BACKEND=%s: users are not persisted", cfg.Storage.Backend)
		return users.NewMemoryRepository(), nil
	}
}

// newExternal wires the external provider to its key set. Without an explicit
// JWKS URL the issuer's discovery document supplies one.
func newExternal(ctx context.Context, cfg config.ExternalConfig, tm *tokens.Manager, usvc *users.Service, store cache.Cache, dl *revocation.Denylist) (*providers.External, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	url := cfg.JWKSURL
	if url == "" {
		discovered, err := keyset.Discover(ctx, cfg.Issuer, client)
		if err != nil {
			return nil, err
		}
		url = discovered
	}
	keys, err := keyset.New(keyset.Config{
		Name:        cfg.Name,
		URL:         url,
		TTL:         cfg.KeySetTTL,
		HTTPTimeout: cfg.HTTPTimeout,
	}, store, client)
	if err != nil {
		return nil, err
	}
	logger.Infof("external provider %q uses key set %s", cfg.Name, keys.URL())
	return providers.NewExternal(providers.ExternalConfig{
		Name:                 cfg.Name,
		Issuer:               cfg.Issuer,
		Audience:             cfg.AppID,
		Algorithm:            cfg.Algorithm,
		ClockSkew:            cfg.ClockSkew,
		LinkByEmail:          cfg.LinkByEmail,
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
	}, tm, usvc, keys, dl)
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Lightweight CORS middleware: set common headers and respond to OPTIONS.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Auth-Provider")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	var limit []gin.HandlerFunc
	rl := a.cfg.RateLimit
	if rl.Enabled {
		if rl.UseRedis && a.redis != nil {
			limit = append(limit, middleware.RedisRateLimitMiddleware(a.redis, rl.RPS, rl.Burst, time.Duration(rl.WindowSeconds)*time.Second))
		} else {
			limit = append(limit, middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", a.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	h := handlers.NewAuthHandler(a.auth)
	h.Register(&r.RouterGroup, limit...)
	h.RegisterMe(&r.RouterGroup, limit...)
	return r
}

func (a *app) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ready := true
	deps := gin.H{}
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			ready = false
			deps[name] = gin.H{"ok": false, "error": err.Error()}
			continue
		}
		deps[name] = gin.H{"ok": true}
	}
	status, label := http.StatusOK, "ready"
	if !ready {
		status, label = http.StatusServiceUnavailable, "not_ready"
	}
	c.JSON(status, gin.H{"status": label, "deps": deps, "providers": a.auth.Providers(), "uptime": time.Since(a.started).String()})
}

// Close releases every connection opened by newApp.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.mongo.Disconnect(ctx)
	}
}
