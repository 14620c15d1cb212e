package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_portal/internal/config"
	"llm_portal/internal/logging"
	"llm_portal/internal/middleware"
	"llm_portal/internal/models"
	"llm_portal/internal/providers"
	"llm_portal/internal/queue"
	"llm_portal/internal/quota"
	"llm_portal/internal/ratelimit"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	DB          *storage.DB
	Redis       *redis.Client
	QuotaStore  quota.Store
	Enforcer    *quota.Enforcer
	UsageWorker *storage.UsageQueueWorker
	Archive     *logging.UsageArchive

	Auth        *AuthHandler
	Chat        *ChatHandler
	Usage       *UsageHandler
	Quotas      *AdminQuotasHandler
	Departments *AdminDepartmentsHandler
	Configs     *AdminLLMConfigsHandler
	Users       *AdminUsersHandler

	logger    *utils.Logger
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid quota timezone %q: %w", cfg.Quota.Timezone, err)
	}

	encryption, err := storage.NewEncryptionFromHex(cfg.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QuotaCacheSize:  cfg.Database.QuotaCacheSize,
		QuotaCacheTTL:   cfg.Database.QuotaCacheTTL,
		ConfigCacheSize: cfg.Database.ConfigCacheSize,
		ConfigCacheTTL:  cfg.Database.ConfigCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	userRepo := storage.NewUserRepository(db)
	departmentRepo := storage.NewDepartmentRepository(db)
	configRepo := storage.NewLLMConfigRepository(db)
	quotaRepo := storage.NewQuotaRepository(db, loc)
	usageRepo := storage.NewUsageRepository(db)

	deps := &Dependencies{
		DB:     db,
		logger: utils.NewLogger("httpapi"),
	}

	// Optional S3 archive for ledger batches.
	if cfg.Archive.Enabled {
		writer, err := logging.NewS3Writer(context.Background(),
			cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.S3Prefix, cfg.Archive.PodName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize usage archive: %w", err)
		}
		deps.Archive = logging.NewUsageArchive(writer,
			cfg.Archive.BufferSize, cfg.Archive.FlushSize, cfg.Archive.FlushInterval)
	}

	// Usage ledger writes go through a queue so a slow insert never sits on
	// the chat path.
	useRedis := cfg.Redis.Address != ""
	queueCfg := queue.DefaultConfig("usage")
	queueCfg.UseRedis = useRedis

	var usageQueue queue.Queue
	var usageDLQ queue.DeadLetterQueue
	if useRedis {
		queueCfg.RedisAddr = cfg.Redis.Address
		queueCfg.RedisPassword = cfg.Redis.Password
		queueCfg.RedisDB = cfg.Redis.DB
		usageQueue, err = queue.NewRedisQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		usageDLQ, err = queue.NewRedisDeadLetterQueue(queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		usageQueue = queue.NewMemoryQueue(queueCfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}

	var archiver storage.Archiver
	if deps.Archive != nil {
		archiver = deps.Archive
	}
	deps.UsageWorker = storage.NewUsageQueueWorker(usageQueue, usageDLQ, usageRepo, archiver, queueCfg)
	deps.UsageWorker.Start(context.Background())

	// QUOTA_STORE=memory keeps enforcement counters in process, for dev
	// setups without durable quota state. Everything else stays in Postgres.
	if cfg.Quota.Store == "memory" {
		deps.QuotaStore = storage.NewMemoryQuotaStore(loc)
	} else {
		deps.QuotaStore = quotaRepo
	}

	deps.Enforcer = quota.NewEnforcer(deps.QuotaStore, deps.UsageWorker, quota.Options{
		FailOpen: cfg.Quota.FailOpen,
		Location: loc,
	})

	// Lazy resets keep counters correct on their own; the sweep just folds
	// rollovers eagerly so idle quotas read fresh in the admin views. The
	// same loop prunes expired refresh tokens.
	var sweeper *storage.QuotaRepository
	if cfg.Quota.SweepEnabled && cfg.Quota.Store != "memory" {
		sweeper = quotaRepo
	}
	deps.startMaintenance(sweeper, userRepo, cfg.Quota.SweepEvery)

	// Redis-backed rate limiting on the credential endpoints.
	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.RateLimit.Enabled && cfg.Redis.Address != "" {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		limiter = ratelimit.NewRateLimiter(deps.Redis)
	}

	factory := func(c *models.LLMConfiguration, apiKey string) (providers.Provider, error) {
		return providers.New(c, apiKey, cfg.Provider.RequestTimeout)
	}

	deps.Auth = NewAuthHandler(userRepo, cfg.JWTSecret)
	deps.Chat = NewChatHandler(configRepo, deps.QuotaStore, deps.Enforcer, encryption, factory)
	deps.Usage = NewUsageHandler(usageRepo, loc)
	deps.Quotas = NewAdminQuotasHandler(quotaRepo)
	deps.Departments = NewAdminDepartmentsHandler(departmentRepo)
	deps.Configs = NewAdminLLMConfigsHandler(configRepo, encryption)
	deps.Users = NewAdminUsersHandler(userRepo)

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg, limiter)

	return mux, deps, nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config, limiter ratelimit.Limiter) {
	// Credential endpoints are rate limited per client IP; everything else
	// is behind a bearer token already.
	loginLimit := ratelimit.Middleware(limiter, cfg.RateLimit.LoginPerMin)
	refreshLimit := ratelimit.Middleware(limiter, cfg.RateLimit.RefreshPerMin)

	mux.Handle("/auth/login", loginLimit(http.HandlerFunc(deps.Auth.Login)))
	mux.Handle("/auth/refresh", refreshLimit(http.HandlerFunc(deps.Auth.Refresh)))

	userJWT := middleware.JWTMiddleware(cfg.JWTSecret)
	mux.Handle("/auth/logout", userJWT(http.HandlerFunc(deps.Auth.Logout)))
	mux.Handle("/auth/me", userJWT(http.HandlerFunc(deps.Auth.Me)))

	mux.Handle("/api/chat", userJWT(http.HandlerFunc(deps.Chat.HandleChat)))
	mux.Handle("/api/models", userJWT(http.HandlerFunc(deps.Chat.HandleModels)))
	mux.Handle("/api/quota", userJWT(http.HandlerFunc(deps.Chat.HandleQuotaStatus)))
	mux.Handle("/api/usage", userJWT(http.HandlerFunc(deps.Usage.MyDepartment)))

	// Admin endpoints: viewers can read, mutations check the admin role in
	// the handlers' middleware below.
	adminJWT := middleware.JWTMiddleware(cfg.JWTSecret, "admin")
	viewerJWT := middleware.JWTMiddleware(cfg.JWTSecret, "viewer")

	mux.Handle("/admin/quotas", adminMethodSplit(viewerJWT, adminJWT, deps.Quotas.Collection))
	mux.Handle("/admin/quotas/", adminMethodSplit(viewerJWT, adminJWT, deps.Quotas.Item))
	mux.Handle("/admin/departments", adminMethodSplit(viewerJWT, adminJWT, deps.Departments.Collection))
	mux.Handle("/admin/departments/", adminMethodSplit(viewerJWT, adminJWT, deps.Departments.Item))
	mux.Handle("/admin/llm-configs", adminMethodSplit(viewerJWT, adminJWT, deps.Configs.Collection))
	mux.Handle("/admin/llm-configs/", adminMethodSplit(viewerJWT, adminJWT, deps.Configs.Item))
	mux.Handle("/admin/users", adminMethodSplit(viewerJWT, adminJWT, deps.Users.Collection))
	mux.Handle("/admin/users/", adminMethodSplit(viewerJWT, adminJWT, deps.Users.Item))
	mux.Handle("/admin/usage/overview", viewerJWT(http.HandlerFunc(deps.Usage.Overview)))
	mux.Handle("/admin/usage/departments/", viewerJWT(http.HandlerFunc(deps.Usage.Department)))

	mux.HandleFunc("/health", deps.handleHealth)
}

// adminMethodSplit routes reads through the viewer middleware and mutations
// through the admin middleware.
func adminMethodSplit(viewer, admin func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
	readHandler := viewer(h)
	writeHandler := admin(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			readHandler.ServeHTTP(w, r)
			return
		}
		writeHandler.ServeHTTP(w, r)
	})
}

// handleHealth reports database and queue health.
func (deps *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if deps.DB != nil {
		if err := deps.DB.Health(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	utils.RespondWithJSON(w, code, status)
}

// startMaintenance runs the periodic background pass: the eager quota sweep
// (when a sweeper is given) and expired refresh-token cleanup.
func (deps *Dependencies) startMaintenance(sweeper *storage.QuotaRepository, users *storage.UserRepository, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Minute
	}
	deps.sweepStop = make(chan struct{})
	deps.sweepDone = make(chan struct{})

	go func() {
		defer close(deps.sweepDone)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if sweeper != nil {
					n, err := sweeper.SweepStale(ctx, time.Now())
					if err != nil {
						deps.logger.Error("Quota sweep failed", "error", err)
					} else if n > 0 {
						deps.logger.Info("Quota sweep reset stale periods", "quotas", n)
					}
				}
				if n, err := users.DeleteExpiredRefreshTokens(ctx, time.Now()); err != nil {
					deps.logger.Error("Refresh token cleanup failed", "error", err)
				} else if n > 0 {
					deps.logger.Debug("Pruned expired refresh tokens", "tokens", n)
				}
				cancel()
			case <-deps.sweepStop:
				return
			}
		}
	}()
}

// Shutdown stops background workers and closes connections.
func (deps *Dependencies) Shutdown(ctx context.Context) {
	if deps.sweepStop != nil {
		close(deps.sweepStop)
		<-deps.sweepDone
	}
	if deps.UsageWorker != nil {
		if err := deps.UsageWorker.Stop(); err != nil {
			deps.logger.Error("Usage worker shutdown failed", "error", err)
		}
	}
	if deps.Archive != nil {
		deps.Archive.Shutdown()
	}
	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			deps.logger.Error("Redis close failed", "error", err)
		}
	}
	if deps.DB != nil {
		if err := deps.DB.Close(); err != nil {
			deps.logger.Error("Database close failed", "error", err)
		}
	}
}
