package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/taskboard/internal/access"
	"github.com/hitoshi/taskboard/internal/assignment"
	"github.com/hitoshi/taskboard/internal/auth"
	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/config"
	"github.com/hitoshi/taskboard/internal/handler"
	"github.com/hitoshi/taskboard/internal/invitation"
	"github.com/hitoshi/taskboard/internal/logger"
	"github.com/hitoshi/taskboard/internal/membership"
	"github.com/hitoshi/taskboard/internal/metrics"
	"github.com/hitoshi/taskboard/internal/middleware"
	"github.com/hitoshi/taskboard/internal/project"
	"github.com/hitoshi/taskboard/internal/realtime"
	"github.com/hitoshi/taskboard/internal/repository"
	"github.com/hitoshi/taskboard/internal/security"
	"github.com/hitoshi/taskboard/internal/storage"
	"github.com/hitoshi/taskboard/internal/view"
)

const redisKeyPrefix = "taskboard:"

// server はAPIサーバーモードで動かす部品一式。
type server struct {
	router   http.Handler
	listener *realtime.PGListener
	bridge   *realtime.Bridge
	closers  []func()
}

// Close はサーバーが保持する資源を解放する。
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer は全依存関係をワイヤリングする。
func newServer(ctx context.Context, cfg *config.Config, db *sql.DB) (*server, error) {
	srv := &server{}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 2. キャッシュ
	store, closeStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, closeStore)
	cacheSvc := cache.New(store, cfg.CacheTTL,
		cache.WithMetrics(collector),
		cache.WithLogger(logger.Component("cache")),
	)

	// 3. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)
	memberRepo := repository.NewPostgresMemberRepo(db)
	invitationRepo := repository.NewPostgresInvitationRepo(db)
	assignmentRepo := repository.NewPostgresAssignmentRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	attachmentRepo := repository.NewPostgresAttachmentRepo(db)

	// 4. 権限判定とドメインサービス
	evaluator := access.NewEvaluator(projectRepo, cacheSvc, collector, logger.Component("access"))
	sanitizer := security.NewSanitizer()

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	projectService := project.NewService(projectRepo, evaluator, cacheSvc, sanitizer, logger.Component("project"))
	membershipService := membership.NewService(memberRepo, projectRepo, userRepo, evaluator, cacheSvc, logger.Component("membership"))
	invitationService := invitation.NewService(
		invitationRepo, memberRepo, projectRepo, userRepo,
		evaluator, cacheSvc, collector, logger.Component("invitation"),
	)

	blobs, err := newBlobStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ledger := assignment.NewStatusLedger()
	assignmentService := assignment.NewService(assignment.Config{
		Assignments:       assignmentRepo,
		Comments:          commentRepo,
		Attachments:       attachmentRepo,
		Users:             userRepo,
		Auth:              evaluator,
		Blobs:             blobs,
		Ledger:            ledger,
		Cache:             cacheSvc,
		Sanitizer:         sanitizer,
		Logger:            logger.Component("assignment"),
		MaxAttachmentSize: cfg.AttachmentMaxSize,
	})
	viewService := view.NewService(assignmentRepo, evaluator, cacheSvc)

	// 5. 変更通知: PostgreSQL LISTEN → Hub → Bridge（キャッシュ無効化とWebSocket配信）
	hub := realtime.NewHub(realtime.DefaultBufferSize)
	srv.bridge = realtime.NewBridge(hub, cacheSvc, ledger, collector, logger.Component("bridge"))
	srv.listener = realtime.NewPGListener(realtime.ListenerConfig{
		DSN:                  cfg.DatabaseURL,
		Channel:              cfg.RealtimeChannel,
		MinReconnectInterval: cfg.RealtimeMinReconnect,
		MaxReconnectInterval: cfg.RealtimeMaxReconnect,
		OnResync:             srv.bridge.Resync,
	}, hub, collector, logger.Component("listener"))

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitInvite),
	)
	srv.closers = append(srv.closers, rateLimiter.Stop)

	srv.router = handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:  logger.Component("http"),
		Metrics: collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ProjectService:    projectService,
		Authorizer:        evaluator,
		MembershipService: membershipService,
		InvitationService: invitationService,

		AssignmentService: assignmentService,
		AttachmentMaxSize: cfg.AttachmentMaxSize,
		ViewService:       viewService,

		Events: srv.bridge,
	})

	return srv, nil
}

// newCacheStore は設定に応じたキャッシュのバックエンドを返す。
func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		client, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis cache connected")
		return cache.NewRedisStore(client, redisKeyPrefix), func() { _ = client.Close() }, nil
	default:
		return cache.NewMemoryStore(cfg.CacheMaxBytes), func() {}, nil
	}
}

// newBlobStorage は添付ファイルの保存先を返す。未設定の場合はnil。
func newBlobStorage(ctx context.Context, cfg *config.Config) (assignment.BlobStorage, error) {
	if !cfg.StorageEnabled() {
		slog.Warn("object storage is not configured; attachments are disabled")
		return nil, nil
	}
	blobs, err := storage.NewMinioStorage(storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseTLS:    cfg.StorageUseTLS,
	})
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return blobs, nil
}
