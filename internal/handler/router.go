package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskboard/internal/middleware"
)

// AccessChecker は権限の参照と要求の両方を提供する。access.Evaluatorが満たす。
type AccessChecker interface {
	CapabilityResolver
	ProjectAuthorizer
}

// ViewStatsService はユーザー横断の集計とプロジェクト単位の集計を提供する。
type ViewStatsService interface {
	ViewServiceInterface
	ProjectStatsService
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           middleware.StatusRecorder // nilの場合はステータス集計を行わない

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は /metrics を公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロジェクトと権限
	ProjectService    ProjectServiceInterface
	Authorizer        AccessChecker
	MembershipService MembershipServiceInterface
	InvitationService InvitationServiceInterface

	// 課題と集計
	AssignmentService AssignmentServiceInterface
	AttachmentMaxSize int64
	ViewService       ViewStatsService

	// 変更通知
	Events InvalidationSource
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS
//	  → (/api/*) Session → RateLimit(General) → CSRF
//
// ヘルスチェック、メトリクス、認証ルート（/auth/*）はセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	projectHandler := NewProjectHandler(deps.ProjectService, deps.Authorizer, deps.ViewService)
	memberHandler := NewMemberHandler(deps.MembershipService)
	invitationHandler := NewInvitationHandler(deps.InvitationService)
	assignmentHandler := NewAssignmentHandler(deps.AssignmentService, deps.AttachmentMaxSize)
	viewHandler := NewViewHandler(deps.ViewService)
	eventsHandler := NewEventsHandler(deps.Authorizer, deps.Events, deps.CORSAllowedOrigin, logger)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
	})
	r.Get("/api/me", authHandler.Me)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", projectHandler.ListProjects)
			r.Post("/", projectHandler.CreateProject)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", projectHandler.GetProject)
				r.Patch("/", projectHandler.UpdateProject)
				r.Delete("/", projectHandler.DeleteProject)
				r.Get("/capability", projectHandler.GetCapability)
				r.Get("/stats", projectHandler.GetStats)

				r.Get("/members", memberHandler.ListMembers)
				r.Post("/members", memberHandler.AddMember)
				r.Patch("/members/{userID}", memberHandler.UpdateRole)
				r.Delete("/members/{userID}", memberHandler.RemoveMember)

				// POST は招待専用のレート制限を追加
				r.Get("/invitations", invitationHandler.ListProjectInvitations)
				r.With(deps.RateLimiter.InvitationMiddleware()).Post("/invitations", invitationHandler.CreateInvitation)

				r.Get("/assignments", assignmentHandler.ListAssignments)
				r.Post("/assignments", assignmentHandler.CreateAssignment)

				r.Get("/events", eventsHandler.Stream)
			})
		})

		r.Route("/api/invitations", func(r chi.Router) {
			r.Get("/", invitationHandler.ListPending)
			r.Post("/{invitationID}/accept", invitationHandler.Accept)
			r.Post("/{invitationID}/reject", invitationHandler.Reject)
		})

		r.Route("/api/assignments/{assignmentID}", func(r chi.Router) {
			r.Get("/", assignmentHandler.GetAssignment)
			r.Delete("/", assignmentHandler.DeleteAssignment)
			r.Patch("/status", assignmentHandler.UpdateStatus)
			r.Put("/assignees", assignmentHandler.SetAssignees)
			r.Get("/comments", assignmentHandler.ListComments)
			r.Post("/comments", assignmentHandler.AddComment)
			r.Get("/attachments", assignmentHandler.ListAttachments)
			r.Post("/attachments", assignmentHandler.UploadAttachment)
		})

		r.Get("/api/attachments/{attachmentID}", assignmentHandler.DownloadAttachment)

		r.Get("/api/dashboard", viewHandler.Dashboard)
		r.Get("/api/calendar", viewHandler.Calendar)
	})

	return r
}
