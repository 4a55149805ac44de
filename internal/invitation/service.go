// Package invitation はメールアドレス宛てのプロジェクト招待の作成、承認、拒否を提供する。
//
// 招待は pending から accepted または rejected へ一度だけ遷移する。
// 承認時のメンバー行作成と状態更新は同一トランザクションで行われる。
package invitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// 招待メトリクスの結果ラベル。
const (
	OutcomeCreated         = "created"
	OutcomeAccepted        = "accepted"
	OutcomeAlreadyJoined   = "already_joined"
	OutcomeRejected        = "rejected"
	OutcomeAlreadyResolved = "already_resolved"
	OutcomeDuplicate       = "duplicate"
)

// Authorizer は操作者の権限を確認するインターフェース。
type Authorizer interface {
	Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error)
}

// Metrics は招待の結果を記録するインターフェース。
type Metrics interface {
	RecordInvitation(outcome string)
}

// Service は招待ワークフローを提供する。
type Service struct {
	invitations repository.InvitationRepository
	members     repository.MemberRepository
	projects    repository.ProjectRepository
	users       repository.UserRepository
	auth        Authorizer
	cache       *cache.Service
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	invitations repository.InvitationRepository,
	members repository.MemberRepository,
	projects repository.ProjectRepository,
	users repository.UserRepository,
	auth Authorizer,
	c *cache.Service,
	metrics Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		invitations: invitations,
		members:     members,
		projects:    projects,
		users:       users,
		auth:        auth,
		cache:       c,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// ParseEmail はメールアドレスを検証し、比較用に正規化して返す。
// 表示名付きの形式（"Name <a@b>"）は受け付けない。
func ParseEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	if email == "" {
		return "", model.NewInvalidEmailError(raw)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", model.NewInvalidEmailError(raw)
	}
	return email, nil
}

// Create は招待を作成する。招待者は編集者以上の権限を持つ必要がある。
// 招待先が既にオーナーまたはメンバーの場合は DUPLICATE_MEMBER、
// 保留中の招待が既に存在する場合は DUPLICATE_INVITATION を返す。
func (s *Service) Create(ctx context.Context, inviterID, projectID, rawEmail string) (*model.Invitation, error) {
	email, err := ParseEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	if _, err := s.auth.Require(ctx, inviterID, projectID, model.CapabilityEditor, "invite"); err != nil {
		return nil, err
	}

	isMember, err := s.isParticipant(ctx, projectID, email)
	if err != nil {
		return nil, err
	}
	if isMember {
		return nil, model.NewDuplicateMemberError()
	}

	existing, err := s.invitations.FindPending(ctx, projectID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invitation: %w", err)
	}
	if existing != nil {
		s.record(OutcomeDuplicate)
		return nil, model.NewDuplicateInvitationError(email)
	}

	now := s.now()
	inv := &model.Invitation{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		InviterID:    inviterID,
		InviteeEmail: email,
		Status:       model.InvitationPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.record(OutcomeDuplicate)
			return nil, model.NewDuplicateInvitationError(email)
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.cache.Invalidate(ctx, cache.PendingInvitations(email), cache.ProjectInvitations(projectID))
	s.record(OutcomeCreated)
	s.logger.Info("invitation created",
		slog.String("invitation_id", inv.ID),
		slog.String("project_id", projectID),
		slog.String("inviter_id", inviterID),
	)
	return inv, nil
}

// isParticipant はメールアドレスの登録ユーザーがオーナーまたはメンバーかを返す。
// 未登録のメールアドレスは常にfalse。
func (s *Service) isParticipant(ctx context.Context, projectID, email string) (bool, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("failed to find invitee: %w", err)
	}
	if user == nil {
		return false, nil
	}

	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return false, model.NewProjectNotFoundError(projectID)
	}
	if project.OwnerID == user.ID {
		return true, nil
	}

	m, err := s.members.Find(ctx, projectID, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to find membership: %w", err)
	}
	return m != nil, nil
}

// AcceptResult は承認の結果。
type AcceptResult struct {
	Invitation *model.Invitation
	// Joined はこの承認でメンバー行が作成されたかを示す。
	// 既にメンバーだった場合やオーナー自身の承認ではfalse。
	Joined bool
}

// Accept は招待を承認し、閲覧者としてメンバーに追加する。
func (s *Service) Accept(ctx context.Context, invitationID, userID string) (*AcceptResult, error) {
	user, inv, err := s.lookup(ctx, invitationID, userID)
	if err != nil {
		return nil, err
	}

	project, err := s.projects.FindByID(ctx, inv.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return nil, model.NewInvitationNotFoundError(invitationID)
	}

	var membership *model.Membership
	if project.OwnerID != user.ID {
		membership = &model.Membership{
			ProjectID: inv.ProjectID,
			UserID:    user.ID,
			Role:      model.DefaultInviteeRole,
			CreatedAt: s.now(),
		}
	}

	joined, err := s.invitations.Accept(ctx, inv.ID, membership)
	if err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return nil, s.alreadyResolved(ctx, inv.ID)
		}
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	s.cache.Invalidate(ctx,
		cache.PendingInvitations(inv.InviteeEmail),
		cache.ProjectInvitations(inv.ProjectID),
		cache.TeamMembers(inv.ProjectID),
		cache.AllCapabilities(inv.ProjectID),
		cache.Projects(user.ID),
		cache.Dashboard(user.ID),
	)

	inv.Status = model.InvitationAccepted
	if membership != nil && !joined {
		s.record(OutcomeAlreadyJoined)
		s.logger.Warn("invitation accepted by existing member",
			slog.String("invitation_id", inv.ID),
			slog.String("project_id", inv.ProjectID),
			slog.String("user_id", user.ID),
		)
	} else {
		s.record(OutcomeAccepted)
		s.logger.Info("invitation accepted",
			slog.String("invitation_id", inv.ID),
			slog.String("project_id", inv.ProjectID),
			slog.String("user_id", user.ID),
		)
	}
	return &AcceptResult{Invitation: inv, Joined: joined}, nil
}

// Reject は招待を拒否する。メンバー行は変更しない。
func (s *Service) Reject(ctx context.Context, invitationID, userID string) (*model.Invitation, error) {
	_, inv, err := s.lookup(ctx, invitationID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.invitations.Reject(ctx, inv.ID); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return nil, s.alreadyResolved(ctx, inv.ID)
		}
		return nil, fmt.Errorf("failed to reject invitation: %w", err)
	}

	s.cache.Invalidate(ctx, cache.PendingInvitations(inv.InviteeEmail), cache.ProjectInvitations(inv.ProjectID))
	s.record(OutcomeRejected)
	s.logger.Info("invitation rejected",
		slog.String("invitation_id", inv.ID),
		slog.String("project_id", inv.ProjectID),
	)

	inv.Status = model.InvitationRejected
	return inv, nil
}

// lookup は認証済みユーザーと、そのユーザー宛ての保留中の招待を返す。
// 他人宛ての招待は存在しないものとして扱う。
func (s *Service) lookup(ctx context.Context, invitationID, userID string) (*model.User, *model.Invitation, error) {
	if userID == "" {
		return nil, nil, model.NewAuthRequiredError()
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewAuthRequiredError()
	}

	inv, err := s.invitations.FindByID(ctx, invitationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	if inv == nil || model.NormalizeEmail(inv.InviteeEmail) != model.NormalizeEmail(user.Email) {
		return nil, nil, model.NewInvitationNotFoundError(invitationID)
	}
	if !inv.IsPending() {
		s.record(OutcomeAlreadyResolved)
		return nil, nil, model.NewAlreadyResolvedError(inv.Status)
	}
	return user, inv, nil
}

// alreadyResolved は競合で先に解決された招待の現在の状態をエラーとして返す。
func (s *Service) alreadyResolved(ctx context.Context, invitationID string) error {
	s.record(OutcomeAlreadyResolved)
	status := model.InvitationStatus("")
	if current, err := s.invitations.FindByID(ctx, invitationID); err == nil && current != nil {
		status = current.Status
	}
	return model.NewAlreadyResolvedError(status)
}

// ListPendingFor は認証済みユーザー自身のメールアドレス宛ての保留中の招待を返す。
func (s *Service) ListPendingFor(ctx context.Context, userID string) ([]*model.PendingInvitation, error) {
	if userID == "" {
		return nil, model.NewAuthRequiredError()
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewAuthRequiredError()
	}

	email := model.NormalizeEmail(user.Email)
	return cache.Fetch(ctx, s.cache, cache.PendingInvitations(email), func(ctx context.Context) ([]*model.PendingInvitation, error) {
		list, err := s.invitations.ListPendingByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending invitations: %w", err)
		}
		return list, nil
	})
}

// ListForProject はプロジェクトの保留中の招待を編集者以上に返す。
func (s *Service) ListForProject(ctx context.Context, actorID, projectID string) ([]*model.Invitation, error) {
	if _, err := s.auth.Require(ctx, actorID, projectID, model.CapabilityEditor, "list invitations"); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.ProjectInvitations(projectID), func(ctx context.Context) ([]*model.Invitation, error) {
		list, err := s.invitations.ListPendingByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list project invitations: %w", err)
		}
		return list, nil
	})
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordInvitation(outcome)
	}
}
