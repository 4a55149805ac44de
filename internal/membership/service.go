// Package membership はプロジェクトメンバーの追加、ロール変更、削除、一覧を提供する。
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// Authorizer は操作者の権限を確認するインターフェース。
type Authorizer interface {
	Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error)
}

// Service はメンバー管理のビジネスロジックを提供する。
type Service struct {
	members  repository.MemberRepository
	projects repository.ProjectRepository
	users    repository.UserRepository
	auth     Authorizer
	cache    *cache.Service
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	members repository.MemberRepository,
	projects repository.ProjectRepository,
	users repository.UserRepository,
	auth Authorizer,
	c *cache.Service,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		members:  members,
		projects: projects,
		users:    users,
		auth:     auth,
		cache:    c,
		logger:   logger,
	}
}

// AddMember は登録済みユーザーをメールアドレスで指定してメンバーに追加する。
// オーナーまたは既存メンバーの場合は DUPLICATE_MEMBER を返す。
func (s *Service) AddMember(ctx context.Context, actorID, projectID, email string, role model.Role) (*model.Member, error) {
	if _, err := s.auth.Require(ctx, actorID, projectID, model.CapabilityEditor, "add member"); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, model.NewInvalidRoleError(string(role))
	}

	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}
	if project.OwnerID == user.ID {
		return nil, model.NewDuplicateMemberError()
	}

	m := &model.Membership{
		ProjectID: projectID,
		UserID:    user.ID,
		Role:      role,
		CreatedAt: time.Now(),
	}
	if err := s.members.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateMemberError()
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	s.invalidate(ctx, projectID, user.ID)
	s.logger.Info("member added",
		slog.String("project_id", projectID),
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
		slog.String("actor_id", actorID),
	)
	return &model.Member{User: *user, Role: role}, nil
}

// UpdateRole はメンバーのロールを変更する。
// オーナーのロールは変更できず、オーナー以外は自分自身のロールを変更できない。
// メンバー行が存在しない場合は MEMBER_NOT_FOUND を返し、何も変更しない。
// 現在と同じロールへの変更は何もしない。
func (s *Service) UpdateRole(ctx context.Context, actorID, projectID, userID string, newRole model.Role) error {
	actorCap, err := s.auth.Require(ctx, actorID, projectID, model.CapabilityEditor, "change member role")
	if err != nil {
		return err
	}
	if !newRole.Valid() {
		return model.NewInvalidRoleError(string(newRole))
	}

	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to find project: %w", err)
	}
	if project == nil {
		return model.NewProjectNotFoundError(projectID)
	}
	if project.OwnerID == userID {
		return model.NewOwnerRoleImmutableError()
	}
	if actorID == userID && actorCap != model.CapabilityOwner {
		return model.NewSelfRoleChangeError()
	}

	current, err := s.members.Find(ctx, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to find membership: %w", err)
	}
	if current == nil {
		return model.NewMemberNotFoundError(userID)
	}
	if current.Role == newRole {
		return nil
	}

	updated, err := s.members.UpdateRole(ctx, projectID, userID, newRole)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if !updated {
		// 確認後に別セッションで削除された
		return model.NewMemberNotFoundError(userID)
	}

	s.invalidate(ctx, projectID, userID)
	s.logger.Info("member role updated",
		slog.String("project_id", projectID),
		slog.String("user_id", userID),
		slog.String("from", string(current.Role)),
		slog.String("to", string(newRole)),
		slog.String("actor_id", actorID),
	)
	return nil
}

// RemoveMember はメンバー行を削除する。存在しない場合もエラーにしない。
// 編集者以上の権限が必要だが、メンバー本人はいつでも自分を削除（脱退）できる。
func (s *Service) RemoveMember(ctx context.Context, actorID, projectID, userID string) error {
	minCap := model.CapabilityEditor
	if actorID == userID {
		minCap = model.CapabilityViewer
	}
	if _, err := s.auth.Require(ctx, actorID, projectID, minCap, "remove member"); err != nil {
		return err
	}

	if err := s.members.Delete(ctx, projectID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	s.invalidate(ctx, projectID, userID)
	s.logger.Info("member removed",
		slog.String("project_id", projectID),
		slog.String("user_id", userID),
		slog.String("actor_id", actorID),
	)
	return nil
}

// ListMembers はオーナーを先頭に、メンバー行をユーザーID単位で重複なく返す。
func (s *Service) ListMembers(ctx context.Context, actorID, projectID string) ([]model.Member, error) {
	if _, err := s.auth.Require(ctx, actorID, projectID, model.CapabilityViewer, "list members"); err != nil {
		return nil, err
	}

	return cache.Fetch(ctx, s.cache, cache.TeamMembers(projectID), func(ctx context.Context) ([]model.Member, error) {
		project, err := s.projects.FindByID(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to find project: %w", err)
		}
		if project == nil {
			return nil, model.NewProjectNotFoundError(projectID)
		}

		owner, err := s.users.FindByID(ctx, project.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to find owner: %w", err)
		}
		if owner == nil {
			owner = &model.User{ID: project.OwnerID}
		}

		rows, err := s.members.ListByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list members: %w", err)
		}
		return MergeMembers(*owner, rows), nil
	})
}

// MergeMembers はオーナーとメンバー行を結合する。
// オーナーは role=editor, IsOwner=true として先頭に置き、
// 同じユーザーIDの行はオーナーまたは先に現れた行を優先して除外する。
func MergeMembers(owner model.User, rows []repository.MemberRow) []model.Member {
	members := make([]model.Member, 0, len(rows)+1)
	seen := make(map[string]struct{}, len(rows)+1)

	members = append(members, model.Member{User: owner, Role: model.RoleEditor, IsOwner: true})
	seen[owner.ID] = struct{}{}

	for _, row := range rows {
		if _, dup := seen[row.User.ID]; dup {
			continue
		}
		seen[row.User.ID] = struct{}{}
		members = append(members, model.Member{User: row.User, Role: row.Membership.Role})
	}
	return members
}

// invalidate は自セッションの変更を直後の読み取りに反映させる。
// 他セッションへの伝播は変更通知ブリッジが行う。
func (s *Service) invalidate(ctx context.Context, projectID, userID string) {
	s.cache.Invalidate(ctx,
		cache.TeamMembers(projectID),
		cache.AllCapabilities(projectID),
		cache.Projects(userID),
		cache.Dashboard(userID),
	)
}
