// Package project はプロジェクトの作成、取得、一覧、更新、削除を提供する。
package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
	"github.com/hitoshi/taskboard/internal/security"
)

const maxNameLength = 200

// Authorizer は操作者の権限を確認するインターフェース。
type Authorizer interface {
	Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error)
}

// Detail はプロジェクトと呼び出し元の権限。
type Detail struct {
	Project    *model.Project
	Capability model.Capability
}

// Service はプロジェクトのビジネスロジックを提供する。
type Service struct {
	projects  repository.ProjectRepository
	auth      Authorizer
	cache     *cache.Service
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	projects repository.ProjectRepository,
	auth Authorizer,
	c *cache.Service,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		projects:  projects,
		auth:      auth,
		cache:     c,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Create はプロジェクトを作成する。作成者がオーナーとなる。
// オーナーはメンバー行として保存しない。
func (s *Service) Create(ctx context.Context, ownerID, name, description string) (*model.Project, error) {
	if ownerID == "" {
		return nil, model.NewAuthRequiredError()
	}
	name, description, err := s.clean(name, description)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.cache.Invalidate(ctx, cache.Projects(ownerID), cache.Dashboard(ownerID))
	s.logger.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("owner_id", ownerID),
	)
	return p, nil
}

// Get はプロジェクトと呼び出し元の権限を返す。閲覧者以上が対象。
func (s *Service) Get(ctx context.Context, userID, projectID string) (*Detail, error) {
	capability, err := s.auth.Require(ctx, userID, projectID, model.CapabilityViewer, "view project")
	if err != nil {
		return nil, err
	}

	p, err := cache.Fetch(ctx, s.cache, cache.Project(projectID), func(ctx context.Context) (*model.Project, error) {
		p, err := s.projects.FindByID(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to find project: %w", err)
		}
		if p == nil {
			return nil, model.NewProjectNotFoundError(projectID)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return &Detail{Project: p, Capability: capability}, nil
}

// ListForUser はユーザーがオーナーまたはメンバーであるプロジェクトを返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*model.Project, error) {
	if userID == "" {
		return nil, model.NewAuthRequiredError()
	}
	return cache.Fetch(ctx, s.cache, cache.Projects(userID), func(ctx context.Context) ([]*model.Project, error) {
		projects, err := s.projects.ListForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		return projects, nil
	})
}

// Update はプロジェクトの名前と説明を更新する。編集者以上が対象。
func (s *Service) Update(ctx context.Context, userID, projectID, name, description string) (*model.Project, error) {
	if _, err := s.auth.Require(ctx, userID, projectID, model.CapabilityEditor, "update project"); err != nil {
		return nil, err
	}
	name, description, err := s.clean(name, description)
	if err != nil {
		return nil, err
	}

	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}

	p.Name = name
	p.Description = description
	p.UpdatedAt = s.now()
	if err := s.projects.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	s.cache.Invalidate(ctx, cache.Project(projectID), cache.AllProjects())
	return p, nil
}

// Delete はプロジェクトを削除する。編集者以上が対象。
// メンバー行、招待、課題はストア側でCASCADE削除される。
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	if _, err := s.auth.Require(ctx, userID, projectID, model.CapabilityEditor, "delete project"); err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, projectID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	s.cache.Invalidate(ctx,
		cache.Project(projectID),
		cache.TeamMembers(projectID),
		cache.AllCapabilities(projectID),
		cache.Assignments(projectID),
		cache.ProjectInvitations(projectID),
		cache.AllProjects(),
		cache.AllDashboards(),
	)
	s.logger.Info("project deleted",
		slog.String("project_id", projectID),
		slog.String("actor_id", userID),
	)
	return nil
}

func (s *Service) clean(name, description string) (string, string, error) {
	name = s.sanitizer.Plain(name)
	if name == "" {
		return "", "", model.NewValidationError("project name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", "", model.NewValidationError(fmt.Sprintf("project name must be at most %d characters", maxNameLength))
	}
	return name, s.sanitizer.Rich(description), nil
}
