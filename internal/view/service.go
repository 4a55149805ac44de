package view

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// Authorizer は操作者の権限を確認するインターフェース。
type Authorizer interface {
	Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error)
}

// Service はダッシュボードとカレンダーの集計を提供する。
type Service struct {
	assignments repository.AssignmentRepository
	auth        Authorizer
	cache       *cache.Service
}

// NewService はServiceを生成する。
func NewService(assignments repository.AssignmentRepository, auth Authorizer, c *cache.Service) *Service {
	return &Service{assignments: assignments, auth: auth, cache: c}
}

// visible はユーザーがオーナーまたはメンバーである全プロジェクトの課題を返す。
func (s *Service) visible(ctx context.Context, userID string) ([]*model.Assignment, error) {
	if userID == "" {
		return nil, model.NewAuthRequiredError()
	}
	return cache.Fetch(ctx, s.cache, cache.Dashboard(userID), func(ctx context.Context) ([]*model.Assignment, error) {
		list, err := s.assignments.ListForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list assignments: %w", err)
		}
		return list, nil
	})
}

// Dashboard はユーザーが参照可能な課題の状態別件数を返す。
func (s *Service) Dashboard(ctx context.Context, userID string) (Stats, error) {
	list, err := s.visible(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return DashboardStats(list), nil
}

// Calendar はユーザーが参照可能な課題を期限日ごとにまとめ、from〜toの範囲で返す。
func (s *Service) Calendar(ctx context.Context, userID, from, to string, loc *time.Location) ([]DayBucket, error) {
	list, err := s.visible(ctx, userID)
	if err != nil {
		return nil, err
	}
	return InRange(CalendarBuckets(list, loc), from, to), nil
}

// ProjectStats はプロジェクトの課題の状態別件数を返す。閲覧者以上が対象。
func (s *Service) ProjectStats(ctx context.Context, userID, projectID string) (Stats, error) {
	if _, err := s.auth.Require(ctx, userID, projectID, model.CapabilityViewer, "view project stats"); err != nil {
		return Stats{}, err
	}
	list, err := cache.Fetch(ctx, s.cache, cache.Assignments(projectID), func(ctx context.Context) ([]*model.Assignment, error) {
		list, err := s.assignments.ListByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list assignments: %w", err)
		}
		return list, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return DashboardStats(list), nil
}
