// Package access はプロジェクトに対するユーザーの権限レベルを判定する。
//
// 判定順は次のとおり。
//  1. プロジェクトのオーナーであれば Owner（メンバー行の有無に関わらない）
//  2. メンバー行のロールが editor なら Editor、viewer なら Viewer
//  3. それ以外は None
//
// 判定に失敗した場合（未認証、問い合わせエラー）は None を返し、エラーは呼び出し元へ伝播しない。
package access

import (
	"context"
	"log/slog"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// Metrics は権限判定の結果を記録するインターフェース。
type Metrics interface {
	RecordCapabilityCheck(capability string)
}

// Evaluator は権限判定を行う。
type Evaluator struct {
	repo    repository.AccessRepository
	cache   *cache.Service
	metrics Metrics
	logger  *slog.Logger
}

// NewEvaluator はEvaluatorを生成する。cacheとmetricsはnilでもよい。
func NewEvaluator(repo repository.AccessRepository, c *cache.Service, m Metrics, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{repo: repo, cache: c, metrics: m, logger: logger}
}

// Resolve はProjectAccessから権限レベルを求める。
func Resolve(access *repository.ProjectAccess, userID string) model.Capability {
	if access == nil || userID == "" {
		return model.CapabilityNone
	}
	if access.OwnerID == userID {
		return model.CapabilityOwner
	}
	return model.CapabilityFromRole(access.Role)
}

// Capability はuserIDのprojectIDに対する権限レベルを返す。
func (e *Evaluator) Capability(ctx context.Context, userID, projectID string) model.Capability {
	if userID == "" || projectID == "" {
		e.record(model.CapabilityNone)
		return model.CapabilityNone
	}

	c, err := cache.Fetch(ctx, e.cache, cache.Capability(projectID, userID), func(ctx context.Context) (model.Capability, error) {
		access, err := e.repo.FindAccess(ctx, projectID, userID)
		if err != nil {
			return model.CapabilityNone, err
		}
		return Resolve(access, userID), nil
	})
	if err != nil {
		e.logger.Warn("capability lookup failed",
			slog.String("user_id", userID),
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		c = model.CapabilityNone
	}

	e.record(c)
	return c
}

// Require はuserIDがprojectIDに対してmin以上の権限を持つことを確認する。
// 未認証は AUTH_REQUIRED、参照権限がなければ PROJECT_NOT_FOUND（存在を秘匿する）、
// 権限不足は PERMISSION_DENIED を返す。
func (e *Evaluator) Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error) {
	if userID == "" {
		return model.CapabilityNone, model.NewAuthRequiredError()
	}
	c := e.Capability(ctx, userID, projectID)
	if c == model.CapabilityNone {
		return c, model.NewProjectNotFoundError(projectID)
	}
	if c < min {
		return c, model.NewPermissionDeniedError(operation)
	}
	return c, nil
}

func (e *Evaluator) record(c model.Capability) {
	if e.metrics != nil {
		e.metrics.RecordCapabilityCheck(c.String())
	}
}
