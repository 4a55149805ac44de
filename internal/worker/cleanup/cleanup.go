// Package cleanup は不要になった行を定期的に削除するジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト90日）を超過した解決済みの招待が対象。
// 保留中の招待は期間に関わらず削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`

	deleteResolvedInvitationsQuery = `DELETE FROM project_invitations
		WHERE status <> 'pending' AND updated_at < now() - $1::interval`
)

// CleanupJob は期限切れセッションと古い解決済み招待の削除ジョブ。
// どの処理も冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 解決済み招待の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Result は1回の実行で削除した件数。
type Result struct {
	Sessions    int64
	Invitations int64
}

// Run は期限切れのセッションと、保持期間を超えた解決済みの招待を削除する。
// 片方が失敗した時点でエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	n, err := j.exec(ctx, "sessions", deleteExpiredSessionsQuery)
	if err != nil {
		return res, err
	}
	res.Sessions = n

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	n, err = j.exec(ctx, "invitations", deleteResolvedInvitationsQuery, interval)
	if err != nil {
		return res, err
	}
	res.Invitations = n

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Int64("deleted_invitations", res.Invitations),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

func (j *CleanupJob) exec(ctx context.Context, target, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの削除に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%sの削除件数の取得に失敗: %w", target, err)
	}
	return n, nil
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに残して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("cleanup run failed", slog.String("error", err.Error()))
			}
		}
	}
}
