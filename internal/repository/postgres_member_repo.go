package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskboard/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用したプロジェクトメンバーリポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// Find は(projectID, userID)のメンバー行を取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) Find(ctx context.Context, projectID, userID string) (*model.Membership, error) {
	m := &model.Membership{}
	err := r.db.QueryRowContext(ctx,
		`SELECT project_id, user_id, role, created_at FROM project_members
		 WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// Create はメンバー行を作成する。(project_id, user_id)が重複する場合はErrDuplicateを返す。
func (r *PostgresMemberRepo) Create(ctx context.Context, m *model.Membership) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, created_at)
		 VALUES ($1, $2, $3, $4)`,
		m.ProjectID, m.UserID, string(m.Role), m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// UpdateRole はロールを更新する。対象行が存在しない場合はfalseを返す。
func (r *PostgresMemberRepo) UpdateRole(ctx context.Context, projectID, userID string, role model.Role) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE project_members SET role = $3 WHERE project_id = $1 AND user_id = $2`,
		projectID, userID, string(role),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update member role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete はメンバー行を削除する。
func (r *PostgresMemberRepo) Delete(ctx context.Context, projectID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

// ListByProject はユーザー情報を結合したメンバー行を返す。
func (r *PostgresMemberRepo) ListByProject(ctx context.Context, projectID string) ([]MemberRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.project_id, m.user_id, m.role, m.created_at,
		        u.id, u.email, u.name, u.avatar_url, u.created_at, u.updated_at
		 FROM project_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = $1
		 ORDER BY u.name, u.id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []MemberRow
	for rows.Next() {
		var row MemberRow
		m, u := &row.Membership, &row.User
		if err := rows.Scan(
			&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt,
			&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// compile-time interface check
var _ MemberRepository = (*PostgresMemberRepo)(nil)
