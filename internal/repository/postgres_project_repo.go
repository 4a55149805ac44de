package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskboard/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
// 権限判定用のAccessRepositoryも兼ねる。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	p := &model.Project{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, created_at, updated_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return p, nil
}

// Create はプロジェクトを作成する。
func (r *PostgresProjectRepo) Create(ctx context.Context, p *model.Project) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Description, p.OwnerID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Update は名前と説明を更新する。owner_idは更新対象に含めない。
func (r *PostgresProjectRepo) Update(ctx context.Context, p *model.Project) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE projects SET name = $2, description = $3, updated_at = now()
		 WHERE id = $1 RETURNING updated_at`,
		p.ID, p.Name, p.Description,
	).Scan(&p.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// Delete はプロジェクトを削除する。
func (r *PostgresProjectRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// ListForUser はユーザーがオーナーまたはメンバーであるプロジェクトを返す。
func (r *PostgresProjectRepo) ListForUser(ctx context.Context, userID string) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.description, p.owner_id, p.created_at, p.updated_at
		 FROM projects p
		 WHERE p.owner_id = $1
		    OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id = $1)
		 ORDER BY p.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// FindAccess はプロジェクトのオーナーとユーザーのロールを取得する。
// プロジェクトが存在しない場合はnilを返す。
func (r *PostgresProjectRepo) FindAccess(ctx context.Context, projectID, userID string) (*ProjectAccess, error) {
	access := &ProjectAccess{}
	var role sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT p.id, p.owner_id, m.role
		 FROM projects p
		 LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $2
		 WHERE p.id = $1`,
		projectID, userID,
	).Scan(&access.ProjectID, &access.OwnerID, &role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project access: %w", err)
	}
	if role.Valid {
		access.Role = model.Role(role.String)
	}
	return access, nil
}

// compile-time interface checks
var (
	_ ProjectRepository = (*PostgresProjectRepo)(nil)
	_ AccessRepository  = (*PostgresProjectRepo)(nil)
)
