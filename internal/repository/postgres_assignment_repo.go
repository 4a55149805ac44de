package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/taskboard/internal/model"
)

// PostgresAssignmentRepo はPostgreSQLを使用した課題リポジトリ。
// 担当者は assignment_assignees 結合テーブルで管理する。
type PostgresAssignmentRepo struct {
	db *sql.DB
}

// NewPostgresAssignmentRepo はPostgresAssignmentRepoを生成する。
func NewPostgresAssignmentRepo(db *sql.DB) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{db: db}
}

const assignmentColumns = `a.id, a.project_id, a.title, a.description, a.due_date, a.status, a.priority, a.created_by, a.created_at, a.updated_at`

func scanAssignment(row interface{ Scan(...any) error }) (*model.Assignment, error) {
	a := &model.Assignment{}
	var due sql.NullTime
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Title, &a.Description, &due, &a.Status, &a.Priority, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if due.Valid {
		t := due.Time
		a.DueDate = &t
	}
	return a, nil
}

// FindByID は担当者を含む課題を取得する。見つからない場合はnilを返す。
func (r *PostgresAssignmentRepo) FindByID(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := scanAssignment(r.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments a WHERE a.id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	if err := r.attachAssignees(ctx, []*model.Assignment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// Create は課題と担当者を同一トランザクションで作成する。
func (r *PostgresAssignmentRepo) Create(ctx context.Context, a *model.Assignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var due sql.NullTime
	if a.DueDate != nil {
		due = sql.NullTime{Time: *a.DueDate, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO assignments (id, project_id, title, description, due_date, status, priority, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ProjectID, a.Title, a.Description, due, string(a.Status), string(a.Priority), a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	userIDs := make([]string, 0, len(a.Assignees))
	for _, u := range a.Assignees {
		userIDs = append(userIDs, u.ID)
	}
	if err := insertAssignees(ctx, tx, a.ID, userIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateStatus は状態を更新し、更新後の課題を返す。見つからない場合はnilを返す。
func (r *PostgresAssignmentRepo) UpdateStatus(ctx context.Context, id string, status model.AssignmentStatus) (*model.Assignment, error) {
	a, err := scanAssignment(r.db.QueryRowContext(ctx,
		`UPDATE assignments a SET status = $2, updated_at = now()
		 WHERE a.id = $1
		 RETURNING `+assignmentColumns,
		id, string(status),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update assignment status: %w", err)
	}
	if err := r.attachAssignees(ctx, []*model.Assignment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// SetAssignees は担当者を置き換える。
func (r *PostgresAssignmentRepo) SetAssignees(ctx context.Context, id string, userIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignment_assignees WHERE assignment_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear assignees: %w", err)
	}
	if err := insertAssignees(ctx, tx, id, userIDs); err != nil {
		return err
	}
	// 担当者のみの変更でも課題の更新として扱う
	if _, err := tx.ExecContext(ctx, `UPDATE assignments SET updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to touch assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertAssignees(ctx context.Context, tx *sql.Tx, assignmentID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO assignment_assignees (assignment_id, user_id)
		 SELECT $1, unnest($2::uuid[])
		 ON CONFLICT DO NOTHING`,
		assignmentID, pq.Array(userIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignees: %w", err)
	}
	return nil
}

// Delete は課題を削除する。
func (r *PostgresAssignmentRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}

// ListByProject はプロジェクトの課題を期限日順（期限なしは末尾）で返す。
func (r *PostgresAssignmentRepo) ListByProject(ctx context.Context, projectID string) ([]*model.Assignment, error) {
	return r.list(ctx,
		`SELECT `+assignmentColumns+` FROM assignments a
		 WHERE a.project_id = $1
		 ORDER BY a.due_date ASC NULLS LAST, a.created_at DESC`,
		projectID,
	)
}

// ListForUser はユーザーがオーナーまたはメンバーであるプロジェクトの課題を返す。
func (r *PostgresAssignmentRepo) ListForUser(ctx context.Context, userID string) ([]*model.Assignment, error) {
	return r.list(ctx,
		`SELECT `+assignmentColumns+` FROM assignments a
		 JOIN projects p ON p.id = a.project_id
		 WHERE p.owner_id = $1
		    OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id = p.id AND m.user_id = $1)
		 ORDER BY a.due_date ASC NULLS LAST, a.created_at DESC`,
		userID,
	)
}

func (r *PostgresAssignmentRepo) list(ctx context.Context, query string, args ...any) ([]*model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}

	if err := r.attachAssignees(ctx, assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

// attachAssignees は課題一覧の担当者を1回の問い合わせで取得して設定する。
func (r *PostgresAssignmentRepo) attachAssignees(ctx context.Context, assignments []*model.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	byID := make(map[string]*model.Assignment, len(assignments))
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT aa.assignment_id, u.id, u.email, u.name, u.avatar_url, u.created_at, u.updated_at
		 FROM assignment_assignees aa
		 JOIN users u ON u.id = aa.user_id
		 WHERE aa.assignment_id = ANY($1::uuid[])
		 ORDER BY u.name`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to list assignees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var assignmentID string
		var u model.User
		if err := rows.Scan(&assignmentID, &u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan assignee: %w", err)
		}
		if a, ok := byID[assignmentID]; ok {
			a.Assignees = append(a.Assignees, u)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate assignees: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AssignmentRepository = (*PostgresAssignmentRepo)(nil)
