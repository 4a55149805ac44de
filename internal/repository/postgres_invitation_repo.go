package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskboard/internal/model"
)

// PostgresInvitationRepo はPostgreSQLを使用した招待リポジトリ。
// 保留中の招待の一意性は部分一意インデックス
// (project_id, lower(invitee_email)) WHERE status = 'pending' で保証される。
type PostgresInvitationRepo struct {
	db *sql.DB
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
func NewPostgresInvitationRepo(db *sql.DB) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db}
}

const invitationColumns = `id, project_id, inviter_id, invitee_email, status, created_at, updated_at`

func scanInvitation(row interface{ Scan(...any) error }, inv *model.Invitation) error {
	return row.Scan(&inv.ID, &inv.ProjectID, &inv.InviterID, &inv.InviteeEmail, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
}

// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindByID(ctx context.Context, id string) (*model.Invitation, error) {
	inv := &model.Invitation{}
	err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE id = $1`, id,
	), inv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	return inv, nil
}

// FindPending は(projectID, email)の保留中の招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindPending(ctx context.Context, projectID, email string) (*model.Invitation, error) {
	inv := &model.Invitation{}
	err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations
		 WHERE project_id = $1 AND lower(invitee_email) = lower($2) AND status = 'pending'`,
		projectID, email,
	), inv)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invitation: %w", err)
	}
	return inv, nil
}

// Create は招待を作成する。保留中の招待が既に存在する場合はErrDuplicateを返す。
func (r *PostgresInvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_invitations (id, project_id, inviter_id, invitee_email, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.ProjectID, inv.InviterID, inv.InviteeEmail, string(inv.Status), inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// Accept は招待の承認とメンバー行の作成を同一トランザクションで行う。
// status = 'pending' を条件とした更新により、同時承認のうち1件のみが成功する。
// メンバー行は ON CONFLICT DO NOTHING で挿入し、既存の場合は joined=false を返す。
func (r *PostgresInvitationRepo) Accept(ctx context.Context, id string, membership *model.Membership) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := resolvePending(ctx, tx, id, model.InvitationAccepted); err != nil {
		return false, err
	}

	joined := false
	if membership != nil {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO project_members (project_id, user_id, role, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (project_id, user_id) DO NOTHING`,
			membership.ProjectID, membership.UserID, string(membership.Role), membership.CreatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert membership: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get rows affected: %w", err)
		}
		joined = n > 0
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return joined, nil
}

// Reject は招待をrejectedにする。
func (r *PostgresInvitationRepo) Reject(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := resolvePending(ctx, tx, id, model.InvitationRejected); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resolvePending はpendingの招待を終端状態へ遷移させる。
// 対象行がpendingでなければErrNotPendingを返す。
func resolvePending(ctx context.Context, tx *sql.Tx, id string, status model.InvitationStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE project_invitations SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// ListPendingByEmail はメールアドレス宛ての保留中の招待をプロジェクト名と招待者名付きで返す。
func (r *PostgresInvitationRepo) ListPendingByEmail(ctx context.Context, email string) ([]*model.PendingInvitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.project_id, i.inviter_id, i.invitee_email, i.status, i.created_at, i.updated_at,
		        p.name, u.name
		 FROM project_invitations i
		 JOIN projects p ON p.id = i.project_id
		 JOIN users u ON u.id = i.inviter_id
		 WHERE lower(i.invitee_email) = lower($1) AND i.status = 'pending'
		 ORDER BY i.created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*model.PendingInvitation
	for rows.Next() {
		p := &model.PendingInvitation{}
		inv := &p.Invitation
		if err := rows.Scan(
			&inv.ID, &inv.ProjectID, &inv.InviterID, &inv.InviteeEmail, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt,
			&p.ProjectName, &p.InviterName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invitations, nil
}

// ListPendingByProject はプロジェクトの保留中の招待を返す。
func (r *PostgresInvitationRepo) ListPendingByProject(ctx context.Context, projectID string) ([]*model.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations
		 WHERE project_id = $1 AND status = 'pending'
		 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*model.Invitation
	for rows.Next() {
		inv := &model.Invitation{}
		if err := scanInvitation(rows, inv); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invitations, nil
}

// compile-time interface check
var _ InvitationRepository = (*PostgresInvitationRepo)(nil)
