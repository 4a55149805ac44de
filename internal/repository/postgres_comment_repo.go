package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/taskboard/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, assignment_id, author_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.AssignmentID, c.AuthorID, c.Content, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ListByAssignment は課題のコメントを投稿者名付きで作成日時の昇順に返す。
func (r *PostgresCommentRepo) ListByAssignment(ctx context.Context, assignmentID string) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.assignment_id, c.author_id, u.name, c.content, c.created_at
		 FROM comments c
		 JOIN users u ON u.id = c.author_id
		 WHERE c.assignment_id = $1
		 ORDER BY c.created_at ASC`,
		assignmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		c := &model.Comment{}
		if err := rows.Scan(&c.ID, &c.AssignmentID, &c.AuthorID, &c.AuthorName, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

// PostgresAttachmentRepo はPostgreSQLを使用した添付ファイルメタデータリポジトリ。
type PostgresAttachmentRepo struct {
	db *sql.DB
}

// NewPostgresAttachmentRepo はPostgresAttachmentRepoを生成する。
func NewPostgresAttachmentRepo(db *sql.DB) *PostgresAttachmentRepo {
	return &PostgresAttachmentRepo{db: db}
}

const attachmentColumns = `id, assignment_id, filename, content_type, file_path, size, created_by, created_at`

// Create は添付ファイル行を作成する。
func (r *PostgresAttachmentRepo) Create(ctx context.Context, a *model.Attachment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assignment_attachments (`+attachmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.AssignmentID, a.Filename, a.ContentType, a.StoragePath, a.Size, a.UploadedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

// FindByID は指定IDの添付ファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresAttachmentRepo) FindByID(ctx context.Context, id string) (*model.Attachment, error) {
	a := &model.Attachment{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM assignment_attachments WHERE id = $1`, id,
	).Scan(&a.ID, &a.AssignmentID, &a.Filename, &a.ContentType, &a.StoragePath, &a.Size, &a.UploadedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attachment: %w", err)
	}
	return a, nil
}

// ListByAssignment は課題の添付ファイルを作成日時の昇順で返す。
func (r *PostgresAttachmentRepo) ListByAssignment(ctx context.Context, assignmentID string) ([]*model.Attachment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM assignment_attachments
		 WHERE assignment_id = $1 ORDER BY created_at ASC`,
		assignmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*model.Attachment
	for rows.Next() {
		a := &model.Attachment{}
		if err := rows.Scan(&a.ID, &a.AssignmentID, &a.Filename, &a.ContentType, &a.StoragePath, &a.Size, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return attachments, nil
}

// compile-time interface checks
var (
	_ CommentRepository    = (*PostgresCommentRepo)(nil)
	_ AttachmentRepository = (*PostgresAttachmentRepo)(nil)
)
