// Package assignment はプロジェクト内の課題、コメント、添付ファイルを管理する。
package assignment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
	"github.com/hitoshi/taskboard/internal/security"
)

const (
	maxTitleLength   = 200
	maxCommentLength = 5000
)

// Authorizer は権限判定のインターフェース。
type Authorizer interface {
	Capability(ctx context.Context, userID, projectID string) model.Capability
	Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error)
}

// BlobStorage は添付ファイルの実体を保存するオブジェクトストレージ。
type BlobStorage interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// Service は課題のビジネスロジックを提供する。
type Service struct {
	assignments repository.AssignmentRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	users       repository.UserRepository
	auth        Authorizer
	blobs       BlobStorage
	ledger      *StatusLedger
	cache       *cache.Service
	sanitizer   security.TextSanitizer
	logger      *slog.Logger
	now         func() time.Time

	maxAttachmentSize int64
}

// Config はServiceの依存関係。
type Config struct {
	Assignments       repository.AssignmentRepository
	Comments          repository.CommentRepository
	Attachments       repository.AttachmentRepository
	Users             repository.UserRepository
	Auth              Authorizer
	Blobs             BlobStorage
	Ledger            *StatusLedger
	Cache             *cache.Service
	Sanitizer         security.TextSanitizer
	Logger            *slog.Logger
	MaxAttachmentSize int64
}

// NewService はServiceを生成する。LedgerとLoggerは省略可能。
// Blobsがnilの場合は添付ファイルの保存を受け付けない。
func NewService(cfg Config) *Service {
	if cfg.Ledger == nil {
		cfg.Ledger = NewStatusLedger()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		assignments:       cfg.Assignments,
		comments:          cfg.Comments,
		attachments:       cfg.Attachments,
		users:             cfg.Users,
		auth:              cfg.Auth,
		blobs:             cfg.Blobs,
		ledger:            cfg.Ledger,
		cache:             cfg.Cache,
		sanitizer:         cfg.Sanitizer,
		logger:            cfg.Logger,
		now:               time.Now,
		maxAttachmentSize: cfg.MaxAttachmentSize,
	}
}

// Ledger は楽観的更新の台帳を返す。変更通知ブリッジが確定値の反映に使う。
func (s *Service) Ledger() *StatusLedger {
	return s.ledger
}

// CreateInput は課題作成の入力。StatusとPriorityは空なら既定値を使う。
type CreateInput struct {
	Title       string
	Description string
	DueDate     *time.Time
	Status      string
	Priority    string
	AssigneeIDs []string
}

// Create は課題を作成する。編集者以上が対象。
// 担当者はプロジェクトの閲覧者以上である必要がある。
func (s *Service) Create(ctx context.Context, actorID, projectID string, in CreateInput) (*model.Assignment, error) {
	if _, err := s.auth.Require(ctx, actorID, projectID, model.CapabilityEditor, "create assignment"); err != nil {
		return nil, err
	}

	title := s.sanitizer.Plain(in.Title)
	if title == "" {
		return nil, model.NewValidationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewValidationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}

	status := model.StatusPending
	if in.Status != "" {
		status = model.AssignmentStatus(in.Status)
		if !status.Valid() {
			return nil, model.NewInvalidStatusError(in.Status)
		}
	}
	priority := model.PriorityMedium
	if in.Priority != "" {
		priority = model.Priority(in.Priority)
		if !priority.Valid() {
			return nil, model.NewInvalidPriorityError(in.Priority)
		}
	}

	assignees, err := s.resolveAssignees(ctx, projectID, in.AssigneeIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &model.Assignment{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Title:       title,
		Description: s.sanitizer.Rich(in.Description),
		DueDate:     in.DueDate,
		Status:      status,
		Priority:    priority,
		CreatedBy:   actorID,
		Assignees:   assignees,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.cache.Invalidate(ctx, cache.Assignments(projectID), cache.AllDashboards())
	s.logger.Info("assignment created",
		slog.String("assignment_id", a.ID),
		slog.String("project_id", projectID),
		slog.String("actor_id", actorID),
	)
	return a, nil
}

// resolveAssignees は担当者IDを重複なくユーザーに解決する。
func (s *Service) resolveAssignees(ctx context.Context, projectID string, ids []string) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if !s.auth.Capability(ctx, id, projectID).CanView() {
			return nil, model.NewValidationError("assignee must be a member of the project")
		}
		u, err := s.users.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to find assignee: %w", err)
		}
		if u == nil {
			return nil, model.NewUserNotFoundError()
		}
		users = append(users, *u)
	}
	return users, nil
}

// load は課題を取得し、呼び出し元の権限を確認する。
// プロジェクトを参照できない場合は課題の存在を明かさない。
func (s *Service) load(ctx context.Context, actorID, assignmentID string, min model.Capability, operation string) (*model.Assignment, error) {
	if actorID == "" {
		return nil, model.NewAuthRequiredError()
	}
	a, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	if a == nil {
		return nil, model.NewAssignmentNotFoundError(assignmentID)
	}
	if _, err := s.auth.Require(ctx, actorID, a.ProjectID, min, operation); err != nil {
		if model.IsErrorCode(err, model.ErrCodeProjectNotFound) {
			return nil, model.NewAssignmentNotFoundError(assignmentID)
		}
		return nil, err
	}
	return a, nil
}

// Get は課題を返す。閲覧者以上が対象。
func (s *Service) Get(ctx context.Context, actorID, assignmentID string) (*model.Assignment, error) {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityViewer, "view assignment")
	if err != nil {
		return nil, err
	}
	return s.ledger.Overlay([]*model.Assignment{a})[0], nil
}

// List はプロジェクトの課題を返す。閲覧者以上が対象。
// 書き込み中の状態変更は StatusPending=true として反映される。
func (s *Service) List(ctx context.Context, actorID, projectID string) ([]*model.Assignment, error) {
	if _, err := s.auth.Require(ctx, actorID, projectID, model.CapabilityViewer, "list assignments"); err != nil {
		return nil, err
	}
	list, err := cache.Fetch(ctx, s.cache, cache.Assignments(projectID), func(ctx context.Context) ([]*model.Assignment, error) {
		list, err := s.assignments.ListByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list assignments: %w", err)
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return s.ledger.Overlay(list), nil
}

// UpdateStatus は課題の状態を変更する。編集者以上が対象。
// 書き込みの間は台帳に未確定の状態を記録し、失敗時は破棄する。
func (s *Service) UpdateStatus(ctx context.Context, actorID, assignmentID, rawStatus string) (*model.Assignment, error) {
	status := model.AssignmentStatus(rawStatus)
	if !status.Valid() {
		return nil, model.NewInvalidStatusError(rawStatus)
	}
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityEditor, "change assignment status")
	if err != nil {
		return nil, err
	}

	at := s.now()
	s.ledger.MarkPending(a.ID, status, at)

	updated, err := s.assignments.UpdateStatus(ctx, a.ID, status)
	if err != nil {
		s.ledger.Fail(a.ID, at)
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	if updated == nil {
		s.ledger.Fail(a.ID, at)
		return nil, model.NewAssignmentNotFoundError(assignmentID)
	}
	s.ledger.Confirm(a.ID, at)

	s.cache.Invalidate(ctx, cache.Assignments(a.ProjectID), cache.AllDashboards())
	return updated, nil
}

// SetAssignees は担当者を置き換える。編集者以上が対象。
func (s *Service) SetAssignees(ctx context.Context, actorID, assignmentID string, userIDs []string) (*model.Assignment, error) {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityEditor, "set assignees")
	if err != nil {
		return nil, err
	}
	assignees, err := s.resolveAssignees(ctx, a.ProjectID, userIDs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(assignees))
	for _, u := range assignees {
		ids = append(ids, u.ID)
	}
	if err := s.assignments.SetAssignees(ctx, a.ID, ids); err != nil {
		return nil, fmt.Errorf("failed to set assignees: %w", err)
	}

	s.cache.Invalidate(ctx, cache.Assignments(a.ProjectID))
	a.Assignees = assignees
	return a, nil
}

// Delete は課題を削除する。編集者以上が対象。
// 添付ファイルの実体は行の削除後に削除し、失敗はログに記録するのみ。
func (s *Service) Delete(ctx context.Context, actorID, assignmentID string) error {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityEditor, "delete assignment")
	if err != nil {
		return err
	}

	files, err := s.attachments.ListByAssignment(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to list attachments: %w", err)
	}
	if err := s.assignments.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}

	for _, f := range files {
		if s.blobs == nil {
			break
		}
		if err := s.blobs.Delete(ctx, f.StoragePath); err != nil {
			s.logger.Warn("failed to delete attachment blob",
				slog.String("attachment_id", f.ID),
				slog.String("path", f.StoragePath),
				slog.String("error", err.Error()),
			)
		}
	}

	s.cache.Invalidate(ctx, cache.Assignments(a.ProjectID), cache.AllDashboards())
	s.logger.Info("assignment deleted",
		slog.String("assignment_id", a.ID),
		slog.String("project_id", a.ProjectID),
		slog.String("actor_id", actorID),
	)
	return nil
}

// AddComment はコメントを投稿する。閲覧者以上が対象。
func (s *Service) AddComment(ctx context.Context, actorID, assignmentID, content string) (*model.Comment, error) {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityViewer, "comment")
	if err != nil {
		return nil, err
	}

	content = s.sanitizer.Plain(content)
	if content == "" {
		return nil, model.NewValidationError("comment is required")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return nil, model.NewValidationError(fmt.Sprintf("comment must be at most %d characters", maxCommentLength))
	}

	author, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find author: %w", err)
	}

	c := &model.Comment{
		ID:           uuid.New().String(),
		AssignmentID: a.ID,
		AuthorID:     actorID,
		Content:      content,
		CreatedAt:    s.now(),
	}
	if author != nil {
		c.AuthorName = author.Name
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	return c, nil
}

// ListComments は課題のコメントを投稿順に返す。閲覧者以上が対象。
func (s *Service) ListComments(ctx context.Context, actorID, assignmentID string) ([]*model.Comment, error) {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityViewer, "list comments")
	if err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByAssignment(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// UploadInput は添付ファイルのアップロード入力。
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadAttachment は添付ファイルを保存する。編集者以上が対象。
// 行の作成に失敗した場合は保存済みの実体を削除する。
func (s *Service) UploadAttachment(ctx context.Context, actorID, assignmentID string, in UploadInput) (*model.Attachment, error) {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityEditor, "upload attachment")
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, model.NewValidationError("attachments are not enabled")
	}
	if s.maxAttachmentSize > 0 && in.Size > s.maxAttachmentSize {
		return nil, model.NewAttachmentTooLargeError(s.maxAttachmentSize)
	}

	filename := s.sanitizer.Plain(filepath.Base(in.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, model.NewValidationError("filename is required")
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New().String()
	path := id + strings.ToLower(filepath.Ext(filename))
	if err := s.blobs.Upload(ctx, path, in.Body, in.Size, contentType); err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}

	att := &model.Attachment{
		ID:           id,
		AssignmentID: a.ID,
		Filename:     filename,
		ContentType:  contentType,
		StoragePath:  path,
		Size:         in.Size,
		UploadedBy:   actorID,
		CreatedAt:    s.now(),
	}
	if err := s.attachments.Create(ctx, att); err != nil {
		if derr := s.blobs.Delete(ctx, path); derr != nil {
			s.logger.Warn("failed to remove orphaned attachment blob",
				slog.String("path", path),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}

	s.logger.Info("attachment uploaded",
		slog.String("attachment_id", id),
		slog.String("assignment_id", a.ID),
		slog.Int64("size", in.Size),
	)
	return att, nil
}

// ListAttachments は課題の添付ファイルを返す。閲覧者以上が対象。
func (s *Service) ListAttachments(ctx context.Context, actorID, assignmentID string) ([]*model.Attachment, error) {
	a, err := s.load(ctx, actorID, assignmentID, model.CapabilityViewer, "list attachments")
	if err != nil {
		return nil, err
	}
	files, err := s.attachments.ListByAssignment(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return files, nil
}

// OpenAttachment は添付ファイルのメタデータと実体を返す。閲覧者以上が対象。
// 呼び出し元は返されたReadCloserを閉じる必要がある。
func (s *Service) OpenAttachment(ctx context.Context, actorID, attachmentID string) (*model.Attachment, io.ReadCloser, error) {
	att, err := s.attachments.FindByID(ctx, attachmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find attachment: %w", err)
	}
	if att == nil {
		return nil, nil, model.NewAttachmentNotFoundError(attachmentID)
	}
	if _, err := s.load(ctx, actorID, att.AssignmentID, model.CapabilityViewer, "download attachment"); err != nil {
		if model.IsErrorCode(err, model.ErrCodeAssignmentNotFound) {
			return nil, nil, model.NewAttachmentNotFoundError(attachmentID)
		}
		return nil, nil, err
	}

	if s.blobs == nil {
		return nil, nil, model.NewAttachmentNotFoundError(attachmentID)
	}
	body, err := s.blobs.Download(ctx, att.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	return att, body, nil
}
