// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/taskboard/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("repository: duplicate record")

// ErrNotPending は招待が既にpendingでない（競合で先に解決された）ことを表す。
var ErrNotPending = errors.New("repository: invitation is not pending")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから取得した表示名とアバターを反映する。
	UpdateProfile(ctx context.Context, userID, name, avatarURL string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ProjectAccess は権限判定に必要なプロジェクトのオーナーと対象ユーザーのロール。
// メンバーでない場合 Role は空文字列。
type ProjectAccess struct {
	ProjectID string
	OwnerID   string
	Role      model.Role
}

// AccessRepository は権限判定用の問い合わせインターフェース。
type AccessRepository interface {
	// FindAccess はプロジェクトのオーナーとユーザーのロールを1回の問い合わせで取得する。
	// プロジェクトが存在しない場合はnilを返す。
	FindAccess(ctx context.Context, projectID, userID string) (*ProjectAccess, error)
}

// ProjectRepository はプロジェクトデータの永続化インターフェース。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)
	// Create はプロジェクトを作成する。オーナーのメンバー行は作成しない。
	Create(ctx context.Context, project *model.Project) error
	// Update は名前と説明を更新する。
	Update(ctx context.Context, project *model.Project) error
	// Delete はプロジェクトを削除する。メンバー、招待、課題はCASCADE削除される。
	Delete(ctx context.Context, id string) error
	// ListForUser はユーザーがオーナーまたはメンバーであるプロジェクトを作成日時の降順で返す。
	ListForUser(ctx context.Context, userID string) ([]*model.Project, error)
}

// MemberRow はユーザー情報を結合したメンバー行。
type MemberRow struct {
	Membership model.Membership
	User       model.User
}

// MemberRepository はプロジェクトメンバーの永続化インターフェース。
type MemberRepository interface {
	// Find は(projectID, userID)のメンバー行を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, projectID, userID string) (*model.Membership, error)
	// Create はメンバー行を作成する。既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, m *model.Membership) error
	// UpdateRole はロールを更新する。対象行が存在しない場合はfalseを返す。
	UpdateRole(ctx context.Context, projectID, userID string, role model.Role) (bool, error)
	// Delete はメンバー行を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, projectID, userID string) error
	// ListByProject はプロジェクトの全メンバー行をユーザー名順で返す。
	ListByProject(ctx context.Context, projectID string) ([]MemberRow, error)
}

// InvitationRepository は招待の永続化インターフェース。
type InvitationRepository interface {
	// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invitation, error)
	// FindPending は(projectID, email)の保留中の招待を取得する。見つからない場合はnilを返す。
	FindPending(ctx context.Context, projectID, email string) (*model.Invitation, error)
	// Create は招待を作成する。保留中の招待が既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, inv *model.Invitation) error
	// Accept は招待をacceptedにし、membershipがnilでなければメンバー行を同一トランザクションで作成する。
	// 招待がpendingでない場合はErrNotPendingを返し、何も変更しない。
	// メンバー行が既に存在した場合は joined=false を返す。
	Accept(ctx context.Context, id string, membership *model.Membership) (joined bool, err error)
	// Reject は招待をrejectedにする。pendingでない場合はErrNotPendingを返す。
	Reject(ctx context.Context, id string) error
	// ListPendingByEmail はメールアドレス宛ての保留中の招待を返す。
	ListPendingByEmail(ctx context.Context, email string) ([]*model.PendingInvitation, error)
	// ListPendingByProject はプロジェクトの保留中の招待を返す。
	ListPendingByProject(ctx context.Context, projectID string) ([]*model.Invitation, error)
}

// AssignmentRepository は課題の永続化インターフェース。
type AssignmentRepository interface {
	// FindByID は担当者を含む課題を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Assignment, error)
	// Create は課題と担当者を同一トランザクションで作成する。
	Create(ctx context.Context, a *model.Assignment) error
	// UpdateStatus は状態を更新し、更新後の課題を返す。見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, id string, status model.AssignmentStatus) (*model.Assignment, error)
	// SetAssignees は担当者を置き換える。
	SetAssignees(ctx context.Context, id string, userIDs []string) error
	// Delete は課題を削除する。コメントと添付ファイル行はCASCADE削除される。
	Delete(ctx context.Context, id string) error
	// ListByProject はプロジェクトの課題を期限日順で返す。
	ListByProject(ctx context.Context, projectID string) ([]*model.Assignment, error)
	// ListForUser はユーザーが参照可能な全プロジェクトの課題を返す。
	ListForUser(ctx context.Context, userID string) ([]*model.Assignment, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。
	Create(ctx context.Context, c *model.Comment) error
	// ListByAssignment は課題のコメントを作成日時の昇順で返す。
	ListByAssignment(ctx context.Context, assignmentID string) ([]*model.Comment, error)
}

// AttachmentRepository は添付ファイルメタデータの永続化インターフェース。
type AttachmentRepository interface {
	// Create は添付ファイル行を作成する。
	Create(ctx context.Context, a *model.Attachment) error
	// FindByID は指定IDの添付ファイルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Attachment, error)
	// ListByAssignment は課題の添付ファイルを返す。
	ListByAssignment(ctx context.Context, assignmentID string) ([]*model.Attachment, error)
}
