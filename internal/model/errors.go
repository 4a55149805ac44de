package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, member, invitation, assignment, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeSelfRoleChange      = "SELF_ROLE_CHANGE"
	ErrCodeOwnerRoleImmutable  = "OWNER_ROLE_IMMUTABLE"
	ErrCodeProjectNotFound     = "PROJECT_NOT_FOUND"
	ErrCodeMemberNotFound      = "MEMBER_NOT_FOUND"
	ErrCodeDuplicateMember     = "DUPLICATE_MEMBER"
	ErrCodeInvitationNotFound  = "INVITATION_NOT_FOUND"
	ErrCodeAlreadyResolved     = "INVITATION_ALREADY_RESOLVED"
	ErrCodeDuplicateInvitation = "DUPLICATE_INVITATION"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeAssignmentNotFound  = "ASSIGNMENT_NOT_FOUND"
	ErrCodeAttachmentNotFound  = "ATTACHMENT_NOT_FOUND"
	ErrCodeAttachmentTooLarge  = "ATTACHMENT_TOO_LARGE"
	ErrCodeInvalidRole         = "INVALID_ROLE"
	ErrCodeInvalidStatus       = "INVALID_STATUS"
	ErrCodeInvalidPriority     = "INVALID_PRIORITY"
	ErrCodeInvalidEmail        = "INVALID_EMAIL"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
)

// IsErrorCode はerrがcodeを持つAPIErrorかを返す。
func IsErrorCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewAuthRequiredError は未認証エラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
func NewPermissionDeniedError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", operation),
		Category: "auth",
		Action:   "プロジェクトのオーナーまたは編集者に依頼してください。",
	}
}

// NewSelfRoleChangeError はオーナー以外が自身のロールを変更しようとした場合のエラーを生成する。
func NewSelfRoleChangeError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfRoleChange,
		Message:  "自分自身のロールは変更できません。",
		Category: "member",
		Action:   "プロジェクトのオーナーに変更を依頼してください。",
	}
}

// NewOwnerRoleImmutableError はオーナーのロールを変更しようとした場合のエラーを生成する。
func NewOwnerRoleImmutableError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnerRoleImmutable,
		Message:  "プロジェクトオーナーのロールは変更できません。",
		Category: "member",
		Action:   "オーナー以外のメンバーを選択してください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
// 参照権限のないプロジェクトにも同じエラーを返し、存在を秘匿する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewMemberNotFoundError はメンバー未検出エラーを生成する。
func NewMemberNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定されたメンバーが見つかりません: %s", userID),
		Category: "member",
		Action:   "メンバー一覧を再読み込みしてください。",
	}
}

// NewDuplicateMemberError は既にメンバーであるユーザーを追加しようとした場合のエラーを生成する。
func NewDuplicateMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateMember,
		Message:  "このユーザーは既にプロジェクトのメンバーです。",
		Category: "member",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewInvitationNotFoundError は招待未検出エラーを生成する。
func NewInvitationNotFoundError(invitationID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotFound,
		Message:  fmt.Sprintf("指定された招待が見つかりません: %s", invitationID),
		Category: "invitation",
		Action:   "招待一覧を再読み込みしてください。",
	}
}

// NewAlreadyResolvedError は解決済みの招待を操作しようとした場合のエラーを生成する。
func NewAlreadyResolvedError(status InvitationStatus) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyResolved,
		Message:  fmt.Sprintf("この招待は既に処理されています: %s", status),
		Category: "invitation",
		Action:   "招待一覧を再読み込みしてください。",
	}
}

// NewDuplicateInvitationError は同一メールアドレスへの保留中の招待が既に存在する場合のエラーを生成する。
func NewDuplicateInvitationError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateInvitation,
		Message:  fmt.Sprintf("このメールアドレスには既に招待を送信済みです: %s", email),
		Category: "invitation",
		Action:   "相手が招待に応答するまでお待ちください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "member",
		Action:   "登録済みのメールアドレスを指定するか、招待を送信してください。",
	}
}

// NewAssignmentNotFoundError は課題未検出エラーを生成する。
func NewAssignmentNotFoundError(assignmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssignmentNotFound,
		Message:  fmt.Sprintf("指定された課題が見つかりません: %s", assignmentID),
		Category: "assignment",
		Action:   "課題IDを確認してください。",
	}
}

// NewAttachmentNotFoundError は添付ファイル未検出エラーを生成する。
func NewAttachmentNotFoundError(attachmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeAttachmentNotFound,
		Message:  fmt.Sprintf("指定された添付ファイルが見つかりません: %s", attachmentID),
		Category: "assignment",
		Action:   "添付ファイル一覧を再読み込みしてください。",
	}
}

// NewAttachmentTooLargeError は添付ファイルがサイズ上限を超えた場合のエラーを生成する。
func NewAttachmentTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeAttachmentTooLarge,
		Message:  fmt.Sprintf("添付ファイルのサイズが上限（%dバイト）を超えています。", limit),
		Category: "validation",
		Action:   "ファイルサイズを小さくしてから再度アップロードしてください。",
	}
}

// NewInvalidRoleError は無効なロールエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "ロールには editor または viewer を指定してください。",
	}
}

// NewInvalidStatusError は無効な課題状態エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効な状態です: %s", status),
		Category: "validation",
		Action:   "状態には pending、in-progress、completed のいずれかを指定してください。",
	}
}

// NewInvalidPriorityError は無効な優先度エラーを生成する。
func NewInvalidPriorityError(priority string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("無効な優先度です: %s", priority),
		Category: "validation",
		Action:   "優先度には low、medium、high のいずれかを指定してください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
