package model

import (
	"strings"
	"time"
)

// InvitationStatus は招待の状態を表す。
// pending から accepted / rejected へのみ遷移し、終端状態からは遷移しない。
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

// Invitation はプロジェクトへの招待を表す。
// 招待先はメールアドレスで指定し、登録済みユーザーである必要はない。
type Invitation struct {
	ID           string
	ProjectID    string
	InviterID    string
	InviteeEmail string
	Status       InvitationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsPending は招待が未解決かを返す。
func (i *Invitation) IsPending() bool {
	return i.Status == InvitationPending
}

// PendingInvitation は招待先ユーザー向けの一覧表示用の招待。
type PendingInvitation struct {
	Invitation
	ProjectName string
	InviterName string
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
