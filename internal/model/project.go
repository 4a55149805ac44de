package model

import (
	"strings"
	"time"
)

// Project はプロジェクトを表す。
// OwnerIDは作成時に設定され、以後変更されない。
type Project struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Role はオーナー以外のメンバーのロールを表す。
type Role string

const (
	// RoleEditor は書き込み権限を持つメンバー。
	RoleEditor Role = "editor"
	// RoleViewer は閲覧のみのメンバー。
	RoleViewer Role = "viewer"
)

// DefaultInviteeRole は招待承認時に付与されるロール。
const DefaultInviteeRole = RoleViewer

// Valid はロールが正規の語彙に含まれるかを返す。
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

// ParseRole は入力文字列をロールに変換する。
// 旧語彙の admin / member はそれぞれ editor / viewer として受け付ける。
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "editor", "admin":
		return RoleEditor, true
	case "viewer", "member":
		return RoleViewer, true
	default:
		return "", false
	}
}

// Membership はプロジェクトとユーザーの所属関係を表す。
// (ProjectID, UserID) は一意。オーナーは行として保持しない。
type Membership struct {
	ProjectID string
	UserID    string
	Role      Role
	CreatedAt time.Time
}

// Member はメンバー一覧の1要素。
// オーナーは IsOwner=true、Role=editor として合成される。
type Member struct {
	User    User
	Role    Role
	IsOwner bool
}

// Capability はユーザーがプロジェクトに対して持つ権限レベル。
// 値の大小がそのまま権限の強さを表す。
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityViewer
	CapabilityEditor
	CapabilityOwner
)

// String はCapabilityの文字列表現を返す。
func (c Capability) String() string {
	switch c {
	case CapabilityOwner:
		return "owner"
	case CapabilityEditor:
		return "editor"
	case CapabilityViewer:
		return "viewer"
	default:
		return "none"
	}
}

// CanView はプロジェクトを参照できるかを返す。
func (c Capability) CanView() bool {
	return c >= CapabilityViewer
}

// CanMutate は課題の変更、招待、ロール変更、プロジェクト削除が可能かを返す。
func (c Capability) CanMutate() bool {
	return c >= CapabilityEditor
}

// CapabilityFromRole はメンバーのロールに対応するCapabilityを返す。
func CapabilityFromRole(r Role) Capability {
	switch r {
	case RoleEditor:
		return CapabilityEditor
	case RoleViewer:
		return CapabilityViewer
	default:
		return CapabilityNone
	}
}
