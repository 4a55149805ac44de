// Package cache は読み取り結果の型付きキャッシュと明示的な無効化APIを提供する。
//
// キーは Key のコンストラクタでのみ生成する。各キーは無効化グループに属し、
// Invalidate はグループ単位で削除する。例えば権限キーはプロジェクト単位で
// まとめられ、メンバー変更時に全ユーザー分が一度に無効化される。
package cache

// Kind はキャッシュキーの種類。
type Kind string

const (
	KindTeamMembers        Kind = "team-members"
	KindCapability         Kind = "is-admin"
	KindProject            Kind = "project"
	KindProjects           Kind = "projects"
	KindAssignments        Kind = "assignments"
	KindDashboard          Kind = "dashboard"
	KindPendingInvitations Kind = "invitations"
	KindProjectInvitations Kind = "project-invitations"
)

// Key は型付きのキャッシュキー。
type Key struct {
	kind    Kind
	scope   string
	subject string
}

// TeamMembers はプロジェクトのメンバー一覧のキー。
func TeamMembers(projectID string) Key {
	return Key{kind: KindTeamMembers, scope: projectID}
}

// Capability はユーザーのプロジェクトに対する権限のキー。
func Capability(projectID, userID string) Key {
	return Key{kind: KindCapability, scope: projectID, subject: userID}
}

// AllCapabilities はプロジェクトの全ユーザーの権限キーを表す。無効化にのみ使う。
func AllCapabilities(projectID string) Key {
	return Key{kind: KindCapability, scope: projectID}
}

// Project はプロジェクト詳細のキー。
func Project(projectID string) Key {
	return Key{kind: KindProject, scope: projectID}
}

// Projects はユーザーのプロジェクト一覧のキー。
func Projects(userID string) Key {
	return Key{kind: KindProjects, subject: userID}
}

// AllProjects は全ユーザーのプロジェクト一覧を表す。無効化にのみ使う。
func AllProjects() Key {
	return Key{kind: KindProjects}
}

// Assignments はプロジェクトの課題一覧のキー。
func Assignments(projectID string) Key {
	return Key{kind: KindAssignments, scope: projectID}
}

// Dashboard はユーザーの横断課題一覧のキー。
func Dashboard(userID string) Key {
	return Key{kind: KindDashboard, subject: userID}
}

// AllDashboards は全ユーザーの横断課題一覧を表す。無効化にのみ使う。
func AllDashboards() Key {
	return Key{kind: KindDashboard}
}

// PendingInvitations はメールアドレス宛ての保留中の招待一覧のキー。
func PendingInvitations(email string) Key {
	return Key{kind: KindPendingInvitations, scope: email}
}

// ProjectInvitations はプロジェクトの保留中の招待一覧のキー。
func ProjectInvitations(projectID string) Key {
	return Key{kind: KindProjectInvitations, scope: projectID}
}

// Kind はキーの種類を返す。
func (k Key) Kind() Kind {
	return k.kind
}

// String はストア上のキー文字列を返す。
func (k Key) String() string {
	s := string(k.kind)
	if k.scope != "" {
		s += ":" + k.scope
	}
	if k.subject != "" {
		s += ":" + k.subject
	}
	return s
}

// Group はキーが属する無効化グループを返す。
func (k Key) Group() string {
	switch k.kind {
	case KindCapability:
		return string(k.kind) + ":" + k.scope
	case KindProjects, KindDashboard:
		return string(k.kind)
	default:
		return k.String()
	}
}
