// Package realtime はストアの行変更通知を購読し、依存するキャッシュを無効化する。
//
// PostgreSQLのトリガーが pg_notify で送る変更を PGListener が受信し、
// Hub がテーブル単位の購読者へ配信する。Bridge は購読した変更から
// 無効化すべきキャッシュキーを導出する。
package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Table は変更通知の対象テーブル。
type Table string

const (
	TableProjects            Table = "projects"
	TableProjectMembers      Table = "project_members"
	TableProjectInvitations  Table = "project_invitations"
	TableAssignments         Table = "assignments"
	TableAssignmentAssignees Table = "assignment_assignees"
)

// Tables は変更通知を送る全テーブル。
var Tables = []Table{
	TableProjects,
	TableProjectMembers,
	TableProjectInvitations,
	TableAssignments,
	TableAssignmentAssignees,
}

// Valid は通知対象のテーブルかを返す。
func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// Op は行に対する操作の種類。
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent は1行の変更通知。テーブルによって設定される項目が異なる。
type ChangeEvent struct {
	Table     Table      `json:"table"`
	Op        Op         `json:"op"`
	RecordID  string     `json:"id"`
	ProjectID string     `json:"project_id"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"invitee_email"`
	Status    string     `json:"status"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// ErrUnknownTable は通知対象外のテーブルの通知を受け取ったことを表す。
var ErrUnknownTable = errors.New("realtime: unknown table")

// DecodeEvent はトリガーが送るJSONペイロードを変換する。
func DecodeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	if !ev.Table.Valid() {
		return ChangeEvent{}, fmt.Errorf("%w: %q", ErrUnknownTable, ev.Table)
	}
	return ev, nil
}
