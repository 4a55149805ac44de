package assignment

import (
	"sync"
	"time"

	"github.com/hitoshi/taskboard/internal/model"
)

// pendingStatus は書き込み中の状態変更。
type pendingStatus struct {
	status model.AssignmentStatus
	at     time.Time
}

// StatusLedger は状態変更の楽観的更新を管理する。
//
// 書き込み開始時に MarkPending で未確定の状態を記録し、一覧には Overlay で反映する。
// ストアの確定値（updated_at が記録時刻以降）を受け取ると Reconcile で消去し、
// 書き込み失敗時は Fail で消去して元の状態に戻す。
type StatusLedger struct {
	mu      sync.Mutex
	entries map[string]pendingStatus
}

// NewStatusLedger はStatusLedgerを生成する。
func NewStatusLedger() *StatusLedger {
	return &StatusLedger{entries: make(map[string]pendingStatus)}
}

// MarkPending は課題の未確定の状態を記録する。同じ課題の古い記録は置き換える。
func (l *StatusLedger) MarkPending(id string, status model.AssignmentStatus, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = pendingStatus{status: status, at: at}
}

// Confirm は at 時点で記録した変更が書き込まれたことを反映する。
// その後に新しい変更が記録されていれば何もしない。
func (l *StatusLedger) Confirm(id string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok && e.at.Equal(at) {
		delete(l.entries, id)
	}
}

// Reconcile はストアの確定値を受け取る。
// updatedAt が記録時刻以降なら確定として消去しtrueを返す。
// 記録より古い通知は無視する。
func (l *StatusLedger) Reconcile(id string, status model.AssignmentStatus, updatedAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok || updatedAt.Before(e.at) {
		return false
	}
	delete(l.entries, id)
	return true
}

// Fail は書き込みに失敗した変更を破棄する。
func (l *StatusLedger) Fail(id string, at time.Time) {
	l.Confirm(id, at)
}

// Pending は課題の未確定の状態を返す。
func (l *StatusLedger) Pending(id string) (model.AssignmentStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	return e.status, ok
}

// Overlay は未確定の状態を反映した課題のコピーを返す。
// 引数のスライスと要素は変更しない。
func (l *StatusLedger) Overlay(list []*model.Assignment) []*model.Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*model.Assignment, len(list))
	for i, a := range list {
		e, ok := l.entries[a.ID]
		if !ok {
			out[i] = a
			continue
		}
		cp := *a
		cp.Status = e.status
		cp.StatusPending = true
		out[i] = &cp
	}
	return out
}

// Len は未確定の記録数を返す。
func (l *StatusLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
