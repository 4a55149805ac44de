package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []any
}

// mockExecutor はクエリごとの結果を返すExecutor。
// クエリに含まれるテーブル名で結果とエラーを切り替える。
type mockExecutor struct {
	mu    sync.Mutex
	calls []execCall
	rows  map[string]int64
	errs  map[string]error
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, execCall{query: query, args: args})
	for table, err := range m.errs {
		if strings.Contains(query, table) {
			return nil, err
		}
	}
	for table, n := range m.rows {
		if strings.Contains(query, table) {
			return &fakeResult{rowsAffected: n}, nil
		}
	}
	return &fakeResult{}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// findLogEntry はJSONログからkeyを含む最初のエントリを返す。
func findLogEntry(buf *bytes.Buffer, key string) map[string]any {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	return nil
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, nil)

	if job.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", job.RetentionDays)
	}
}

func TestCleanupJob_Run_DeletesSessionsAndInvitations(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{rows: map[string]int64{"sessions": 3, "project_invitations": 7}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if res.Sessions != 3 || res.Invitations != 7 {
		t.Errorf("Result = %+v, want {3 7}", res)
	}
	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext の呼び出し回数 = %d, want 2", len(mock.calls))
	}
	if !strings.Contains(mock.calls[0].query, "DELETE FROM sessions") || !strings.Contains(mock.calls[0].query, "expires_at") {
		t.Errorf("セッション削除のクエリが想定外: %s", mock.calls[0].query)
	}
}

// 保留中の招待は保持期間を過ぎても削除しない
func TestCleanupJob_Run_KeepsPendingInvitations(t *testing.T) {
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&bytes.Buffer{}))

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	q := mock.calls[1].query
	if !strings.Contains(q, "DELETE FROM project_invitations") {
		t.Fatalf("招待削除のクエリが想定外: %s", q)
	}
	if !strings.Contains(q, "status <> 'pending'") {
		t.Errorf("保留中の招待を除外する条件がない: %s", q)
	}
}

func TestCleanupJob_Run_UsesRetentionInterval(t *testing.T) {
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&bytes.Buffer{}))
	job.RetentionDays = 30

	_, _ = job.Run(context.Background())

	args := mock.calls[1].args
	if len(args) != 1 {
		t.Fatalf("引数の数 = %d, want 1", len(args))
	}
	if got, _ := args[0].(string); got != "30 days" {
		t.Errorf("interval引数 = %q, want %q", got, "30 days")
	}
}

func TestCleanupJob_Run_LogsCounts(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{rows: map[string]int64{"sessions": 0, "project_invitations": 42}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	_, _ = job.Run(context.Background())

	entry := findLogEntry(&buf, "deleted_invitations")
	if entry == nil {
		t.Fatalf("完了ログが出力されていない: %s", buf.String())
	}
	if entry["deleted_invitations"] != float64(42) || entry["deleted_sessions"] != float64(0) {
		t.Errorf("削除件数のログが想定外: %v", entry)
	}
	if entry["retention_days"] != float64(90) {
		t.Errorf("retention_days = %v, want 90", entry["retention_days"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms が記録されていない")
	}
}

func TestCleanupJob_Run_StopsOnSessionFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{errs: map[string]error{"sessions": sql.ErrConnDone}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	_, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("セッション削除の失敗後に招待削除を実行してはならない (calls=%d)", len(mock.calls))
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("ERRORレベルのログが記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&bytes.Buffer{}))

	for i := 0; i < 2; i++ {
		res, err := job.Run(context.Background())
		if err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
		if res != (Result{}) {
			t.Errorf("%d回目: Result = %+v, want zero", i+1, res)
		}
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStops(t *testing.T) {
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mock.callCount() < 2 {
		t.Fatal("起動直後の実行が行われていない")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後もStartが終了しない")
	}
}
