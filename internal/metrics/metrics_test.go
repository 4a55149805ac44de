package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordCapabilityCheck_CountsPerLevel は権限レベル別に集計されることを検証する。
func TestRecordCapabilityCheck_CountsPerLevel(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordCapabilityCheck("editor")
	c.RecordCapabilityCheck("editor")
	c.RecordCapabilityCheck("none")

	if got := testutil.ToFloat64(c.capabilityChecks.WithLabelValues("editor")); got != 2 {
		t.Errorf("editor = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.capabilityChecks.WithLabelValues("none")); got != 1 {
		t.Errorf("none = %v, want 1", got)
	}
}

// TestRecordInvitation_CountsPerOutcome は招待結果別に集計されることを検証する。
func TestRecordInvitation_CountsPerOutcome(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordInvitation("accepted")
	c.RecordInvitation("already_joined")

	if got := testutil.ToFloat64(c.invitations.WithLabelValues("accepted")); got != 1 {
		t.Errorf("accepted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.invitations.WithLabelValues("already_joined")); got != 1 {
		t.Errorf("already_joined = %v, want 1", got)
	}
}

// TestRecordCacheResult_SeparatesHitAndMiss はヒットとミスが区別されることを検証する。
func TestRecordCacheResult_SeparatesHitAndMiss(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordCacheResult("team-members", true)
	c.RecordCacheResult("team-members", false)
	c.RecordCacheResult("team-members", false)

	if got := testutil.ToFloat64(c.cacheRequests.WithLabelValues("team-members", "hit")); got != 1 {
		t.Errorf("hit = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheRequests.WithLabelValues("team-members", "miss")); got != 2 {
		t.Errorf("miss = %v, want 2", got)
	}
}

// TestRecordRealtime_Counters は変更通知関連のカウンタを検証する。
func TestRecordRealtime_Counters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordRealtimeEvent("project_members", "insert")
	c.RecordCacheInvalidation("project_members")
	c.RecordDroppedSubscription("assignments")

	if got := testutil.ToFloat64(c.realtimeEvents.WithLabelValues("project_members", "insert")); got != 1 {
		t.Errorf("events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheInvalidations.WithLabelValues("project_members")); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.droppedSubs.WithLabelValues("assignments")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

// TestRecordHTTPStatus_IncrementsByCode はステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_IncrementsByCode(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)
	c.RecordHTTPStatus(403)

	if got := testutil.ToFloat64(c.httpStatus.WithLabelValues("403")); got != 2 {
		t.Errorf("403 = %v, want 2", got)
	}
}

// TestHandler_ServesMetrics はハンドラーがメトリクスを出力することを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordInvitation("created")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "taskboard_invitations_total") {
		t.Error("response should contain taskboard_invitations_total")
	}
}
