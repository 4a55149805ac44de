package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/view"
)

// ViewServiceInterface はダッシュボードとカレンダーの集計を提供する。
type ViewServiceInterface interface {
	Dashboard(ctx context.Context, userID string) (view.Stats, error)
	Calendar(ctx context.Context, userID, from, to string, loc *time.Location) ([]view.DayBucket, error)
}

// ViewHandler はユーザー横断の集計ビューのHTTPハンドラー。
type ViewHandler struct {
	service ViewServiceInterface
}

// NewViewHandler はViewHandlerを生成する。
func NewViewHandler(service ViewServiceInterface) *ViewHandler {
	return &ViewHandler{service: service}
}

// Dashboard は参照可能な全課題の状態別件数を返す。
// GET /api/dashboard
func (h *ViewHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Dashboard(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// Calendar は参照可能な課題を期限日ごとにまとめて返す。
// GET /api/calendar?from=YYYY-MM-DD&to=YYYY-MM-DD&tz=Asia/Tokyo
func (h *ViewHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("from/to は YYYY-MM-DD 形式で指定してください。"))
			return
		}
	}
	if from != "" && to != "" && from > to {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("from は to 以前の日付を指定してください。"))
		return
	}

	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("タイムゾーンが不正です。"))
			return
		}
		loc = l
	}

	buckets, err := h.service.Calendar(r.Context(), userID, from, to, loc)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDayBucketResponses(buckets))
}
