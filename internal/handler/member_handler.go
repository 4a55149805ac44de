package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/taskboard/internal/model"
)

// MembershipServiceInterface はメンバーハンドラーが必要とするサービスインターフェース。
type MembershipServiceInterface interface {
	AddMember(ctx context.Context, actorID, projectID, email string, role model.Role) (*model.Member, error)
	UpdateRole(ctx context.Context, actorID, projectID, userID string, newRole model.Role) error
	RemoveMember(ctx context.Context, actorID, projectID, userID string) error
	ListMembers(ctx context.Context, actorID, projectID string) ([]model.Member, error)
}

// MemberHandler はプロジェクトメンバー関連のHTTPハンドラー。
type MemberHandler struct {
	service MembershipServiceInterface
}

// NewMemberHandler はMemberHandlerを生成する。
func NewMemberHandler(service MembershipServiceInterface) *MemberHandler {
	return &MemberHandler{service: service}
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// parseRole は入力のロールを正規化する。旧語彙のadmin/memberも受け付ける。
// 空の場合はfallbackを返す。
func parseRole(w http.ResponseWriter, raw string, fallback model.Role) (model.Role, bool) {
	if raw == "" && fallback != "" {
		return fallback, true
	}
	role, ok := model.ParseRole(raw)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(raw))
		return "", false
	}
	return role, true
}

// ListMembers はオーナーを含むメンバー一覧を返す。
// GET /api/projects/{projectID}/members
func (h *MemberHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), userID, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]memberResponse, len(members))
	for i, m := range members {
		resp[i] = toMemberResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddMember は登録済みユーザーをメンバーに追加する。ロール省略時は閲覧者。
// POST /api/projects/{projectID}/members
func (h *MemberHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, ok := parseRole(w, req.Role, model.DefaultInviteeRole)
	if !ok {
		return
	}

	m, err := h.service.AddMember(r.Context(), userID, projectID, req.Email, role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(*m))
}

// UpdateRole はメンバーのロールを変更する。
// PATCH /api/projects/{projectID}/members/{userID}
func (h *MemberHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "userID", model.NewMemberNotFoundError)
	if !ok {
		return
	}
	var req updateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, ok := parseRole(w, req.Role, "")
	if !ok {
		return
	}

	if err := h.service.UpdateRole(r.Context(), actorID, projectID, memberID, role); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": memberID,
		"role":    string(role),
	})
}

// RemoveMember はメンバーを削除する。
// DELETE /api/projects/{projectID}/members/{userID}
func (h *MemberHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "userID", model.NewMemberNotFoundError)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), actorID, projectID, memberID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
