package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/taskboard/internal/invitation"
	"github.com/hitoshi/taskboard/internal/model"
)

// InvitationServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InvitationServiceInterface interface {
	Create(ctx context.Context, inviterID, projectID, email string) (*model.Invitation, error)
	Accept(ctx context.Context, invitationID, userID string) (*invitation.AcceptResult, error)
	Reject(ctx context.Context, invitationID, userID string) (*model.Invitation, error)
	ListPendingFor(ctx context.Context, userID string) ([]*model.PendingInvitation, error)
	ListForProject(ctx context.Context, actorID, projectID string) ([]*model.Invitation, error)
}

// InvitationHandler は招待関連のHTTPハンドラー。
type InvitationHandler struct {
	service InvitationServiceInterface
}

// NewInvitationHandler はInvitationHandlerを生成する。
func NewInvitationHandler(service InvitationServiceInterface) *InvitationHandler {
	return &InvitationHandler{service: service}
}

type createInvitationRequest struct {
	Email string `json:"email"`
}

// CreateInvitation はメールアドレス宛ての招待を作成する。
// POST /api/projects/{projectID}/invitations
func (h *InvitationHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	var req createInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := h.service.Create(r.Context(), userID, projectID, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvitationResponse(inv))
}

// ListProjectInvitations はプロジェクトの招待一覧を返す。
// GET /api/projects/{projectID}/invitations
func (h *InvitationHandler) ListProjectInvitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	list, err := h.service.ListForProject(r.Context(), userID, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]invitationResponse, len(list))
	for i, inv := range list {
		resp[i] = toInvitationResponse(inv)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPending はログインユーザー宛ての保留中の招待を返す。
// GET /api/invitations
func (h *InvitationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListPendingFor(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]invitationResponse, len(list))
	for i, p := range list {
		resp[i] = toPendingInvitationResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Accept は招待を承認する。
// POST /api/invitations/{invitationID}/accept
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	invitationID, ok := pathID(w, r, "invitationID", model.NewInvitationNotFoundError)
	if !ok {
		return
	}

	res, err := h.service.Accept(r.Context(), invitationID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{
		Invitation: toInvitationResponse(res.Invitation),
		Joined:     res.Joined,
	})
}

// Reject は招待を拒否する。
// POST /api/invitations/{invitationID}/reject
func (h *InvitationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	invitationID, ok := pathID(w, r, "invitationID", model.NewInvitationNotFoundError)
	if !ok {
		return
	}

	inv, err := h.service.Reject(r.Context(), invitationID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvitationResponse(inv))
}
