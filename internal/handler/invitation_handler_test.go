package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/taskboard/internal/invitation"
	"github.com/hitoshi/taskboard/internal/model"
)

func TestInvitationHandler_CreateInvitation(t *testing.T) {
	var gotEmail string
	svc := &mockInvitationService{
		createFn: func(ctx context.Context, inviterID, projectID, email string) (*model.Invitation, error) {
			gotEmail = email
			return &model.Invitation{
				ID:           testInvitationID,
				ProjectID:    projectID,
				InviterID:    inviterID,
				InviteeEmail: "bob@example.com",
				Status:       model.InvitationPending,
			}, nil
		},
	}
	h := NewInvitationHandler(svc)

	req := newJSONRequest(t, http.MethodPost, "/invitations", map[string]string{"email": " Bob@Example.com "})
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.CreateInvitation(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	// 正規化はサービス層の責務
	if gotEmail != " Bob@Example.com " {
		t.Errorf("email = %q, want raw input", gotEmail)
	}
	var body invitationResponse
	decodeBody(t, w, &body)
	if body.Status != "pending" || body.InviteeEmail != "bob@example.com" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestInvitationHandler_CreateInvitation_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"duplicate pending", model.NewDuplicateInvitationError("bob@example.com"), http.StatusConflict},
		{"viewer cannot invite", model.NewPermissionDeniedError("invite"), http.StatusForbidden},
		{"invalid email", model.NewInvalidEmailError("nope"), http.StatusBadRequest},
		{"already member", model.NewDuplicateMemberError(), http.StatusConflict},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInvitationService{
				createFn: func(ctx context.Context, inviterID, projectID, email string) (*model.Invitation, error) {
					return nil, tt.err
				},
			}
			h := NewInvitationHandler(svc)

			req := newJSONRequest(t, http.MethodPost, "/invitations", map[string]string{"email": "bob@example.com"})
			req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
			w := httptest.NewRecorder()
			h.CreateInvitation(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestInvitationHandler_ListPending_IncludesProjectAndInviter(t *testing.T) {
	svc := &mockInvitationService{
		listPendingForFn: func(ctx context.Context, userID string) ([]*model.PendingInvitation, error) {
			return []*model.PendingInvitation{{
				Invitation:  model.Invitation{ID: testInvitationID, Status: model.InvitationPending},
				ProjectName: "Alpha",
				InviterName: "Alice",
			}}, nil
		},
	}
	h := NewInvitationHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/invitations", nil), testUserID)
	w := httptest.NewRecorder()
	h.ListPending(w, req)

	var body []invitationResponse
	decodeBody(t, w, &body)
	if len(body) != 1 || body[0].ProjectName != "Alpha" || body[0].InviterName != "Alice" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestInvitationHandler_Accept(t *testing.T) {
	var gotInvitation, gotUser string
	svc := &mockInvitationService{
		acceptFn: func(ctx context.Context, invitationID, userID string) (*invitation.AcceptResult, error) {
			gotInvitation, gotUser = invitationID, userID
			return &invitation.AcceptResult{
				Invitation: &model.Invitation{ID: invitationID, Status: model.InvitationAccepted},
				Joined:     true,
			}, nil
		},
	}
	h := NewInvitationHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/accept", nil)
	req = withChiURLParams(withUserID(req, testOtherUserID), "invitationID", testInvitationID)
	w := httptest.NewRecorder()
	h.Accept(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotInvitation != testInvitationID || gotUser != testOtherUserID {
		t.Errorf("Accept called with (%q, %q)", gotInvitation, gotUser)
	}
	var body acceptResponse
	decodeBody(t, w, &body)
	if !body.Joined || body.Invitation.Status != "accepted" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestInvitationHandler_Accept_Errors(t *testing.T) {
	tests := []struct {
		name         string
		invitationID string
		err          error
		wantStatus   int
		wantCode     string
	}{
		{"invalid id", "bogus", nil, http.StatusNotFound, model.ErrCodeInvitationNotFound},
		{"already resolved", testInvitationID, model.NewAlreadyResolvedError(model.InvitationAccepted), http.StatusConflict, model.ErrCodeAlreadyResolved},
		{"other recipient", testInvitationID, model.NewInvitationNotFoundError(testInvitationID), http.StatusNotFound, model.ErrCodeInvitationNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInvitationService{
				acceptFn: func(ctx context.Context, invitationID, userID string) (*invitation.AcceptResult, error) {
					return nil, tt.err
				},
			}
			h := NewInvitationHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/accept", nil)
			req = withChiURLParams(withUserID(req, testOtherUserID), "invitationID", tt.invitationID)
			w := httptest.NewRecorder()
			h.Accept(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestInvitationHandler_Reject(t *testing.T) {
	h := NewInvitationHandler(&mockInvitationService{})

	req := httptest.NewRequest(http.MethodPost, "/reject", nil)
	req = withChiURLParams(withUserID(req, testOtherUserID), "invitationID", testInvitationID)
	w := httptest.NewRecorder()
	h.Reject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body invitationResponse
	decodeBody(t, w, &body)
	if body.Status != "rejected" {
		t.Errorf("status = %q, want rejected", body.Status)
	}
}

func TestInvitationHandler_ListProjectInvitations(t *testing.T) {
	svc := &mockInvitationService{
		listForProjectFn: func(ctx context.Context, actorID, projectID string) ([]*model.Invitation, error) {
			return []*model.Invitation{
				{ID: "i1", ProjectID: projectID, Status: model.InvitationPending},
				{ID: "i2", ProjectID: projectID, Status: model.InvitationRejected},
			}, nil
		},
	}
	h := NewInvitationHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/invitations", nil)
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.ListProjectInvitations(w, req)

	var body []invitationResponse
	decodeBody(t, w, &body)
	if len(body) != 2 || body[1].Status != "rejected" {
		t.Errorf("unexpected body: %+v", body)
	}
}
