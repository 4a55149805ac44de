package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/project"
	"github.com/hitoshi/taskboard/internal/view"
)

func newTestProjectHandler(svc *mockProjectService, caps map[string]model.Capability, stats *mockViewService) *ProjectHandler {
	if stats == nil {
		stats = &mockViewService{}
	}
	return NewProjectHandler(svc, &mockAccess{caps: caps}, stats)
}

func TestProjectHandler_ListProjects_MarksOwnedProjects(t *testing.T) {
	svc := &mockProjectService{
		listForUserFn: func(ctx context.Context, userID string) ([]*model.Project, error) {
			return []*model.Project{
				{ID: testProjectID, Name: "Mine", OwnerID: userID},
				{ID: "p-other", Name: "Theirs", OwnerID: testOtherUserID},
			}, nil
		},
	}
	h := newTestProjectHandler(svc, nil, nil)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/projects", nil), testUserID)
	w := httptest.NewRecorder()
	h.ListProjects(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body []projectResponse
	decodeBody(t, w, &body)
	if len(body) != 2 {
		t.Fatalf("len = %d, want 2", len(body))
	}
	if body[0].Capability != "owner" {
		t.Errorf("owned project capability = %q, want owner", body[0].Capability)
	}
	if body[1].Capability != "" {
		t.Errorf("member project capability = %q, want empty", body[1].Capability)
	}
}

func TestProjectHandler_ListProjects_NoUser_ReturnsUnauthorized(t *testing.T) {
	h := newTestProjectHandler(&mockProjectService{}, nil, nil)

	w := httptest.NewRecorder()
	h.ListProjects(w, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeAuthRequired {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeAuthRequired)
	}
}

func TestProjectHandler_CreateProject_Success(t *testing.T) {
	var gotOwner, gotName string
	svc := &mockProjectService{
		createFn: func(ctx context.Context, ownerID, name, description string) (*model.Project, error) {
			gotOwner, gotName = ownerID, name
			return &model.Project{ID: testProjectID, Name: name, OwnerID: ownerID}, nil
		},
	}
	h := newTestProjectHandler(svc, nil, nil)

	req := withUserID(newJSONRequest(t, http.MethodPost, "/api/projects", map[string]string{"name": "Launch"}), testUserID)
	w := httptest.NewRecorder()
	h.CreateProject(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotOwner != testUserID || gotName != "Launch" {
		t.Errorf("Create called with (%q, %q)", gotOwner, gotName)
	}
	var body projectResponse
	decodeBody(t, w, &body)
	if body.Capability != "owner" || body.ID != testProjectID {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestProjectHandler_CreateProject_InvalidJSON(t *testing.T) {
	h := newTestProjectHandler(&mockProjectService{}, nil, nil)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader("{not json")), testUserID)
	w := httptest.NewRecorder()
	h.CreateProject(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeInvalidRequest)
	}
}

func TestProjectHandler_GetProject_MapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		projectID  string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid id", "not-a-uuid", nil, http.StatusNotFound, model.ErrCodeProjectNotFound},
		{"not found", testProjectID, model.NewProjectNotFoundError(testProjectID), http.StatusNotFound, model.ErrCodeProjectNotFound},
		{"store error", testProjectID, errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockProjectService{
				getFn: func(ctx context.Context, userID, projectID string) (*project.Detail, error) {
					return nil, tt.err
				},
			}
			h := newTestProjectHandler(svc, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/projects/"+tt.projectID, nil)
			req = withChiURLParams(withUserID(req, testUserID), "projectID", tt.projectID)
			w := httptest.NewRecorder()
			h.GetProject(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestProjectHandler_GetProject_ReturnsCapability(t *testing.T) {
	svc := &mockProjectService{
		getFn: func(ctx context.Context, userID, projectID string) (*project.Detail, error) {
			return &project.Detail{
				Project:    &model.Project{ID: projectID, Name: "Alpha", OwnerID: testOtherUserID},
				Capability: model.CapabilityViewer,
			}, nil
		},
	}
	h := newTestProjectHandler(svc, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+testProjectID, nil)
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.GetProject(w, req)

	var body projectResponse
	decodeBody(t, w, &body)
	if body.Capability != "viewer" || body.Name != "Alpha" {
		t.Errorf("unexpected body: %+v", body)
	}
}

// 省略したフィールドは現在の値のまま更新される
func TestProjectHandler_UpdateProject_KeepsOmittedFields(t *testing.T) {
	var gotName, gotDesc string
	svc := &mockProjectService{
		getFn: func(ctx context.Context, userID, projectID string) (*project.Detail, error) {
			return &project.Detail{
				Project:    &model.Project{ID: projectID, Name: "Alpha", Description: "old notes"},
				Capability: model.CapabilityEditor,
			}, nil
		},
		updateFn: func(ctx context.Context, userID, projectID, name, description string) (*model.Project, error) {
			gotName, gotDesc = name, description
			return &model.Project{ID: projectID, Name: name, Description: description}, nil
		},
	}
	h := newTestProjectHandler(svc, nil, nil)

	req := newJSONRequest(t, http.MethodPatch, "/api/projects/"+testProjectID, map[string]string{"name": "Beta"})
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.UpdateProject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotName != "Beta" || gotDesc != "old notes" {
		t.Errorf("Update called with (%q, %q)", gotName, gotDesc)
	}
}

func TestProjectHandler_UpdateProject_PermissionDenied(t *testing.T) {
	svc := &mockProjectService{
		updateFn: func(ctx context.Context, userID, projectID, name, description string) (*model.Project, error) {
			return nil, model.NewPermissionDeniedError("update project")
		},
	}
	h := newTestProjectHandler(svc, nil, nil)

	req := newJSONRequest(t, http.MethodPatch, "/api/projects/"+testProjectID, map[string]string{"name": "Beta", "description": ""})
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.UpdateProject(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestProjectHandler_DeleteProject_NoContent(t *testing.T) {
	var deleted string
	svc := &mockProjectService{
		deleteFn: func(ctx context.Context, userID, projectID string) error {
			deleted = projectID
			return nil
		},
	}
	h := newTestProjectHandler(svc, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/"+testProjectID, nil)
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.DeleteProject(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != testProjectID {
		t.Errorf("deleted = %q, want %q", deleted, testProjectID)
	}
}

func TestProjectHandler_GetCapability(t *testing.T) {
	caps := map[string]model.Capability{testUserID: model.CapabilityEditor}
	h := newTestProjectHandler(&mockProjectService{}, caps, nil)

	tests := []struct {
		userID     string
		want       string
		wantMutate bool
	}{
		{testUserID, "editor", true},
		{testOtherUserID, "none", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/projects/"+testProjectID+"/capability", nil)
		req = withChiURLParams(withUserID(req, tt.userID), "projectID", testProjectID)
		w := httptest.NewRecorder()
		h.GetCapability(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var body capabilityResponse
		decodeBody(t, w, &body)
		if body.Capability != tt.want || body.CanMutate != tt.wantMutate {
			t.Errorf("user %s: got %+v", tt.userID, body)
		}
	}
}

func TestProjectHandler_GetStats(t *testing.T) {
	stats := &mockViewService{
		projectStatsFn: func(ctx context.Context, userID, projectID string) (view.Stats, error) {
			return view.Stats{Total: 3, Completed: 1, InProgress: 1, Pending: 1}, nil
		},
	}
	h := newTestProjectHandler(&mockProjectService{}, nil, stats)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+testProjectID+"/stats", nil)
	req = withChiURLParams(withUserID(req, testUserID), "projectID", testProjectID)
	w := httptest.NewRecorder()
	h.GetStats(w, req)

	var body statsResponse
	decodeBody(t, w, &body)
	if body != (statsResponse{Total: 3, Completed: 1, InProgress: 1, Pending: 1}) {
		t.Errorf("unexpected stats: %+v", body)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewAuthRequiredError(), http.StatusUnauthorized},
		{model.NewPermissionDeniedError("x"), http.StatusForbidden},
		{model.NewSelfRoleChangeError(), http.StatusForbidden},
		{model.NewOwnerRoleImmutableError(), http.StatusForbidden},
		{model.NewMemberNotFoundError("u"), http.StatusNotFound},
		{model.NewInvitationNotFoundError("i"), http.StatusNotFound},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewDuplicateMemberError(), http.StatusConflict},
		{model.NewAlreadyResolvedError(model.InvitationAccepted), http.StatusConflict},
		{model.NewDuplicateInvitationError("a@example.com"), http.StatusConflict},
		{model.NewAttachmentTooLargeError(10), http.StatusRequestEntityTooLarge},
		{model.NewInvalidRoleError("owner"), http.StatusBadRequest},
		{model.NewInvalidEmailError("x"), http.StatusBadRequest},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}
