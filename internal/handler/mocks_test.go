package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskboard/internal/assignment"
	"github.com/hitoshi/taskboard/internal/invitation"
	"github.com/hitoshi/taskboard/internal/middleware"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/project"
	"github.com/hitoshi/taskboard/internal/realtime"
	"github.com/hitoshi/taskboard/internal/view"
)

const (
	testUserID       = "0b7c6f62-3a59-4f4e-9d0c-5d3c2b1a0001"
	testOtherUserID  = "0b7c6f62-3a59-4f4e-9d0c-5d3c2b1a0002"
	testProjectID    = "7a1e2c44-8f0b-4c3d-a1b2-c3d4e5f60001"
	testInvitationID = "5d4c3b2a-1f0e-4d9c-8b7a-695847362001"
	testAssignmentID = "9e8d7c6b-5a49-4382-9170-a1b2c3d4e001"
	testAttachmentID = "3c2b1a09-8f7e-4d6c-b5a4-938271605001"
)

// --- モック定義 ---

type mockProjectService struct {
	createFn      func(ctx context.Context, ownerID, name, description string) (*model.Project, error)
	getFn         func(ctx context.Context, userID, projectID string) (*project.Detail, error)
	listForUserFn func(ctx context.Context, userID string) ([]*model.Project, error)
	updateFn      func(ctx context.Context, userID, projectID, name, description string) (*model.Project, error)
	deleteFn      func(ctx context.Context, userID, projectID string) error
}

func (m *mockProjectService) Create(ctx context.Context, ownerID, name, description string) (*model.Project, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, name, description)
	}
	return &model.Project{ID: testProjectID, Name: name, Description: description, OwnerID: ownerID}, nil
}

func (m *mockProjectService) Get(ctx context.Context, userID, projectID string) (*project.Detail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, projectID)
	}
	return &project.Detail{
		Project:    &model.Project{ID: projectID, Name: "Alpha", OwnerID: userID},
		Capability: model.CapabilityOwner,
	}, nil
}

func (m *mockProjectService) ListForUser(ctx context.Context, userID string) ([]*model.Project, error) {
	if m.listForUserFn != nil {
		return m.listForUserFn(ctx, userID)
	}
	return []*model.Project{}, nil
}

func (m *mockProjectService) Update(ctx context.Context, userID, projectID, name, description string) (*model.Project, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, projectID, name, description)
	}
	return &model.Project{ID: projectID, Name: name, Description: description}, nil
}

func (m *mockProjectService) Delete(ctx context.Context, userID, projectID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, projectID)
	}
	return nil
}

// mockAccess はCapabilityResolverとProjectAuthorizerのモック実装。
// capsに登録のないユーザーはnoneとして扱う。
type mockAccess struct {
	mu   sync.Mutex
	caps map[string]model.Capability
}

func (m *mockAccess) Capability(_ context.Context, userID, _ string) model.Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps[userID]
}

// set は接続中のハンドラーから見える権限を変更する。
func (m *mockAccess) set(userID string, c model.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caps == nil {
		m.caps = map[string]model.Capability{}
	}
	m.caps[userID] = c
}

func (m *mockAccess) Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error) {
	c := m.Capability(ctx, userID, projectID)
	if c == model.CapabilityNone {
		return c, model.NewProjectNotFoundError(projectID)
	}
	if c < min {
		return c, model.NewPermissionDeniedError(operation)
	}
	return c, nil
}

type mockViewService struct {
	dashboardFn    func(ctx context.Context, userID string) (view.Stats, error)
	calendarFn     func(ctx context.Context, userID, from, to string, loc *time.Location) ([]view.DayBucket, error)
	projectStatsFn func(ctx context.Context, userID, projectID string) (view.Stats, error)
}

func (m *mockViewService) Dashboard(ctx context.Context, userID string) (view.Stats, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx, userID)
	}
	return view.Stats{}, nil
}

func (m *mockViewService) Calendar(ctx context.Context, userID, from, to string, loc *time.Location) ([]view.DayBucket, error) {
	if m.calendarFn != nil {
		return m.calendarFn(ctx, userID, from, to, loc)
	}
	return []view.DayBucket{}, nil
}

func (m *mockViewService) ProjectStats(ctx context.Context, userID, projectID string) (view.Stats, error) {
	if m.projectStatsFn != nil {
		return m.projectStatsFn(ctx, userID, projectID)
	}
	return view.Stats{}, nil
}

type mockMembershipService struct {
	addMemberFn    func(ctx context.Context, actorID, projectID, email string, role model.Role) (*model.Member, error)
	updateRoleFn   func(ctx context.Context, actorID, projectID, userID string, newRole model.Role) error
	removeMemberFn func(ctx context.Context, actorID, projectID, userID string) error
	listMembersFn  func(ctx context.Context, actorID, projectID string) ([]model.Member, error)
}

func (m *mockMembershipService) AddMember(ctx context.Context, actorID, projectID, email string, role model.Role) (*model.Member, error) {
	if m.addMemberFn != nil {
		return m.addMemberFn(ctx, actorID, projectID, email, role)
	}
	return &model.Member{User: model.User{ID: testOtherUserID, Email: email}, Role: role}, nil
}

func (m *mockMembershipService) UpdateRole(ctx context.Context, actorID, projectID, userID string, newRole model.Role) error {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, actorID, projectID, userID, newRole)
	}
	return nil
}

func (m *mockMembershipService) RemoveMember(ctx context.Context, actorID, projectID, userID string) error {
	if m.removeMemberFn != nil {
		return m.removeMemberFn(ctx, actorID, projectID, userID)
	}
	return nil
}

func (m *mockMembershipService) ListMembers(ctx context.Context, actorID, projectID string) ([]model.Member, error) {
	if m.listMembersFn != nil {
		return m.listMembersFn(ctx, actorID, projectID)
	}
	return []model.Member{}, nil
}

type mockInvitationService struct {
	createFn         func(ctx context.Context, inviterID, projectID, email string) (*model.Invitation, error)
	acceptFn         func(ctx context.Context, invitationID, userID string) (*invitation.AcceptResult, error)
	rejectFn         func(ctx context.Context, invitationID, userID string) (*model.Invitation, error)
	listPendingForFn func(ctx context.Context, userID string) ([]*model.PendingInvitation, error)
	listForProjectFn func(ctx context.Context, actorID, projectID string) ([]*model.Invitation, error)
}

func (m *mockInvitationService) Create(ctx context.Context, inviterID, projectID, email string) (*model.Invitation, error) {
	if m.createFn != nil {
		return m.createFn(ctx, inviterID, projectID, email)
	}
	return &model.Invitation{ID: testInvitationID, ProjectID: projectID, InviterID: inviterID, InviteeEmail: email, Status: model.InvitationPending}, nil
}

func (m *mockInvitationService) Accept(ctx context.Context, invitationID, userID string) (*invitation.AcceptResult, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, invitationID, userID)
	}
	return &invitation.AcceptResult{
		Invitation: &model.Invitation{ID: invitationID, Status: model.InvitationAccepted},
		Joined:     true,
	}, nil
}

func (m *mockInvitationService) Reject(ctx context.Context, invitationID, userID string) (*model.Invitation, error) {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, invitationID, userID)
	}
	return &model.Invitation{ID: invitationID, Status: model.InvitationRejected}, nil
}

func (m *mockInvitationService) ListPendingFor(ctx context.Context, userID string) ([]*model.PendingInvitation, error) {
	if m.listPendingForFn != nil {
		return m.listPendingForFn(ctx, userID)
	}
	return []*model.PendingInvitation{}, nil
}

func (m *mockInvitationService) ListForProject(ctx context.Context, actorID, projectID string) ([]*model.Invitation, error) {
	if m.listForProjectFn != nil {
		return m.listForProjectFn(ctx, actorID, projectID)
	}
	return []*model.Invitation{}, nil
}

type mockAssignmentService struct {
	createFn          func(ctx context.Context, actorID, projectID string, in assignment.CreateInput) (*model.Assignment, error)
	getFn             func(ctx context.Context, actorID, assignmentID string) (*model.Assignment, error)
	listFn            func(ctx context.Context, actorID, projectID string) ([]*model.Assignment, error)
	updateStatusFn    func(ctx context.Context, actorID, assignmentID, status string) (*model.Assignment, error)
	setAssigneesFn    func(ctx context.Context, actorID, assignmentID string, userIDs []string) (*model.Assignment, error)
	deleteFn          func(ctx context.Context, actorID, assignmentID string) error
	addCommentFn      func(ctx context.Context, actorID, assignmentID, content string) (*model.Comment, error)
	listCommentsFn    func(ctx context.Context, actorID, assignmentID string) ([]*model.Comment, error)
	uploadFn          func(ctx context.Context, actorID, assignmentID string, in assignment.UploadInput) (*model.Attachment, error)
	listAttachmentsFn func(ctx context.Context, actorID, assignmentID string) ([]*model.Attachment, error)
	openAttachmentFn  func(ctx context.Context, actorID, attachmentID string) (*model.Attachment, io.ReadCloser, error)
}

func (m *mockAssignmentService) Create(ctx context.Context, actorID, projectID string, in assignment.CreateInput) (*model.Assignment, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actorID, projectID, in)
	}
	return &model.Assignment{ID: testAssignmentID, ProjectID: projectID, Title: in.Title}, nil
}

func (m *mockAssignmentService) Get(ctx context.Context, actorID, assignmentID string) (*model.Assignment, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actorID, assignmentID)
	}
	return &model.Assignment{ID: assignmentID}, nil
}

func (m *mockAssignmentService) List(ctx context.Context, actorID, projectID string) ([]*model.Assignment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actorID, projectID)
	}
	return []*model.Assignment{}, nil
}

func (m *mockAssignmentService) UpdateStatus(ctx context.Context, actorID, assignmentID, status string) (*model.Assignment, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, actorID, assignmentID, status)
	}
	return &model.Assignment{ID: assignmentID, Status: model.AssignmentStatus(status)}, nil
}

func (m *mockAssignmentService) SetAssignees(ctx context.Context, actorID, assignmentID string, userIDs []string) (*model.Assignment, error) {
	if m.setAssigneesFn != nil {
		return m.setAssigneesFn(ctx, actorID, assignmentID, userIDs)
	}
	return &model.Assignment{ID: assignmentID}, nil
}

func (m *mockAssignmentService) Delete(ctx context.Context, actorID, assignmentID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, assignmentID)
	}
	return nil
}

func (m *mockAssignmentService) AddComment(ctx context.Context, actorID, assignmentID, content string) (*model.Comment, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, actorID, assignmentID, content)
	}
	return &model.Comment{ID: "c1", AssignmentID: assignmentID, AuthorID: actorID, Content: content}, nil
}

func (m *mockAssignmentService) ListComments(ctx context.Context, actorID, assignmentID string) ([]*model.Comment, error) {
	if m.listCommentsFn != nil {
		return m.listCommentsFn(ctx, actorID, assignmentID)
	}
	return []*model.Comment{}, nil
}

func (m *mockAssignmentService) UploadAttachment(ctx context.Context, actorID, assignmentID string, in assignment.UploadInput) (*model.Attachment, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, actorID, assignmentID, in)
	}
	return &model.Attachment{ID: testAttachmentID, AssignmentID: assignmentID, Filename: in.Filename, Size: in.Size}, nil
}

func (m *mockAssignmentService) ListAttachments(ctx context.Context, actorID, assignmentID string) ([]*model.Attachment, error) {
	if m.listAttachmentsFn != nil {
		return m.listAttachmentsFn(ctx, actorID, assignmentID)
	}
	return []*model.Attachment{}, nil
}

func (m *mockAssignmentService) OpenAttachment(ctx context.Context, actorID, attachmentID string) (*model.Attachment, io.ReadCloser, error) {
	if m.openAttachmentFn != nil {
		return m.openAttachmentFn(ctx, actorID, attachmentID)
	}
	return nil, nil, model.NewAttachmentNotFoundError(attachmentID)
}

// mockInvalidationSource はテストから通知チャネルを操作できるInvalidationSource。
type mockInvalidationSource struct {
	ch       chan realtime.Invalidation
	watchErr error
	watched  chan string
}

func newMockInvalidationSource() *mockInvalidationSource {
	return &mockInvalidationSource{
		ch:      make(chan realtime.Invalidation, 4),
		watched: make(chan string, 1),
	}
}

func (m *mockInvalidationSource) Watch(_ context.Context, projectID string) (<-chan realtime.Invalidation, error) {
	if m.watchErr != nil {
		return nil, m.watchErr
	}
	m.watched <- projectID
	return m.ch, nil
}

var (
	_ ProjectServiceInterface    = (*mockProjectService)(nil)
	_ AccessChecker              = (*mockAccess)(nil)
	_ ViewStatsService           = (*mockViewService)(nil)
	_ MembershipServiceInterface = (*mockMembershipService)(nil)
	_ InvitationServiceInterface = (*mockInvitationService)(nil)
	_ AssignmentServiceInterface = (*mockAssignmentService)(nil)
	_ InvalidationSource         = (*mockInvalidationSource)(nil)
	_ AuthServiceInterface       = (*mockAuthService)(nil)
)

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。key, valueの順に渡す。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// newJSONRequest はJSONボディ付きのリクエストを生成するヘルパー。
func newJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode body: %v (body=%s)", err, w.Body.String())
	}
}
