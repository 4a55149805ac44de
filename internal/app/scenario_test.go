package app

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/hitoshi/taskboard/internal/access"
	"github.com/hitoshi/taskboard/internal/assignment"
	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/invitation"
	"github.com/hitoshi/taskboard/internal/membership"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/project"
	"github.com/hitoshi/taskboard/internal/realtime"
	"github.com/hitoshi/taskboard/internal/security"
)

const (
	ownerID  = "user-owner"
	inviteID = "user-bob"
	lateID   = "user-carol"
)

// scenario はインメモリストアの上に本番と同じ構成でサービスを組み立てたもの。
type scenario struct {
	db          *memDB
	evaluator   *access.Evaluator
	projects    *project.Service
	members     *membership.Service
	invitations *invitation.Service
	assignments *assignment.Service
	hub         *realtime.Hub
	bridge      *realtime.Bridge
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	db := newMemDB()
	db.addUser(model.User{ID: ownerID, Email: "o@x.com", Name: "Olivia"})
	db.addUser(model.User{ID: inviteID, Email: "b@x.com", Name: "Bob"})
	db.addUser(model.User{ID: lateID, Email: "c@x.com", Name: "Carol"})

	c := cache.New(cache.NewMemoryStore(1<<20), time.Hour)
	evaluator := access.NewEvaluator(memProjects{db}, c, nil, nil)
	sanitizer := security.NewSanitizer()
	ledger := assignment.NewStatusLedger()
	hub := realtime.NewHub(realtime.DefaultBufferSize)

	return &scenario{
		db:          db,
		evaluator:   evaluator,
		projects:    project.NewService(memProjects{db}, evaluator, c, sanitizer, nil),
		members:     membership.NewService(memMembers{db}, memProjects{db}, memUsers{db}, evaluator, c, nil),
		invitations: invitation.NewService(memInvitations{db}, memMembers{db}, memProjects{db}, memUsers{db}, evaluator, c, nil, nil),
		assignments: assignment.NewService(assignment.Config{
			Assignments: memAssignments{db},
			Comments:    memComments{},
			Attachments: memAttachments{},
			Users:       memUsers{db},
			Auth:        evaluator,
			Ledger:      ledger,
			Cache:       c,
			Sanitizer:   sanitizer,
		}),
		hub:    hub,
		bridge: realtime.NewBridge(hub, c, ledger, nil, nil),
	}
}

// joinByInvitation はオーナーがプロジェクトを作成し、Bobを招待して承認させる。
func (s *scenario) joinByInvitation(t *testing.T) (*model.Project, *model.Invitation) {
	t.Helper()
	ctx := context.Background()

	p, err := s.projects.Create(ctx, ownerID, "Alpha", "")
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}
	inv, err := s.invitations.Create(ctx, ownerID, p.ID, "B@X.com ")
	if err != nil {
		t.Fatalf("Create invitation: %v", err)
	}
	res, err := s.invitations.Accept(ctx, inv.ID, inviteID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Joined {
		t.Fatal("Accept should report that the user joined")
	}
	return p, inv
}

// 作成、招待、承認でメンバーに加わる
func TestScenario_InviteAndAccept(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()

	p, inv := s.joinByInvitation(t)

	if p.OwnerID != ownerID {
		t.Errorf("OwnerID = %q, want %q", p.OwnerID, ownerID)
	}
	if c := s.evaluator.Capability(ctx, ownerID, p.ID); c != model.CapabilityOwner {
		t.Errorf("owner capability = %s", c)
	}

	members, err := s.members.ListMembers(ctx, ownerID, p.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %+v, want owner and Bob", members)
	}
	if members[0].User.ID != ownerID || !members[0].IsOwner {
		t.Errorf("first member = %+v, want owner", members[0])
	}
	if members[1].User.ID != inviteID || members[1].Role != model.RoleViewer || members[1].IsOwner {
		t.Errorf("second member = %+v, want Bob as viewer", members[1])
	}

	stored, _ := memInvitations{s.db}.FindByID(ctx, inv.ID)
	if stored.Status != model.InvitationAccepted {
		t.Errorf("invitation status = %s, want accepted", stored.Status)
	}
	if stored.InviteeEmail != "b@x.com" {
		t.Errorf("invitee email = %q, want normalized", stored.InviteeEmail)
	}

	// 解決済みの招待は再度承認できない
	if _, err := s.invitations.Accept(ctx, inv.ID, inviteID); !model.IsErrorCode(err, model.ErrCodeAlreadyResolved) {
		t.Errorf("second Accept: expected %s, got %v", model.ErrCodeAlreadyResolved, err)
	}
	pending, err := s.invitations.ListPendingFor(ctx, inviteID)
	if err != nil {
		t.Fatalf("ListPendingFor: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending invitations = %d, want 0", len(pending))
	}
}

// 閲覧者から編集者に変更すると課題を作成できるようになる
func TestScenario_PromoteToEditor(t *testing.T) {
	s := newScenario(t)
	ctx := context.Background()
	p, _ := s.joinByInvitation(t)

	if c := s.evaluator.Capability(ctx, inviteID, p.ID); c != model.CapabilityViewer {
		t.Fatalf("capability before promotion = %s, want viewer", c)
	}
	_, err := s.assignments.Create(ctx, inviteID, p.ID, assignment.CreateInput{Title: "Draft spec"})
	if !model.IsErrorCode(err, model.ErrCodePermissionDenied) {
		t.Fatalf("viewer Create: expected PERMISSION_DENIED, got %v", err)
	}

	if err := s.members.UpdateRole(ctx, ownerID, p.ID, inviteID, model.RoleEditor); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}

	if c := s.evaluator.Capability(ctx, inviteID, p.ID); c != model.CapabilityEditor {
		t.Fatalf("capability after promotion = %s, want editor", c)
	}
	a, err := s.assignments.Create(ctx, inviteID, p.ID, assignment.CreateInput{
		Title:       "Draft spec",
		AssigneeIDs: []string{ownerID},
	})
	if err != nil {
		t.Fatalf("editor Create: %v", err)
	}
	if a.ProjectID != p.ID || len(a.Assignees) != 1 {
		t.Errorf("unexpected assignment: %+v", a)
	}
}

// 別経路の変更で古くなったキャッシュは変更通知で無効化され、再取得で一致する
func TestScenario_ChangeNotificationRefreshesMembers(t *testing.T) {
	s := newScenario(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, _ := s.joinByInvitation(t)

	if _, err := s.members.ListMembers(ctx, ownerID, p.ID); err != nil {
		t.Fatalf("ListMembers: %v", err)
	}

	// サービスを経由しない変更はキャッシュに反映されない
	s.db.addMembership(model.Membership{ProjectID: p.ID, UserID: lateID, Role: model.RoleEditor})
	stale, _ := s.members.ListMembers(ctx, ownerID, p.ID)
	if len(stale) != 2 {
		t.Fatalf("expected stale cached list of 2, got %d", len(stale))
	}

	done := make(chan error, 1)
	go func() { done <- s.bridge.Run(ctx) }()
	waitFor(t, func() bool { return s.hub.Count(realtime.TableProjectMembers) > 0 })

	watch, err := s.bridge.Watch(ctx, p.ID)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	s.hub.Publish(realtime.ChangeEvent{
		Table:     realtime.TableProjectMembers,
		Op:        realtime.OpInsert,
		ProjectID: p.ID,
		UserID:    lateID,
	})

	select {
	case inv := <-watch:
		if !slices.Contains(inv.Keys, cache.TeamMembers(p.ID).String()) {
			t.Errorf("invalidation keys = %v, want %s", inv.Keys, cache.TeamMembers(p.ID))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation delivered to watcher")
	}

	var fresh []model.Member
	waitFor(t, func() bool {
		fresh, err = s.members.ListMembers(ctx, ownerID, p.ID)
		return err == nil && len(fresh) == 3
	})

	var got []string
	for _, m := range fresh[1:] {
		got = append(got, m.User.ID)
	}
	slices.Sort(got)
	if want := s.db.memberIDs(p.ID); !slices.Equal(got, want) {
		t.Errorf("members after refetch = %v, store rows = %v", got, want)
	}
	if c := s.evaluator.Capability(ctx, lateID, p.ID); c != model.CapabilityEditor {
		t.Errorf("capability of new member = %s, want editor", c)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("bridge.Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
