package app

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// memDB はシナリオテスト用のインメモリストア。
// 各リポジトリ型が同じmemDBを共有し、返す値はコピーにする。
type memDB struct {
	mu          sync.Mutex
	users       map[string]model.User
	projects    map[string]model.Project
	members     map[string]map[string]model.Membership // projectID -> userID
	invitations map[string]model.Invitation
	assignments map[string]model.Assignment
}

func newMemDB() *memDB {
	return &memDB{
		users:       map[string]model.User{},
		projects:    map[string]model.Project{},
		members:     map[string]map[string]model.Membership{},
		invitations: map[string]model.Invitation{},
		assignments: map[string]model.Assignment{},
	}
}

func (db *memDB) addUser(u model.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = u
}

// addMembership はサービスを経由せずにメンバー行を追加する。別プロセスによる変更を模す。
func (db *memDB) addMembership(m model.Membership) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.putMembership(m)
}

func (db *memDB) putMembership(m model.Membership) {
	if db.members[m.ProjectID] == nil {
		db.members[m.ProjectID] = map[string]model.Membership{}
	}
	db.members[m.ProjectID][m.UserID] = m
}

func (db *memDB) isParticipant(projectID, userID string) bool {
	p, ok := db.projects[projectID]
	if !ok {
		return false
	}
	_, member := db.members[projectID][userID]
	return p.OwnerID == userID || member
}

type memUsers struct{ *memDB }

func (r memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if model.NormalizeEmail(u.Email) == model.NormalizeEmail(email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r memUsers) CreateWithIdentity(_ context.Context, user *model.User, _ *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = *user
	return nil
}

func (r memUsers) UpdateProfile(_ context.Context, userID, name, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[userID]
	u.Name, u.AvatarURL = name, avatarURL
	r.users[userID] = u
	return nil
}

type memProjects struct{ *memDB }

func (r memProjects) FindByID(_ context.Context, id string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r memProjects) Create(_ context.Context, p *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = *p
	return nil
}

func (r memProjects) Update(_ context.Context, p *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = *p
	return nil
}

func (r memProjects) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, id)
	delete(r.members, id)
	return nil
}

func (r memProjects) ListForUser(_ context.Context, userID string) ([]*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Project
	for id, p := range r.projects {
		p := p
		if r.isParticipant(id, userID) {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r memProjects) FindAccess(_ context.Context, projectID, userID string) (*repository.ProjectAccess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return nil, nil
	}
	access := &repository.ProjectAccess{ProjectID: p.ID, OwnerID: p.OwnerID}
	if m, ok := r.members[projectID][userID]; ok {
		access.Role = m.Role
	}
	return access, nil
}

type memMembers struct{ *memDB }

func (r memMembers) Find(_ context.Context, projectID, userID string) (*model.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[projectID][userID]; ok {
		return &m, nil
	}
	return nil, nil
}

func (r memMembers) Create(_ context.Context, m *model.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ProjectID][m.UserID]; ok {
		return repository.ErrDuplicate
	}
	r.putMembership(*m)
	return nil
}

func (r memMembers) UpdateRole(_ context.Context, projectID, userID string, role model.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[projectID][userID]
	if !ok {
		return false, nil
	}
	m.Role = role
	r.members[projectID][userID] = m
	return true, nil
}

func (r memMembers) Delete(_ context.Context, projectID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[projectID], userID)
	return nil
}

func (r memMembers) ListByProject(_ context.Context, projectID string) ([]repository.MemberRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]repository.MemberRow, 0, len(r.members[projectID]))
	for userID, m := range r.members[projectID] {
		rows = append(rows, repository.MemberRow{Membership: m, User: r.users[userID]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].User.Name < rows[j].User.Name })
	return rows, nil
}

type memInvitations struct{ *memDB }

func (r memInvitations) FindByID(_ context.Context, id string) (*model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invitations[id]; ok {
		return &inv, nil
	}
	return nil, nil
}

func (r memInvitations) FindPending(_ context.Context, projectID, email string) (*model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		inv := inv
		if inv.ProjectID == projectID && inv.IsPending() && model.NormalizeEmail(inv.InviteeEmail) == model.NormalizeEmail(email) {
			return &inv, nil
		}
	}
	return nil, nil
}

func (r memInvitations) Create(_ context.Context, inv *model.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invitations[inv.ID] = *inv
	return nil
}

func (r memInvitations) Accept(_ context.Context, id string, membership *model.Membership) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || !inv.IsPending() {
		return false, repository.ErrNotPending
	}
	inv.Status = model.InvitationAccepted
	r.invitations[id] = inv
	if membership == nil {
		return false, nil
	}
	if _, exists := r.members[membership.ProjectID][membership.UserID]; exists {
		return false, nil
	}
	r.putMembership(*membership)
	return true, nil
}

func (r memInvitations) Reject(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || !inv.IsPending() {
		return repository.ErrNotPending
	}
	inv.Status = model.InvitationRejected
	r.invitations[id] = inv
	return nil
}

func (r memInvitations) ListPendingByEmail(_ context.Context, email string) ([]*model.PendingInvitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PendingInvitation
	for _, inv := range r.invitations {
		inv := inv
		if inv.IsPending() && model.NormalizeEmail(inv.InviteeEmail) == model.NormalizeEmail(email) {
			out = append(out, &model.PendingInvitation{
				Invitation:  inv,
				ProjectName: r.projects[inv.ProjectID].Name,
				InviterName: r.users[inv.InviterID].Name,
			})
		}
	}
	return out, nil
}

func (r memInvitations) ListPendingByProject(_ context.Context, projectID string) ([]*model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Invitation
	for _, inv := range r.invitations {
		inv := inv
		if inv.ProjectID == projectID && inv.IsPending() {
			out = append(out, &inv)
		}
	}
	return out, nil
}

type memAssignments struct{ *memDB }

func (r memAssignments) FindByID(_ context.Context, id string) (*model.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assignments[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (r memAssignments) Create(_ context.Context, a *model.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.ID] = *a
	return nil
}

func (r memAssignments) UpdateStatus(_ context.Context, id string, status model.AssignmentStatus) (*model.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, nil
	}
	a.Status = status
	r.assignments[id] = a
	return &a, nil
}

func (r memAssignments) SetAssignees(_ context.Context, id string, userIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.assignments[id]
	a.Assignees = a.Assignees[:0:0]
	for _, uid := range userIDs {
		a.Assignees = append(a.Assignees, r.users[uid])
	}
	r.assignments[id] = a
	return nil
}

func (r memAssignments) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, id)
	return nil
}

func (r memAssignments) ListByProject(_ context.Context, projectID string) ([]*model.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Assignment
	for _, a := range r.assignments {
		a := a
		if a.ProjectID == projectID {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (r memAssignments) ListForUser(_ context.Context, userID string) ([]*model.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Assignment
	for _, a := range r.assignments {
		a := a
		if r.isParticipant(a.ProjectID, userID) {
			out = append(out, &a)
		}
	}
	return out, nil
}

type memComments struct{}

func (memComments) Create(context.Context, *model.Comment) error { return nil }
func (memComments) ListByAssignment(context.Context, string) ([]*model.Comment, error) {
	return nil, nil
}

type memAttachments struct{}

func (memAttachments) Create(context.Context, *model.Attachment) error { return nil }
func (memAttachments) FindByID(context.Context, string) (*model.Attachment, error) {
	return nil, nil
}
func (memAttachments) ListByAssignment(context.Context, string) ([]*model.Attachment, error) {
	return nil, nil
}

// memberIDs はメンバー行のユーザーIDを昇順で返す。
func (db *memDB) memberIDs(projectID string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	ids := make([]string, 0, len(db.members[projectID]))
	for id := range db.members[projectID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

var (
	_ repository.UserRepository       = memUsers{}
	_ repository.ProjectRepository    = memProjects{}
	_ repository.AccessRepository     = memProjects{}
	_ repository.MemberRepository     = memMembers{}
	_ repository.InvitationRepository = memInvitations{}
	_ repository.AssignmentRepository = memAssignments{}
	_ repository.CommentRepository    = memComments{}
	_ repository.AttachmentRepository = memAttachments{}
)
