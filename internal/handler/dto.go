package handler

import (
	"time"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/view"
)

// userResponse はユーザーのレスポンス型。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	Capability  string    `json:"capability,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// capabilityResponse は呼び出し元のプロジェクトに対する権限。
type capabilityResponse struct {
	ProjectID  string `json:"project_id"`
	Capability string `json:"capability"`
	CanView    bool   `json:"can_view"`
	CanMutate  bool   `json:"can_mutate"`
}

type memberResponse struct {
	User    userResponse `json:"user"`
	Role    string       `json:"role"`
	IsOwner bool         `json:"is_owner"`
}

type invitationResponse struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	InviterID    string    `json:"inviter_id"`
	InviteeEmail string    `json:"invitee_email"`
	Status       string    `json:"status"`
	ProjectName  string    `json:"project_name,omitempty"`
	InviterName  string    `json:"inviter_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type acceptResponse struct {
	Invitation invitationResponse `json:"invitation"`
	Joined     bool               `json:"joined"`
}

type assignmentResponse struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	Status        string         `json:"status"`
	StatusPending bool           `json:"status_pending"`
	Priority      string         `json:"priority"`
	CreatedBy     string         `json:"created_by"`
	Assignees     []userResponse `json:"assignees"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type commentResponse struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// attachmentResponse は添付ファイルのメタデータ。保存先のパスは返さない。
type attachmentResponse struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	UploadedBy   string    `json:"uploaded_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type statsResponse struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
}

type dayBucketResponse struct {
	Date        string               `json:"date"`
	Assignments []assignmentResponse `json:"assignments"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, AvatarURL: u.AvatarURL}
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toCapabilityResponse(projectID string, c model.Capability) capabilityResponse {
	return capabilityResponse{
		ProjectID:  projectID,
		Capability: c.String(),
		CanView:    c.CanView(),
		CanMutate:  c.CanMutate(),
	}
}

func toMemberResponse(m model.Member) memberResponse {
	return memberResponse{User: toUserResponse(m.User), Role: string(m.Role), IsOwner: m.IsOwner}
}

func toInvitationResponse(inv *model.Invitation) invitationResponse {
	return invitationResponse{
		ID:           inv.ID,
		ProjectID:    inv.ProjectID,
		InviterID:    inv.InviterID,
		InviteeEmail: inv.InviteeEmail,
		Status:       string(inv.Status),
		CreatedAt:    inv.CreatedAt,
		UpdatedAt:    inv.UpdatedAt,
	}
}

func toPendingInvitationResponse(p *model.PendingInvitation) invitationResponse {
	resp := toInvitationResponse(&p.Invitation)
	resp.ProjectName = p.ProjectName
	resp.InviterName = p.InviterName
	return resp
}

func toAssignmentResponse(a *model.Assignment) assignmentResponse {
	assignees := make([]userResponse, len(a.Assignees))
	for i, u := range a.Assignees {
		assignees[i] = toUserResponse(u)
	}
	return assignmentResponse{
		ID:            a.ID,
		ProjectID:     a.ProjectID,
		Title:         a.Title,
		Description:   a.Description,
		DueDate:       a.DueDate,
		Status:        string(a.Status),
		StatusPending: a.StatusPending,
		Priority:      string(a.Priority),
		CreatedBy:     a.CreatedBy,
		Assignees:     assignees,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAssignmentResponses(list []*model.Assignment) []assignmentResponse {
	out := make([]assignmentResponse, len(list))
	for i, a := range list {
		out[i] = toAssignmentResponse(a)
	}
	return out
}

func toCommentResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:           c.ID,
		AssignmentID: c.AssignmentID,
		AuthorID:     c.AuthorID,
		AuthorName:   c.AuthorName,
		Content:      c.Content,
		CreatedAt:    c.CreatedAt,
	}
}

func toAttachmentResponse(a *model.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:           a.ID,
		AssignmentID: a.AssignmentID,
		Filename:     a.Filename,
		ContentType:  a.ContentType,
		Size:         a.Size,
		UploadedBy:   a.UploadedBy,
		CreatedAt:    a.CreatedAt,
	}
}

func toStatsResponse(s view.Stats) statsResponse {
	return statsResponse{Total: s.Total, Completed: s.Completed, InProgress: s.InProgress, Pending: s.Pending}
}

func toDayBucketResponses(buckets []view.DayBucket) []dayBucketResponse {
	out := make([]dayBucketResponse, len(buckets))
	for i, b := range buckets {
		out[i] = dayBucketResponse{Date: b.Date, Assignments: toAssignmentResponses(b.Assignments)}
	}
	return out
}
