package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/project"
	"github.com/hitoshi/taskboard/internal/view"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	Create(ctx context.Context, ownerID, name, description string) (*model.Project, error)
	Get(ctx context.Context, userID, projectID string) (*project.Detail, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Project, error)
	Update(ctx context.Context, userID, projectID, name, description string) (*model.Project, error)
	Delete(ctx context.Context, userID, projectID string) error
}

// CapabilityResolver はユーザーのプロジェクトに対する権限を返す。
type CapabilityResolver interface {
	Capability(ctx context.Context, userID, projectID string) model.Capability
}

// ProjectStatsService はプロジェクトの集計値を返す。
type ProjectStatsService interface {
	ProjectStats(ctx context.Context, userID, projectID string) (view.Stats, error)
}

// ProjectHandler はプロジェクト関連のHTTPハンドラー。
type ProjectHandler struct {
	service      ProjectServiceInterface
	capabilities CapabilityResolver
	stats        ProjectStatsService
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface, capabilities CapabilityResolver, stats ProjectStatsService) *ProjectHandler {
	return &ProjectHandler{service: service, capabilities: capabilities, stats: stats}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// updateProjectRequest は省略されたフィールドを現在の値のまま残す。
type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// ListProjects はユーザーがオーナーまたはメンバーのプロジェクト一覧を返す。
// GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	projects, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]projectResponse, len(projects))
	for i, p := range projects {
		resp[i] = toProjectResponse(p)
		if p.OwnerID == userID {
			resp[i].Capability = model.CapabilityOwner.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateProject はプロジェクトを作成する。作成者がオーナーになる。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Create(r.Context(), userID, req.Name, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toProjectResponse(p)
	resp.Capability = model.CapabilityOwner.String()
	writeJSON(w, http.StatusCreated, resp)
}

// GetProject はプロジェクトと呼び出し元の権限を返す。
// GET /api/projects/{projectID}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	d, err := h.service.Get(r.Context(), userID, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toProjectResponse(d.Project)
	resp.Capability = d.Capability.String()
	writeJSON(w, http.StatusOK, resp)
}

// UpdateProject はプロジェクトの名前と説明を更新する。
// PATCH /api/projects/{projectID}
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	var req updateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	name, description := "", ""
	if req.Name == nil || req.Description == nil {
		d, err := h.service.Get(r.Context(), userID, projectID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		name, description = d.Project.Name, d.Project.Description
	}
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		description = *req.Description
	}

	p, err := h.service.Update(r.Context(), userID, projectID, name, description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// DeleteProject はプロジェクトを削除する。
// DELETE /api/projects/{projectID}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, projectID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCapability は呼び出し元の権限を返す。権限がない場合もnoneとして200を返す。
// GET /api/projects/{projectID}/capability
func (h *ProjectHandler) GetCapability(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	c := h.capabilities.Capability(r.Context(), userID, projectID)
	writeJSON(w, http.StatusOK, toCapabilityResponse(projectID, c))
}

// GetStats はプロジェクトの課題の状態別件数を返す。
// GET /api/projects/{projectID}/stats
func (h *ProjectHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	stats, err := h.stats.ProjectStats(r.Context(), userID, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}
