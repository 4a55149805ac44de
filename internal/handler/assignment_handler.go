package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/taskboard/internal/assignment"
	"github.com/hitoshi/taskboard/internal/model"
)

// multipartOverhead はアップロード上限に加えるマルチパートの区切りやヘッダー分の余裕。
const multipartOverhead = 1 << 20

// AssignmentServiceInterface は課題ハンドラーが必要とするサービスインターフェース。
type AssignmentServiceInterface interface {
	Create(ctx context.Context, actorID, projectID string, in assignment.CreateInput) (*model.Assignment, error)
	Get(ctx context.Context, actorID, assignmentID string) (*model.Assignment, error)
	List(ctx context.Context, actorID, projectID string) ([]*model.Assignment, error)
	UpdateStatus(ctx context.Context, actorID, assignmentID, status string) (*model.Assignment, error)
	SetAssignees(ctx context.Context, actorID, assignmentID string, userIDs []string) (*model.Assignment, error)
	Delete(ctx context.Context, actorID, assignmentID string) error

	AddComment(ctx context.Context, actorID, assignmentID, content string) (*model.Comment, error)
	ListComments(ctx context.Context, actorID, assignmentID string) ([]*model.Comment, error)

	UploadAttachment(ctx context.Context, actorID, assignmentID string, in assignment.UploadInput) (*model.Attachment, error)
	ListAttachments(ctx context.Context, actorID, assignmentID string) ([]*model.Attachment, error)
	OpenAttachment(ctx context.Context, actorID, attachmentID string) (*model.Attachment, io.ReadCloser, error)
}

// AssignmentHandler は課題とそのコメント、添付ファイルのHTTPハンドラー。
type AssignmentHandler struct {
	service       AssignmentServiceInterface
	maxUploadSize int64
}

// NewAssignmentHandler はAssignmentHandlerを生成する。
// maxUploadSizeは添付ファイル1件あたりの上限バイト数。
func NewAssignmentHandler(service AssignmentServiceInterface, maxUploadSize int64) *AssignmentHandler {
	return &AssignmentHandler{service: service, maxUploadSize: maxUploadSize}
}

type createAssignmentRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueDate     string   `json:"due_date"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	AssigneeIDs []string `json:"assignee_ids"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type setAssigneesRequest struct {
	UserIDs []string `json:"user_ids"`
}

type addCommentRequest struct {
	Content string `json:"content"`
}

// parseDueDate は期限をRFC3339または日付のみの形式で解釈する。空なら期限なし。
func parseDueDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, model.NewValidationError("期限の形式が不正です。YYYY-MM-DD で指定してください。")
}

// ListAssignments はプロジェクトの課題一覧を返す。
// GET /api/projects/{projectID}/assignments
func (h *AssignmentHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}

	list, err := h.service.List(r.Context(), userID, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponses(list))
}

// CreateAssignment は課題を作成する。
// POST /api/projects/{projectID}/assignments
func (h *AssignmentHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	var req createAssignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	a, err := h.service.Create(r.Context(), userID, projectID, assignment.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     due,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeIDs: req.AssigneeIDs,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

// GetAssignment は課題を返す。
// GET /api/assignments/{assignmentID}
func (h *AssignmentHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}

	a, err := h.service.Get(r.Context(), userID, assignmentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// UpdateStatus は課題の状態を変更する。
// PATCH /api/assignments/{assignmentID}/status
func (h *AssignmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.UpdateStatus(r.Context(), userID, assignmentID, req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// SetAssignees は課題の担当者を置き換える。
// PUT /api/assignments/{assignmentID}/assignees
func (h *AssignmentHandler) SetAssignees(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}
	var req setAssigneesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.SetAssignees(r.Context(), userID, assignmentID, req.UserIDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// DeleteAssignment は課題を削除する。
// DELETE /api/assignments/{assignmentID}
func (h *AssignmentHandler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, assignmentID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListComments は課題のコメント一覧を返す。
// GET /api/assignments/{assignmentID}/comments
func (h *AssignmentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}

	comments, err := h.service.ListComments(r.Context(), userID, assignmentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]commentResponse, len(comments))
	for i, c := range comments {
		resp[i] = toCommentResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddComment は課題にコメントを追加する。
// POST /api/assignments/{assignmentID}/comments
func (h *AssignmentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}
	var req addCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.AddComment(r.Context(), userID, assignmentID, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponse(c))
}

// ListAttachments は課題の添付ファイル一覧を返す。
// GET /api/assignments/{assignmentID}/attachments
func (h *AssignmentHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}

	files, err := h.service.ListAttachments(r.Context(), userID, assignmentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]attachmentResponse, len(files))
	for i, f := range files {
		resp[i] = toAttachmentResponse(f)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadAttachment はmultipart/form-dataのfileフィールドを添付ファイルとして保存する。
// POST /api/assignments/{assignmentID}/attachments
func (h *AssignmentHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID", model.NewAssignmentNotFoundError)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewAttachmentTooLargeError(h.maxUploadSize))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("fileフィールドにファイルを指定してください。"))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att, err := h.service.UploadAttachment(r.Context(), userID, assignmentID, assignment.UploadInput{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttachmentResponse(att))
}

// DownloadAttachment は添付ファイルの実体を返す。
// GET /api/attachments/{attachmentID}
func (h *AssignmentHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	attachmentID, ok := pathID(w, r, "attachmentID", model.NewAttachmentNotFoundError)
	if !ok {
		return
	}

	att, body, err := h.service.OpenAttachment(r.Context(), userID, attachmentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("attachment download interrupted",
			slog.String("attachment_id", att.ID),
			slog.String("error", err.Error()),
		)
	}
}
