package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/taskboard/internal/middleware"
	"github.com/hitoshi/taskboard/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeAPIErrorResponse はAPIErrorをJSON形式のエラーレスポンスとして書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON は値をJSONレスポンスとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	middleware.WriteJSON(w, statusCode, v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthRequired:
		return http.StatusUnauthorized
	case model.ErrCodePermissionDenied, model.ErrCodeSelfRoleChange, model.ErrCodeOwnerRoleImmutable:
		return http.StatusForbidden
	case model.ErrCodeProjectNotFound, model.ErrCodeMemberNotFound, model.ErrCodeInvitationNotFound,
		model.ErrCodeUserNotFound, model.ErrCodeAssignmentNotFound, model.ErrCodeAttachmentNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateMember, model.ErrCodeAlreadyResolved, model.ErrCodeDuplicateInvitation:
		return http.StatusConflict
	case model.ErrCodeAttachmentTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeInvalidRole, model.ErrCodeInvalidStatus, model.ErrCodeInvalidPriority,
		model.ErrCodeInvalidEmail, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをvに読み込む。
// 失敗した場合は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディを読み取れませんでした。"))
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディが不正です。"))
		return false
	}
	return true
}

// requireUserID はセッションミドルウェアが設定したユーザーIDを返す。
// 未設定の場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return "", false
	}
	return userID, true
}

// pathID はURLパラメータのIDを取得する。UUID形式でなければ404として扱う。
func pathID(w http.ResponseWriter, r *http.Request, name string, notFound func(string) *model.APIError) (string, bool) {
	id := chi.URLParam(r, name)
	if _, err := uuid.Parse(id); err != nil {
		writeAPIErrorResponse(w, http.StatusNotFound, notFound(id))
		return "", false
	}
	return id, true
}
