package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/icore-platform/icore/internal/middleware"
	"github.com/icore-platform/icore/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Err != nil {
			slog.Warn("service error",
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Err.Error()),
			)
		}
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
	case model.ErrCodeAccountNotFound, model.ErrCodeConversationNotFound,
		model.ErrCodeMessageNotFound, model.ErrCodeLinkTokenNotFound:
		return http.StatusNotFound
	case model.ErrCodeIdentityConflict, model.ErrCodeNotLinked:
		return http.StatusConflict
	case model.ErrCodeLinkTokenExpired, model.ErrCodeLinkTokenConsumed:
		return http.StatusGone
	case model.ErrCodeEmptyMessage, model.ErrCodeInvalidCursor, errCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeDeliveryFailed:
		return http.StatusBadGateway
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

const errCodeInvalidRequest = "INVALID_REQUEST"

// newInvalidRequestError はリクエストボディやパラメータの解析失敗を表すエラーを生成する。
func newInvalidRequestError(message string) *model.APIError {
	return &model.APIError{
		Code:     errCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "正しい形式でリクエストしてください。",
	}
}

// requireAccountID はセッションミドルウェアが注入したアカウントIDを返す。
// 取得できない場合は401を書き込み、falseを返す。
func requireAccountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return accountID, true
}
