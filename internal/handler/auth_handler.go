// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/icore-platform/icore/internal/middleware"
	"github.com/icore-platform/icore/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Logout(ctx context.Context, sessionID string) error
}

// AccountServiceInterface は現在のアカウント取得に必要なサービスインターフェース。
type AccountServiceInterface interface {
	FindAccount(ctx context.Context, accountID string) (*model.Account, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はセッションとアカウント情報のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	accounts AccountServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, accounts AccountServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		accounts: accounts,
		config:   config,
	}
}

type accountResponse struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	Locale           string `json:"locale"`
	Role             string `json:"role"`
	Linked           bool   `json:"linked"`
	ExternalUsername string `json:"external_username,omitempty"`
}

// Logout はセッションを削除し、Cookieをクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインアカウント情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.FindAccount(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{
		ID:               account.ID,
		DisplayName:      account.DisplayName,
		Locale:           account.Locale,
		Role:             string(account.Role),
		Linked:           account.IsLinked(),
		ExternalUsername: account.ExternalUsername,
	})
}
