// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/icore-platform/icore/internal/model"
)

// SessionCookieName はログインセッションIDを保持するCookieの名前。
// 認証サービスが発行し、本サービスは検証と削除のみ行う。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var accountIDContextKey = contextKey("account_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// 期限切れのセッションはnilとして返す。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// AccountFinder はアカウントの取得に必要なインターフェース。
type AccountFinder interface {
	FindAccount(ctx context.Context, accountID string) (*model.Account, error)
}

// NewSessionMiddleware はCookieのセッションを検証し、アカウントIDをコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("セッションの取得に失敗しました",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			recordAccountID(r.Context(), session.AccountID)
			ctx := ContextWithAccountID(r.Context(), session.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireOperatorMiddleware はアカウントのroleがoperatorであることを要求する。
// オペレーター権限の判定はこのミドルウェアだけで行う。SessionMiddlewareの後に配置する。
func NewRequireOperatorMiddleware(accounts AccountFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := AccountIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			account, err := accounts.FindAccount(r.Context(), accountID)
			if err != nil {
				if model.HasCode(err, model.ErrCodeAccountNotFound) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
					return
				}
				slog.Error("オペレーター権限の確認に失敗しました",
					slog.String("account_id", accountID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !account.IsOperator() {
				slog.Warn("オペレーター以外のアクセスを拒否しました",
					slog.String("account_id", accountID),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("account ID not found in context")
	}
	return accountID, nil
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDContextKey, accountID)
}
