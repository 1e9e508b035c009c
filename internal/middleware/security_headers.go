package middleware

import (
	"net/http"
	"strings"
)

// privatePathPrefixes はセッションに紐づく応答を返すパス。
// メッセージログやリンクトークンを含むため、共有キャッシュに残さない。
var privatePathPrefixes = []string{"/api/", "/auth/"}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// /api/と/auth/配下の応答にはCache-Control: no-storeを付ける。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if isPrivatePath(r.URL.Path) {
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPrivatePath(path string) bool {
	for _, prefix := range privatePathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
