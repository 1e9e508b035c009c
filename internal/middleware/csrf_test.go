package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/icore-platform/icore/internal/model"
)

func TestCSRFMiddleware_SafeMethods_PassThroughAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			handlerCalled := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(method, "/api/telegram/status", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if !handlerCalled {
				t.Fatalf("handler should have been called for %s", method)
			}
			found := false
			for _, c := range w.Result().Cookies() {
				if c.Name == csrfCookieName && c.Value != "" && !c.HttpOnly {
					found = true
				}
			}
			if !found {
				t.Error("expected readable CSRF cookie to be issued")
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookie_NotReplaced(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Errorf("expected no Set-Cookie, got %v", w.Result().Cookies())
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{name: "Cookieなし", header: "tok", wantStatus: http.StatusForbidden},
		{name: "ヘッダーなし", cookie: "tok", wantStatus: http.StatusForbidden},
		{name: "不一致", cookie: "tok", header: "other", wantStatus: http.StatusForbidden},
		{name: "一致", cookie: "tok", header: "tok", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/telegram/link", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != model.ErrCodeCSRFInvalid {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
				}
			}
		})
	}
}

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "example.com",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Content-Typeの確認
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	// レスポンスボディからトークンを取得
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token in response")
	}

	// CSRFCookieが設定されていること
	var csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			csrfCookie = c
			break
		}
	}
	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if csrfCookie.Value != body.Token {
		t.Errorf("cookie value = %q, response token = %q; should match", csrfCookie.Value, body.Token)
	}
	if csrfCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite = %v, want Lax", csrfCookie.SameSite)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{
		CookieSecure: false,
		CookieDomain: "",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	resp := w.Result()
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want %q (existing token should be returned)", body.Token, "existing-csrf-token")
	}
}

// --- 状態変更メソッドのテスト ---

func TestCSRFMiddleware_AllStateMutatingMethods_RequireToken(t *testing.T) {
	methods := []string{
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{
				CookieSecure: false,
				CookieDomain: "",
			})

			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called for " + method + " without token")
			}))

			req := httptest.NewRequest(method, "/api/telegram/link", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusForbidden {
				t.Errorf("%s: status = %d, want %d", method, w.Result().StatusCode, http.StatusForbidden)
			}
		})
	}
}
