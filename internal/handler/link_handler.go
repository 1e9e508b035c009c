package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/icore-platform/icore/internal/identity"
	"github.com/icore-platform/icore/internal/model"
)

// LinkServiceInterface はリンクトークン発行のサービスインターフェース。
type LinkServiceInterface interface {
	Issue(ctx context.Context, accountID string) (*model.LinkToken, error)
	DeepLink(token string) string
	QRCode(link string) ([]byte, error)
}

// LinkStatusServiceInterface は連携状態の参照と解除のサービスインターフェース。
type LinkStatusServiceInterface interface {
	Status(ctx context.Context, accountID string) (*identity.LinkStatus, error)
	Unbind(ctx context.Context, accountID string) error
}

// LinkHandler はTelegram連携APIのHTTPハンドラー。
type LinkHandler struct {
	links  LinkServiceInterface
	status LinkStatusServiceInterface
}

// NewLinkHandler はLinkHandlerの新しいインスタンスを生成する。
func NewLinkHandler(links LinkServiceInterface, status LinkStatusServiceInterface) *LinkHandler {
	return &LinkHandler{links: links, status: status}
}

type linkTokenResponse struct {
	Token     string    `json:"token"`
	DeepLink  string    `json:"deep_link"`
	ExpiresAt time.Time `json:"expires_at"`
}

type linkStatusResponse struct {
	Linked   bool   `json:"linked"`
	Username string `json:"username,omitempty"`
}

// IssueToken はリンクトークンを発行する。
// POST /api/telegram/link
func (h *LinkHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	token, err := h.links.Issue(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, linkTokenResponse{
		Token:     token.Token,
		DeepLink:  h.links.DeepLink(token.Token),
		ExpiresAt: token.ExpiresAt,
	})
}

// QRCode はリンクトークンを発行し、ディープリンクのQRコードPNGを返す。
// GET /api/telegram/link/qr
func (h *LinkHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	token, err := h.links.Issue(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	png, err := h.links.QRCode(h.links.DeepLink(token.Token))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		slog.Warn("failed to write QR code", slog.String("error", err.Error()))
	}
}

// Status は連携状態を返す。
// GET /api/telegram/status
func (h *LinkHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	st, err := h.status.Status(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, linkStatusResponse{Linked: st.Linked, Username: st.Username})
}

// Unlink は連携を解除する。
// DELETE /api/telegram/link
func (h *LinkHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	if err := h.status.Unbind(r.Context(), accountID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
