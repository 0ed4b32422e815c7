// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/menucatalog/internal/auth"
	"github.com/hitoshi/menucatalog/internal/middleware"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/validation"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, sess *model.Session, code string) (*auth.SignInResult, error)
	SignOut(ctx context.Context, sess *model.Session) (*auth.SignOutResult, error)
}

// AuthHandler はサインイン・サインアウトとCSRFトークン配布のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions *middleware.SessionManager
	csrf     *middleware.CSRFTokens
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions *middleware.SessionManager, csrf *middleware.CSRFTokens) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		csrf:     csrf,
	}
}

// --- リクエスト・レスポンス型 ---

type signInRequest struct {
	Code string `json:"code" validate:"required,max=2048"`
}

type signInResponse struct {
	Status   string `json:"status"`
	Username string `json:"username"`
	Picture  string `json:"picture"`
	Message  string `json:"message,omitempty"`
}

type signOutResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Revoked bool   `json:"revoked"`
}

type csrfTokenResponse struct {
	Token         string `json:"token"`
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// CSRFToken はセッションのCSRFトークンを返す。未認証セッションには毎回新しいトークンを発行して保存する。
// GET /csrf-token
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	token, changed, err := h.csrf.Refresh(w, session)
	if err != nil {
		slog.Error("failed to issue csrf token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if changed {
		if err := h.sessions.Save(w, r, session); err != nil {
			slog.Error("failed to save session", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	writeJSON(w, http.StatusOK, csrfTokenResponse{
		Token:         token,
		Authenticated: session.IsAuthenticated(),
		Username:      session.Username,
		Picture:       session.Picture,
	})
}

// SignIn は認可コードでサインインし、セッションにユーザーを紐付ける。
// POST /sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := validation.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.SignIn(r.Context(), session, req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := signInResponse{
		Status:   string(result.Status),
		Username: result.Username,
		Picture:  result.Picture,
	}
	if result.Status == auth.SignInAlreadyConnected {
		resp.Message = "既にサインイン済みです"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// セッション固定攻撃対策としてCSRFトークンとIDを振り直す。Renewが新IDで保存する
	if _, err := h.csrf.Issue(w, session); err != nil {
		slog.Error("failed to rotate csrf token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if err := h.sessions.Renew(w, r, session); err != nil {
		slog.Error("failed to renew session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SignOut はプロバイダーのトークンを失効させ、セッションを破棄する。
// 失効に失敗してもセッションは破棄し、結果をrevokedで返す。
// POST /sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	result, err := h.service.SignOut(r.Context(), session)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotConnected {
			h.clear(w, r, session)
		}
		handleServiceError(w, err)
		return
	}

	h.clear(w, r, session)

	message := "サインアウトしました"
	if !result.Revoked {
		message = "サインアウトしましたが、トークンの失効に失敗しました"
	}
	writeJSON(w, http.StatusOK, signOutResponse{
		Status:  "signed_out",
		Message: message,
		Revoked: result.Revoked,
	})
}

// clear はセッションとCSRFトークンCookieを破棄する。ストアの削除失敗はログのみ。
func (h *AuthHandler) clear(w http.ResponseWriter, r *http.Request, session *model.Session) {
	if err := h.sessions.Clear(w, r, session); err != nil {
		slog.Error("failed to clear session", slog.String("error", err.Error()))
	}
	h.csrf.ClearCookie(w)
}
