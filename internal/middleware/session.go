// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/repository"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	MaxAge       time.Duration
	CookieSecure bool
	CookieDomain string
}

// SessionManager はセッションの読み込み・保存・破棄を行う。
// 読み込みはミドルウェアで行い、保存と破棄はハンドラーが明示的に呼び出す。
type SessionManager struct {
	store  repository.SessionRepository
	config SessionConfig
	now    func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(store repository.SessionRepository, config SessionConfig) *SessionManager {
	return &SessionManager{store: store, config: config, now: time.Now}
}

// Middleware はCookieからセッションを読み込み、リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または期限切れの場合は未保存の匿名セッションを注入する。
// 認証の要否はGuardが判定するため、ここでは拒否しない。
func (m *SessionManager) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := m.load(r)
			if err != nil {
				slog.Error("failed to load session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

func (m *SessionManager) load(r *http.Request) (*model.Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		session, err := m.store.FindByID(r.Context(), cookie.Value)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return m.newSession()
}

func (m *SessionManager) newSession() (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := m.now()
	return &model.Session{
		ID:        id,
		ExpiresAt: now.Add(m.config.MaxAge),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Save はセッションの有効期限を延長して永続化し、セッションCookieを設定する。
func (m *SessionManager) Save(w http.ResponseWriter, r *http.Request, session *model.Session) error {
	now := m.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(m.config.MaxAge)

	if err := m.store.Save(r.Context(), session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   int(m.config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Renew はセッションIDを振り直して保存する。サインイン時のセッション固定攻撃対策として使用する。
// 新しいIDでの保存が成功してから旧IDを削除する。保存に失敗した場合はIDを元に戻し、
// 旧セッションはストアに残る。旧IDの削除失敗はログのみで、旧行は有効期限で消える。
func (m *SessionManager) Renew(w http.ResponseWriter, r *http.Request, session *model.Session) error {
	id, err := generateSessionID()
	if err != nil {
		return fmt.Errorf("failed to generate session ID: %w", err)
	}

	oldID := session.ID
	session.ID = id
	if err := m.Save(w, r, session); err != nil {
		session.ID = oldID
		return err
	}

	if err := m.store.DeleteByID(r.Context(), oldID); err != nil {
		slog.Warn("failed to delete previous session",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Clear はセッションの内容を破棄し、ストアから削除してCookieを失効させる。
func (m *SessionManager) Clear(w http.ResponseWriter, r *http.Request, session *model.Session) error {
	session.Clear()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if err := m.store.DeleteByID(r.Context(), session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// SessionManager.Middlewareを通過していない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// UserIDFromContext はリクエストコンテキストのセッションから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	session := SessionFromContext(ctx)
	if !session.IsAuthenticated() {
		return "", fmt.Errorf("user ID not found in context")
	}
	return session.UserID, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
