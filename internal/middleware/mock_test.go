package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/hitoshi/menucatalog/internal/model"
)

// mockSessionRepository はテスト用のSessionRepositoryモック。
type mockSessionRepository struct {
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	saveFn          func(ctx context.Context, session *model.Session) error
	deleteByIDFn    func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepository) Save(ctx context.Context, session *model.Session) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepository) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

// requestWithSession はセッションを注入したリクエストを生成する。
func requestWithSession(method, target string, session *model.Session) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(ContextWithSession(req.Context(), session))
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
