package handler

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/menucatalog/internal/auth"
	"github.com/hitoshi/menucatalog/internal/middleware"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/rating"
	"github.com/hitoshi/menucatalog/internal/repository"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signInFn  func(ctx context.Context, sess *model.Session, code string) (*auth.SignInResult, error)
	signOutFn func(ctx context.Context, sess *model.Session) (*auth.SignOutResult, error)
	calls     int
}

func (m *mockAuthService) SignIn(ctx context.Context, sess *model.Session, code string) (*auth.SignInResult, error) {
	m.calls++
	if m.signInFn != nil {
		return m.signInFn(ctx, sess, code)
	}
	return &auth.SignInResult{Status: auth.SignInConnected}, nil
}

func (m *mockAuthService) SignOut(ctx context.Context, sess *model.Session) (*auth.SignOutResult, error) {
	m.calls++
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sess)
	}
	return &auth.SignOutResult{Revoked: true}, nil
}

// mockRatingService はRatingServiceInterfaceのモック実装。
type mockRatingService struct {
	submitRatingFn    func(ctx context.Context, userID, itemID string, tier model.Tier) (*model.Rating, error)
	aggregateCountsFn func(ctx context.Context, itemID string) (model.TierCounts, error)
	createItemFn      func(ctx context.Context, userID string, input rating.NewItem) (*model.MenuItem, error)
	calls             int
}

func (m *mockRatingService) SubmitRating(ctx context.Context, userID, itemID string, tier model.Tier) (*model.Rating, error) {
	m.calls++
	if m.submitRatingFn != nil {
		return m.submitRatingFn(ctx, userID, itemID, tier)
	}
	return &model.Rating{UserID: userID, ItemID: itemID, Tier: tier}, nil
}

func (m *mockRatingService) AggregateCounts(ctx context.Context, itemID string) (model.TierCounts, error) {
	m.calls++
	if m.aggregateCountsFn != nil {
		return m.aggregateCountsFn(ctx, itemID)
	}
	return model.TierCounts{}, nil
}

func (m *mockRatingService) CreateItem(ctx context.Context, userID string, input rating.NewItem) (*model.MenuItem, error) {
	m.calls++
	if m.createItemFn != nil {
		return m.createItemFn(ctx, userID, input)
	}
	return &model.MenuItem{ID: testItemID, RestaurantID: input.RestaurantID, Name: input.Name}, nil
}

// mockMenuService はMenuServiceInterfaceのモック実装。
type mockMenuService struct {
	rankedMenuFn      func(ctx context.Context, restaurantID, userID string) (*model.Restaurant, iter.Seq[model.RatedItem], error)
	randomFavoritesFn func(ctx context.Context, userID string, limit int) ([]*model.MenuItem, error)
}

func (m *mockMenuService) RankedMenu(ctx context.Context, restaurantID, userID string) (*model.Restaurant, iter.Seq[model.RatedItem], error) {
	if m.rankedMenuFn != nil {
		return m.rankedMenuFn(ctx, restaurantID, userID)
	}
	return &model.Restaurant{ID: restaurantID}, slices.Values([]model.RatedItem(nil)), nil
}

func (m *mockMenuService) RandomFavorites(ctx context.Context, userID string, limit int) ([]*model.MenuItem, error) {
	if m.randomFavoritesFn != nil {
		return m.randomFavoritesFn(ctx, userID, limit)
	}
	return nil, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

// --- テストヘルパー ---

const (
	testUserID       = "6f1c1d9e-3a43-4f4e-9c1e-2b7d8f0a1c01"
	testItemID       = "0b8e8f3c-7d1a-4b2e-8a55-3c9d1e2f4a10"
	testRestaurantID = "9a7c3e21-5b4d-4c8e-a1f2-6d3b8c9e0f21"
)

// newTestSessions はメモリストアを使うSessionManagerとCSRFTokensを生成する。
func newTestSessions() (*repository.MemorySessionRepo, *middleware.SessionManager, *middleware.CSRFTokens) {
	store := repository.NewMemorySessionRepo()
	sessions := middleware.NewSessionManager(store, middleware.SessionConfig{MaxAge: time.Hour})
	csrf := middleware.NewCSRFTokens(middleware.CSRFConfig{})
	return store, sessions, csrf
}

// withSession はリクエストコンテキストにセッションを注入するヘルパー。
func withSession(r *http.Request, session *model.Session) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), session))
}

// withUserID は認証済みセッションを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return withSession(r, &model.Session{ID: "session-1", UserID: userID, AccessToken: "access"})
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
