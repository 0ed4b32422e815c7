package rating

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/menucatalog/internal/metrics"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/repository"
)

// --- テスト用モック ---

// fakeStore はMenuRepository・RatingRepository・UnitOfWorkを兼ねるインメモリストア。
// トランザクション内の書き込みはコミット時にまとめて反映し、
// (user_id, item_id)の重複はコミット時にErrConstraintViolationとして検出する。
type fakeStore struct {
	mu          sync.Mutex
	restaurants map[string]*model.Restaurant
	items       map[string]*model.MenuItem
	itemOrder   []string
	ratings     map[string]*model.Rating // userID|itemID -> rating

	// findHook はTx.FindRatingがストアを読んだ後に呼ばれる。競合の再現に使う。
	findHook func()
	// insertRatingErr が設定されている場合、Tx.InsertRatingはこのエラーを返す。
	insertRatingErr error
	// listErr が設定されている場合、集計系の読み取りはこのエラーを返す。
	listErr error

	commits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		restaurants: make(map[string]*model.Restaurant),
		items:       make(map[string]*model.MenuItem),
		ratings:     make(map[string]*model.Rating),
	}
}

func ratingKey(userID, itemID string) string {
	return userID + "|" + itemID
}

func (s *fakeStore) addRestaurant(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[id] = &model.Restaurant{ID: id, Name: name}
}

func (s *fakeStore) addItem(id, restaurantID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = &model.MenuItem{ID: id, RestaurantID: restaurantID, Name: name}
	s.itemOrder = append(s.itemOrder, id)
}

func (s *fakeStore) rate(userID, itemID string, tier model.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[ratingKey(userID, itemID)] = &model.Rating{
		ID: fmt.Sprintf("r-%d", len(s.ratings)+1), UserID: userID, ItemID: itemID, Tier: tier,
	}
}

func (s *fakeStore) ratingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ratings)
}

func (s *fakeStore) ratingOf(userID, itemID string) *model.Rating {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[ratingKey(userID, itemID)]
	if !ok {
		return nil
	}
	copied := *r
	return &copied
}

// MenuRepository

func (s *fakeStore) FindRestaurantByID(_ context.Context, id string) (*model.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (s *fakeStore) FindItemByID(_ context.Context, id string) (*model.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (s *fakeStore) ListItemsByRestaurant(_ context.Context, restaurantID string) ([]*model.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var result []*model.MenuItem
	for _, id := range s.itemOrder {
		item := s.items[id]
		if item.RestaurantID == restaurantID {
			copied := *item
			result = append(result, &copied)
		}
	}
	return result, nil
}

// RatingRepository

func (s *fakeStore) CountByItem(_ context.Context, itemID string) (model.TierCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts model.TierCounts
	if s.listErr != nil {
		return counts, s.listErr
	}
	for _, r := range s.ratings {
		if r.ItemID == itemID {
			counts.Add(r.Tier, 1)
		}
	}
	return counts, nil
}

func (s *fakeStore) CountByRestaurant(_ context.Context, restaurantID string) (map[string]model.TierCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	result := make(map[string]model.TierCounts)
	for _, r := range s.ratings {
		item, ok := s.items[r.ItemID]
		if !ok || item.RestaurantID != restaurantID {
			continue
		}
		counts := result[r.ItemID]
		counts.Add(r.Tier, 1)
		result[r.ItemID] = counts
	}
	return result, nil
}

func (s *fakeStore) TiersByUserForRestaurant(_ context.Context, userID, restaurantID string) (map[string]model.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]model.Tier)
	for _, r := range s.ratings {
		item, ok := s.items[r.ItemID]
		if r.UserID == userID && ok && item.RestaurantID == restaurantID {
			result[r.ItemID] = r.Tier
		}
	}
	return result, nil
}

func (s *fakeStore) ListItemsByUserTier(_ context.Context, userID string, tier model.Tier) ([]*model.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var result []*model.MenuItem
	for _, id := range s.itemOrder {
		r, ok := s.ratings[ratingKey(userID, id)]
		if ok && r.Tier == tier {
			copied := *s.items[id]
			result = append(result, &copied)
		}
	}
	return result, nil
}

// UnitOfWork

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx := &fakeTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *fakeStore) commit(tx *fakeTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range tx.insertedRatings {
		if _, exists := s.ratings[ratingKey(r.UserID, r.ItemID)]; exists {
			return fmt.Errorf("commit: %w", repository.ErrConstraintViolation)
		}
	}
	for _, item := range tx.insertedItems {
		s.items[item.ID] = item
		s.itemOrder = append(s.itemOrder, item.ID)
	}
	for _, r := range tx.insertedRatings {
		s.ratings[ratingKey(r.UserID, r.ItemID)] = r
	}
	for id, u := range tx.updates {
		for _, r := range s.ratings {
			if r.ID == id {
				r.Tier = u.tier
				r.UpdatedAt = u.at
			}
		}
	}
	s.commits++
	return nil
}

type fakeUpdate struct {
	tier model.Tier
	at   time.Time
}

// fakeTx はfakeStoreに対するバッファ付きトランザクション。
type fakeTx struct {
	store           *fakeStore
	insertedRatings []*model.Rating
	insertedItems   []*model.MenuItem
	updates         map[string]fakeUpdate
}

// FindRating はストアを読んだ後でfindHookを呼ぶ。
// 同時送信のテストではフックで全員の読み取りを揃え、挿入競合を確実に起こす。
func (t *fakeTx) FindRating(_ context.Context, userID, itemID string) (*model.Rating, error) {
	for _, r := range t.insertedRatings {
		if r.UserID == userID && r.ItemID == itemID {
			copied := *r
			return &copied, nil
		}
	}
	found := t.store.ratingOf(userID, itemID)
	if t.store.findHook != nil {
		t.store.findHook()
	}
	return found, nil
}

func (t *fakeTx) InsertRating(_ context.Context, rating *model.Rating) error {
	if t.store.insertRatingErr != nil {
		return t.store.insertRatingErr
	}
	copied := *rating
	t.insertedRatings = append(t.insertedRatings, &copied)
	return nil
}

func (t *fakeTx) UpdateRatingTier(_ context.Context, ratingID string, tier model.Tier, updatedAt time.Time) error {
	if t.updates == nil {
		t.updates = make(map[string]fakeUpdate)
	}
	t.updates[ratingID] = fakeUpdate{tier: tier, at: updatedAt}
	return nil
}

func (t *fakeTx) InsertMenuItem(_ context.Context, item *model.MenuItem) error {
	copied := *item
	t.insertedItems = append(t.insertedItems, &copied)
	return nil
}

// passthroughSanitizer は入力の前後空白のみを除去するサニタイザー。
type passthroughSanitizer struct{}

func (passthroughSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(raw)
}

// countingMetrics は呼び出し回数を記録するMetricsCollector。
type countingMetrics struct {
	metrics.NopCollector
	mu        sync.Mutex
	conflicts int
	submitted map[int]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{submitted: make(map[int]int)}
}

func (m *countingMetrics) RecordUpsertConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) RecordRatingSubmitted(tier int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted[tier]++
}

var errStoreDown = errors.New("store unavailable")

// newTestService はfakeStoreを使うServiceを生成する。
func newTestService(store *fakeStore, collector metrics.MetricsCollector) *Service {
	svc := NewService(store, store, store, passthroughSanitizer{}, collector, Config{})
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}
