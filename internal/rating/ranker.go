package rating

import (
	"cmp"
	"context"
	"iter"
	"slices"

	"github.com/hitoshi/menucatalog/internal/model"
)

// Rank は項目を人気順に並べた遅延シーケンスを返す。
// 並び順はお気に入り数の降順、良い数の降順、悪い数の昇順で、同順位は入力順を保つ。
// 並べ替えは反復のたびに入力の複製に対して行うため、何度でも反復できる。
func Rank(entries []model.RatedItem) iter.Seq[model.RatedItem] {
	return func(yield func(model.RatedItem) bool) {
		sorted := slices.Clone(entries)
		slices.SortStableFunc(sorted, comparePopularity)
		for _, e := range sorted {
			if !yield(e) {
				return
			}
		}
	}
}

func comparePopularity(a, b model.RatedItem) int {
	if c := cmp.Compare(b.Counts.Favorite(), a.Counts.Favorite()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Counts.Good(), a.Counts.Good()); c != 0 {
		return c
	}
	return cmp.Compare(a.Counts.Bad(), b.Counts.Bad())
}

// RankedMenu はレストランのメニューを人気順に並べて返す。
// userIDが空でない場合は各項目に閲覧ユーザー自身の評価を付与する。
// 集計は保存された評価から都度算出する。
func (s *Service) RankedMenu(ctx context.Context, restaurantID, userID string) (*model.Restaurant, iter.Seq[model.RatedItem], error) {
	restaurant, err := s.menus.FindRestaurantByID(ctx, restaurantID)
	if err != nil {
		return nil, nil, err
	}
	if restaurant == nil {
		return nil, nil, model.NewRestaurantNotFoundError(restaurantID)
	}

	items, err := s.menus.ListItemsByRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, nil, err
	}

	counts, err := s.ratings.CountByRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, nil, err
	}

	var own map[string]model.Tier
	if userID != "" {
		own, err = s.ratings.TiersByUserForRestaurant(ctx, userID, restaurantID)
		if err != nil {
			return nil, nil, err
		}
	}

	entries := make([]model.RatedItem, 0, len(items))
	for _, item := range items {
		entries = append(entries, model.RatedItem{
			Item:     *item,
			Counts:   counts[item.ID],
			UserTier: own[item.ID],
		})
	}

	return restaurant, Rank(entries), nil
}

// RandomFavorites はユーザーがお気に入りにした項目から最大limit件を重複なく無作為に選ぶ。
// limitが0以下の場合は既定件数を使う。お気に入りがなければ空を返す。
func (s *Service) RandomFavorites(ctx context.Context, userID string, limit int) ([]*model.MenuItem, error) {
	if limit <= 0 {
		limit = s.config.DefaultFavoritesLimit
	}

	pool, err := s.ratings.ListItemsByUserTier(ctx, userID, model.TierFavorite)
	if err != nil {
		return nil, err
	}

	s.shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return pool[:min(limit, len(pool))], nil
}
