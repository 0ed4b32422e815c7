package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/menucatalog/internal/model"
)

// PostgresRatingRepo はPostgreSQLを使用した評価集計リポジトリ。
// 件数はmenu_item_ratingsを都度GROUP BYして求める。
type PostgresRatingRepo struct {
	db *sql.DB
}

// NewPostgresRatingRepo はPostgresRatingRepoを生成する。
func NewPostgresRatingRepo(db *sql.DB) *PostgresRatingRepo {
	return &PostgresRatingRepo{db: db}
}

// CountByItem はメニュー項目の評価段階ごとの件数を返す。
func (r *PostgresRatingRepo) CountByItem(ctx context.Context, itemID string) (model.TierCounts, error) {
	var counts model.TierCounts

	rows, err := r.db.QueryContext(ctx,
		`SELECT tier, COUNT(*)
		 FROM menu_item_ratings
		 WHERE item_id = $1
		 GROUP BY tier`,
		itemID,
	)
	if err != nil {
		return counts, fmt.Errorf("failed to count ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier model.Tier
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return counts, fmt.Errorf("failed to scan rating count: %w", err)
		}
		counts.Add(tier, n)
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("failed to iterate rating counts: %w", err)
	}
	return counts, nil
}

// CountByRestaurant はレストランの全メニュー項目について評価段階ごとの件数を返す。
func (r *PostgresRatingRepo) CountByRestaurant(ctx context.Context, restaurantID string) (map[string]model.TierCounts, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT mr.item_id, mr.tier, COUNT(*)
		 FROM menu_item_ratings mr
		 JOIN menu_items mi ON mi.id = mr.item_id
		 WHERE mi.restaurant_id = $1
		 GROUP BY mr.item_id, mr.tier`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count restaurant ratings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]model.TierCounts)
	for rows.Next() {
		var itemID string
		var tier model.Tier
		var n int
		if err := rows.Scan(&itemID, &tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan restaurant rating count: %w", err)
		}
		counts := result[itemID]
		counts.Add(tier, n)
		result[itemID] = counts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate restaurant rating counts: %w", err)
	}
	return result, nil
}

// TiersByUserForRestaurant はユーザーがレストランの各項目に付けた評価を返す。
func (r *PostgresRatingRepo) TiersByUserForRestaurant(ctx context.Context, userID, restaurantID string) (map[string]model.Tier, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT mr.item_id, mr.tier
		 FROM menu_item_ratings mr
		 JOIN menu_items mi ON mi.id = mr.item_id
		 WHERE mr.user_id = $1 AND mi.restaurant_id = $2`,
		userID, restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ratings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]model.Tier)
	for rows.Next() {
		var itemID string
		var tier model.Tier
		if err := rows.Scan(&itemID, &tier); err != nil {
			return nil, fmt.Errorf("failed to scan user rating: %w", err)
		}
		result[itemID] = tier
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user ratings: %w", err)
	}
	return result, nil
}

// ListItemsByUserTier はユーザーが指定段階で評価したメニュー項目を返す。
func (r *PostgresRatingRepo) ListItemsByUserTier(ctx context.Context, userID string, tier model.Tier) ([]*model.MenuItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+menuItemColumns+`
		 FROM menu_item_ratings mr
		 JOIN menu_items mi ON mi.id = mr.item_id
		 JOIN restaurants r ON r.id = mi.restaurant_id
		 WHERE mr.user_id = $1 AND mr.tier = $2
		 ORDER BY mr.updated_at DESC, mi.id`,
		userID, tier,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rated items: %w", err)
	}
	defer rows.Close()

	return scanMenuItems(rows)
}

// compile-time interface check
var _ RatingRepository = (*PostgresRatingRepo)(nil)
