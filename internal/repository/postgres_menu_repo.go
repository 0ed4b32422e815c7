package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/menucatalog/internal/model"
)

// PostgresMenuRepo はPostgreSQLを使用したレストラン・メニュー項目リポジトリ。
type PostgresMenuRepo struct {
	db *sql.DB
}

// NewPostgresMenuRepo はPostgresMenuRepoを生成する。
func NewPostgresMenuRepo(db *sql.DB) *PostgresMenuRepo {
	return &PostgresMenuRepo{db: db}
}

// FindRestaurantByID は指定IDのレストランを取得する。見つからない場合はnilを返す。
func (r *PostgresMenuRepo) FindRestaurantByID(ctx context.Context, id string) (*model.Restaurant, error) {
	restaurant := &model.Restaurant{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, phone, note, created_at FROM restaurants WHERE id = $1`,
		id,
	).Scan(&restaurant.ID, &restaurant.Name, &restaurant.Phone, &restaurant.Note, &restaurant.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find restaurant: %w", err)
	}
	return restaurant, nil
}

// menuItemColumns はmenu_itemsとrestaurantsのJOIN結果として読み取るカラム。
const menuItemColumns = `mi.id, mi.restaurant_id, r.name, COALESCE(mi.creator_id::text, ''),
	mi.name, mi.description, mi.price, mi.course, mi.created_at, mi.updated_at`

// FindItemByID は指定IDのメニュー項目を取得する。見つからない場合はnilを返す。
func (r *PostgresMenuRepo) FindItemByID(ctx context.Context, id string) (*model.MenuItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+menuItemColumns+`
		 FROM menu_items mi
		 JOIN restaurants r ON r.id = mi.restaurant_id
		 WHERE mi.id = $1`,
		id,
	)
	item, err := scanMenuItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find menu item: %w", err)
	}
	return item, nil
}

// ListItemsByRestaurant はレストランのメニュー項目を作成順で返す。
// 同時刻に作成された項目はIDで順序を固定する。
func (r *PostgresMenuRepo) ListItemsByRestaurant(ctx context.Context, restaurantID string) ([]*model.MenuItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+menuItemColumns+`
		 FROM menu_items mi
		 JOIN restaurants r ON r.id = mi.restaurant_id
		 WHERE mi.restaurant_id = $1
		 ORDER BY mi.created_at, mi.id`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer rows.Close()

	return scanMenuItems(rows)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMenuItem(row rowScanner) (*model.MenuItem, error) {
	item := &model.MenuItem{}
	err := row.Scan(
		&item.ID, &item.RestaurantID, &item.RestaurantName, &item.CreatorID,
		&item.Name, &item.Description, &item.Price, &item.Course,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func scanMenuItems(rows *sql.Rows) ([]*model.MenuItem, error) {
	var items []*model.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate menu items: %w", err)
	}
	return items, nil
}

// compile-time interface check
var _ MenuRepository = (*PostgresMenuRepo)(nil)
