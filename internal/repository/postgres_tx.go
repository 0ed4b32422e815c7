package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/menucatalog/internal/model"
)

// PostgresUnitOfWork はPostgreSQLのトランザクションで書き込みをまとめる。
type PostgresUnitOfWork struct {
	db *sql.DB
}

// NewPostgresUnitOfWork はPostgresUnitOfWorkを生成する。
func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

// WithinTx はfnを1トランザクション内で実行する。
// 一意制約違反でトランザクションがabortされた場合もロールバックしてエラーを返す。
func (u *PostgresUnitOfWork) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to commit transaction: %w", ErrConstraintViolation)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresTx は*sql.Txに対するTx実装。
type postgresTx struct {
	tx *sql.Tx
}

// FindRating はユーザーと項目の組の評価を行ロック付きで取得する。
func (t *postgresTx) FindRating(ctx context.Context, userID, itemID string) (*model.Rating, error) {
	rating := &model.Rating{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, user_id, item_id, tier, created_at, updated_at
		 FROM menu_item_ratings
		 WHERE user_id = $1 AND item_id = $2
		 FOR UPDATE`,
		userID, itemID,
	).Scan(&rating.ID, &rating.UserID, &rating.ItemID, &rating.Tier, &rating.CreatedAt, &rating.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find rating: %w", err)
	}
	return rating, nil
}

// InsertRating は評価を新規作成する。
// ON CONFLICTは使わず、一意制約違反はErrConstraintViolationとして返す。
func (t *postgresTx) InsertRating(ctx context.Context, rating *model.Rating) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO menu_item_ratings (id, user_id, item_id, tier, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rating.ID, rating.UserID, rating.ItemID, rating.Tier, rating.CreatedAt, rating.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert rating: %w", ErrConstraintViolation)
		}
		return fmt.Errorf("failed to insert rating: %w", err)
	}
	return nil
}

// UpdateRatingTier は既存の評価の段階を更新する。
func (t *postgresTx) UpdateRatingTier(ctx context.Context, ratingID string, tier model.Tier, updatedAt time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE menu_item_ratings SET tier = $2, updated_at = $3 WHERE id = $1`,
		ratingID, tier, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rating not found: %s", ratingID)
	}
	return nil
}

// InsertMenuItem はメニュー項目を新規作成する。
func (t *postgresTx) InsertMenuItem(ctx context.Context, item *model.MenuItem) error {
	var creatorID sql.NullString
	if item.CreatorID != "" {
		creatorID = sql.NullString{String: item.CreatorID, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO menu_items (id, restaurant_id, creator_id, name, description, price, course, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.RestaurantID, creatorID, item.Name, item.Description,
		item.Price, item.Course, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert menu item: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ UnitOfWork = (*PostgresUnitOfWork)(nil)
	_ Tx         = (*postgresTx)(nil)
)
