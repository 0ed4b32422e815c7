// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/menucatalog/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByNameAndEmail は名前とメールアドレスでユーザーを検索する。
	// identityを持たない既存ユーザーの紐付けに使う。見つからない場合はnilを返す。
	FindByNameAndEmail(ctx context.Context, name, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はプロバイダーから取得した表示名・メール・アバターを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error
}

// IdentityRepository はプロバイダーのsubjectとユーザーの紐付けを扱う。
type IdentityRepository interface {
	// FindUserID はsubjectに紐付いたユーザーIDを返す。未登録なら空文字を返す。
	FindUserID(ctx context.Context, provider, subject string) (string, error)

	// Link は既存ユーザーにsubjectを紐付ける。
	// 同じsubjectが既に紐付いている場合はErrConstraintViolationを返す。
	Link(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// Postgres、メモリ、Badgerの各実装を切り替えて使う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Save はセッションを作成または上書きする。
	Save(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MenuRepository はレストランとメニュー項目の読み取りインターフェース。
type MenuRepository interface {
	// FindRestaurantByID は指定IDのレストランを取得する。見つからない場合はnilを返す。
	FindRestaurantByID(ctx context.Context, id string) (*model.Restaurant, error)

	// FindItemByID は指定IDのメニュー項目を取得する。見つからない場合はnilを返す。
	FindItemByID(ctx context.Context, id string) (*model.MenuItem, error)

	// ListItemsByRestaurant はレストランのメニュー項目を作成順で返す。
	ListItemsByRestaurant(ctx context.Context, restaurantID string) ([]*model.MenuItem, error)
}

// RatingRepository は評価の集計クエリを提供する。
// 集計は常に保存済みの評価行から算出し、カウンタは持たない。
type RatingRepository interface {
	// CountByItem はメニュー項目の評価段階ごとの件数を返す。
	CountByItem(ctx context.Context, itemID string) (model.TierCounts, error)

	// CountByRestaurant はレストランの全メニュー項目について評価段階ごとの件数を返す。
	// 評価が1件もない項目はmapに含まれない。
	CountByRestaurant(ctx context.Context, restaurantID string) (map[string]model.TierCounts, error)

	// TiersByUserForRestaurant はユーザーがレストランの各項目に付けた評価を返す。
	TiersByUserForRestaurant(ctx context.Context, userID, restaurantID string) (map[string]model.Tier, error)

	// ListItemsByUserTier はユーザーが指定段階で評価したメニュー項目をレストラン名付きで返す。
	ListItemsByUserTier(ctx context.Context, userID string, tier model.Tier) ([]*model.MenuItem, error)
}

// UnitOfWork は複数の書き込みを1トランザクションで実行する。
type UnitOfWork interface {
	// WithinTx はfnを1トランザクション内で実行する。
	// fnがエラーを返した場合やコミットに失敗した場合はロールバックする。
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx はトランザクション内で利用できる書き込み操作。
type Tx interface {
	// FindRating はユーザーと項目の組の評価を取得する。見つからない場合はnilを返す。
	FindRating(ctx context.Context, userID, itemID string) (*model.Rating, error)

	// InsertRating は評価を新規作成する。
	// (user_id, item_id)の一意制約に違反した場合はErrConstraintViolationを返す。
	InsertRating(ctx context.Context, rating *model.Rating) error

	// UpdateRatingTier は既存の評価の段階を更新する。
	UpdateRatingTier(ctx context.Context, ratingID string, tier model.Tier, updatedAt time.Time) error

	// InsertMenuItem はメニュー項目を新規作成する。
	InsertMenuItem(ctx context.Context, item *model.MenuItem) error
}
