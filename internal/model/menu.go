package model

import "time"

// Restaurant はメニューを持つレストランを表す。
type Restaurant struct {
	ID        string
	Name      string
	Phone     string
	Note      string
	CreatedAt time.Time
}

// MenuItem はレストランのメニュー項目を表す。
// 親のレストランが削除されるとCASCADE削除される。
type MenuItem struct {
	ID             string
	RestaurantID   string
	RestaurantName string // JOIN時のみ設定される
	CreatorID      string
	Name           string
	Description    string
	Price          string
	Course         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RatedItem はメニュー項目と評価の集計、閲覧ユーザー自身の評価を結合したもの。
// 集計値は保存された評価から都度算出し、永続化しない。
type RatedItem struct {
	Item     MenuItem
	Counts   TierCounts
	UserTier Tier // 未評価の場合はTierNone
}
