package model

import "time"

// Tier はメニュー項目に対する評価段階を表す。
type Tier int

const (
	// TierNone は未評価を表す。
	TierNone Tier = 0
	// TierFavorite はお気に入り。
	TierFavorite Tier = 1
	// TierGood は良い。
	TierGood Tier = 2
	// TierBad は悪い。
	TierBad Tier = 3
)

// TierCount は評価段階の数。DBのCHECK制約と一致させること。
const TierCount = 3

// Valid は評価段階が1からTierCountの範囲内かを返す。
func (t Tier) Valid() bool {
	return t >= 1 && t <= TierCount
}

// Rating はユーザーがメニュー項目に付けた評価を表す。
// (UserID, ItemID)の組につき最大1件。
type Rating struct {
	ID        string
	UserID    string
	ItemID    string
	Tier      Tier
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TierCounts は評価段階ごとの件数。インデックスはTier-1。
type TierCounts [TierCount]int

// Of は指定した評価段階の件数を返す。範囲外は0。
func (c TierCounts) Of(t Tier) int {
	if !t.Valid() {
		return 0
	}
	return c[t-1]
}

// Add は指定した評価段階の件数にnを加算する。範囲外は無視する。
func (c *TierCounts) Add(t Tier, n int) {
	if !t.Valid() {
		return
	}
	c[t-1] += n
}

// Favorite はお気に入りの件数を返す。
func (c TierCounts) Favorite() int { return c.Of(TierFavorite) }

// Good は良いの件数を返す。
func (c TierCounts) Good() int { return c.Of(TierGood) }

// Bad は悪いの件数を返す。
func (c TierCounts) Bad() int { return c.Of(TierBad) }

// Total は全段階の合計件数を返す。
func (c TierCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
