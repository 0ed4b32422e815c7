// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderGoogle はGoogleサインインのプロバイダー名。
const ProviderGoogle = "google"

// User はサービス利用ユーザーを表す。
// 初回サインイン成功時に作成され、コアからは削除しない。
type User struct {
	ID        string
	Email     string
	Name      string
	Picture   string // アバター画像URI
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// ユーザーの解決はprovider_user_id（subject）をキーに行う。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}
