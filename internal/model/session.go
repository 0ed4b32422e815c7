package model

import "time"

// Session はサーバーサイドで保持するブラウザセッションを表す。
// 未認証のセッションはUserIDが空で、CSRFトークンのみを保持する。
type Session struct {
	ID              string
	UserID          string
	CSRFToken       string
	AccessToken     string
	ProviderSubject string
	Username        string
	Email           string
	Picture         string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsAuthenticated はセッションにユーザーが紐付いているかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != ""
}

// IsBound はセッションがプロバイダーのsubjectとアクセストークンに紐付いているかを返す。
// 紐付き済みのセッションへの再サインインはプロバイダーに問い合わせず成功とする。
func (s *Session) IsBound() bool {
	return s.IsAuthenticated() && s.AccessToken != "" && s.ProviderSubject != ""
}

// IsExpired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Clear はユーザーの紐付け、アクセストークン、CSRFトークンをすべて破棄する。
func (s *Session) Clear() {
	s.UserID = ""
	s.CSRFToken = ""
	s.AccessToken = ""
	s.ProviderSubject = ""
	s.Username = ""
	s.Email = ""
	s.Picture = ""
}
