// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, menu, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeExchangeFailed      = "EXCHANGE_FAILED"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeSubjectMismatch     = "SUBJECT_MISMATCH"
	ErrCodeAudienceMismatch    = "AUDIENCE_MISMATCH"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeNotConnected        = "NOT_CONNECTED"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeCSRFMismatch        = "CSRF_MISMATCH"
	ErrCodeInvalidTier         = "INVALID_TIER"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeItemNotFound        = "ITEM_NOT_FOUND"
	ErrCodeRestaurantNotFound  = "RESTAURANT_NOT_FOUND"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewExchangeFailedError は認可コード交換の失敗を表すエラーを生成する。
func NewExchangeFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExchangeFailed,
		Message:  "認可コードをアクセストークンに交換できませんでした。",
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewInvalidTokenError はトークン情報にエラーが含まれていた場合のエラーを生成する。
func NewInvalidTokenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  fmt.Sprintf("アクセストークンが無効です: %s", reason),
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewSubjectMismatchError はトークンのユーザーIDがid_tokenのsubと一致しない場合のエラーを生成する。
func NewSubjectMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeSubjectMismatch,
		Message:  "トークンのユーザーIDが一致しません。",
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewAudienceMismatchError はトークンの発行先がこのアプリケーションでない場合のエラーを生成する。
func NewAudienceMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeAudienceMismatch,
		Message:  "トークンの発行先クライアントIDが一致しません。",
		Category: "auth",
		Action:   "このアプリケーションのサインインボタンからサインインしてください。",
	}
}

// NewProviderUnavailableError はIDプロバイダーに到達できない場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "認証プロバイダーに接続できませんでした。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotConnectedError はサインインしていないセッションでサインアウトした場合のエラーを生成する。
func NewNotConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotConnected,
		Message:  "現在サインインしていません。",
		Category: "auth",
		Action:   "サインインしてから操作してください。",
	}
}

// NewUnauthenticatedError は未認証リクエストのエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "サインインしてから操作してください。",
	}
}

// NewCSRFMismatchError はCSRFトークン不一致のエラーを生成する。
func NewCSRFMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFMismatch,
		Message:  "CSRFトークンが一致しません。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidTierError は評価段階が範囲外の場合のエラーを生成する。
func NewInvalidTierError(tier int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTier,
		Message:  fmt.Sprintf("無効な評価です: %d", tier),
		Category: "validation",
		Action:   fmt.Sprintf("評価には1から%dまでの値を指定してください。", TierCount),
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewItemNotFoundError はメニュー項目未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたメニュー項目が見つかりません: %s", itemID),
		Category: "menu",
		Action:   "メニュー項目IDを確認してください。",
	}
}

// NewRestaurantNotFoundError はレストラン未検出エラーを生成する。
func NewRestaurantNotFoundError(restaurantID string) *APIError {
	return &APIError{
		Code:     ErrCodeRestaurantNotFound,
		Message:  fmt.Sprintf("指定されたレストランが見つかりません: %s", restaurantID),
		Category: "menu",
		Action:   "レストランIDを確認してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
