package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/menucatalog/internal/metrics"
)

const (
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultGoogleTokenInfoURL = "https://www.googleapis.com/oauth2/v1/tokeninfo"
	defaultGoogleUserInfoURL  = "https://www.googleapis.com/oauth2/v1/userinfo"
	defaultGoogleRevokeURL    = "https://oauth2.googleapis.com/revoke"

	// maxProviderResponseSize はプロバイダーのレスポンスボディの読み取り上限（1MB）。
	maxProviderResponseSize = 1 << 20

	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

var (
	// ErrExchangeRejected はプロバイダーが認可コードの交換を拒否したことを示す。
	ErrExchangeRejected = errors.New("authorization code exchange rejected")
	// ErrProviderUnavailable はタイムアウト、通信エラー、5xx応答、ブレーカー開放により
	// プロバイダーに到達できないことを示す。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrRevokeRejected はプロバイダーがトークン失効を拒否したことを示す。
	ErrRevokeRejected = errors.New("token revocation rejected")
)

// Credentials は認可コード交換で得たアクセストークンとid_tokenのsubject。
type Credentials struct {
	AccessToken string
	Subject     string
}

// TokenInfo はアクセストークンの検査結果。
// Errorが空でない場合、トークンは無効。
type TokenInfo struct {
	UserID   string `json:"user_id"`
	IssuedTo string `json:"issued_to"`
	Error    string `json:"error"`
}

// UserInfo はプロバイダーから取得したプロフィール。
type UserInfo struct {
	Subject string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Provider は外部IDプロバイダーとのやり取りを抽象化する。
type Provider interface {
	// ExchangeCode は認可コードをアクセストークンとid_tokenに交換する。
	ExchangeCode(ctx context.Context, code string) (*Credentials, error)
	// TokenInfo はアクセストークンの発行先と対象ユーザーを問い合わせる。
	TokenInfo(ctx context.Context, accessToken string) (*TokenInfo, error)
	// FetchUserInfo はアクセストークンでプロフィールを取得する。
	FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
	// Revoke はアクセストークンを失効させる。
	Revoke(ctx context.Context, accessToken string) error
}

// GoogleConfig はGoogleプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient はプロバイダー呼び出しに使うクライアント。タイムアウトはクライアント側で設定する。
	HTTPClient *http.Client

	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// テスト用にオーバーライド可能なURL
	TokenURL     string
	TokenInfoURL string
	UserInfoURL  string
	RevokeURL    string
}

// GoogleProvider はGoogleのOAuth 2.0エンドポイントを呼び出すProvider実装。
// すべての呼び出しは1つのサーキットブレーカーを共有する。
type GoogleProvider struct {
	config  GoogleConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[providerResponse]
	metrics metrics.MetricsCollector
}

// providerResponse はブレーカー越しに返すHTTPレスポンスの要約。
type providerResponse struct {
	status int
	body   []byte
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(config GoogleConfig, collector metrics.MetricsCollector) *GoogleProvider {
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = defaultBreakerFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = defaultBreakerTimeout
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	failures := config.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[providerResponse](gobreaker.Settings{
		Name:        "google",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("provider circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			collector.RecordBreakerState(name, to.String())
		},
	})
	collector.RecordBreakerState("google", gobreaker.StateClosed.String())

	return &GoogleProvider{
		config:  config,
		client:  client,
		breaker: breaker,
		metrics: collector,
	}
}

// googleTokenResponse はトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	Error       string `json:"error"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、id_tokenからsubjectを読み取る。
// id_tokenはTLS越しにトークンエンドポイントから直接受け取ったものなので署名は検証しない。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*Credentials, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.do("token", req)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrExchangeRejected, resp.status)
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(resp.body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse token response: %v", ErrExchangeRejected, err)
	}
	if tokenResp.AccessToken == "" || tokenResp.IDToken == "" {
		return nil, fmt.Errorf("%w: missing access_token or id_token", ErrExchangeRejected)
	}

	subject, err := subjectFromIDToken(tokenResp.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeRejected, err)
	}

	return &Credentials{AccessToken: tokenResp.AccessToken, Subject: subject}, nil
}

// subjectFromIDToken はid_tokenのsubクレームを取り出す。
func subjectFromIDToken(idToken string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("failed to parse id_token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("id_token has no sub claim")
	}
	return claims.Subject, nil
}

// TokenInfo はtokeninfoエンドポイントでアクセストークンを検査する。
// プロバイダーが無効と判定した場合はエラーではなくTokenInfo.Errorに理由を入れて返す。
func (p *GoogleProvider) TokenInfo(ctx context.Context, accessToken string) (*TokenInfo, error) {
	endpoint := p.config.TokenInfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	resp, err := p.do("tokeninfo", req)
	if err != nil {
		return nil, err
	}

	var info TokenInfo
	if err := json.Unmarshal(resp.body, &info); err != nil {
		return &TokenInfo{Error: fmt.Sprintf("unreadable tokeninfo response (status %d)", resp.status)}, nil
	}
	if resp.status != http.StatusOK && info.Error == "" {
		info.Error = fmt.Sprintf("tokeninfo returned status %d", resp.status)
	}
	return &info, nil
}

// FetchUserInfo はアクセストークンでプロフィールを取得する。
func (p *GoogleProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	endpoint := p.config.UserInfoURL + "?" + url.Values{"alt": {"json"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.do("userinfo", req)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.status)
	}

	var info UserInfo
	if err := json.Unmarshal(resp.body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	return &info, nil
}

// Revoke はアクセストークンを失効させる。200以外の応答はErrRevokeRejectedを返す。
func (p *GoogleProvider) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.do("revoke", req)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRevokeRejected, resp.status)
	}
	return nil
}

// do はサーキットブレーカー越しにリクエストを送信する。
// 通信エラーと5xx応答のみを失敗として数え、ErrProviderUnavailableでラップして返す。
func (p *GoogleProvider) do(endpoint string, req *http.Request) (providerResponse, error) {
	start := time.Now()
	resp, err := p.breaker.Execute(func() (providerResponse, error) {
		res, err := p.client.Do(req)
		if err != nil {
			return providerResponse{}, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxProviderResponseSize))
		if err != nil {
			return providerResponse{}, err
		}
		if res.StatusCode >= http.StatusInternalServerError {
			return providerResponse{}, fmt.Errorf("status %d", res.StatusCode)
		}
		return providerResponse{status: res.StatusCode, body: body}, nil
	})
	p.metrics.RecordProviderLatency(endpoint, time.Since(start))

	if err != nil {
		return providerResponse{}, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, endpoint, err)
	}
	return resp, nil
}

// compile-time interface check
var _ Provider = (*GoogleProvider)(nil)
