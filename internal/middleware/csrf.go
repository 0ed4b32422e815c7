package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/hitoshi/menucatalog/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// フロントエンドからJavaScriptで読み取れるよう、HttpOnlyではない。
	csrfCookieName = "csrf_token"

	// csrfHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	// csrfFormField はフォーム送信時にCSRFトークンを読み取るフィールド名。
	csrfFormField = "_csrf"
)

// CSRFConfig はCSRFトークンCookieの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// CSRFTokens はセッションに紐付いたCSRFトークンの発行と検証を行う。
// 正となるトークンはサーバー側のセッションに保持し、Cookieはクライアントへの受け渡しにのみ使う。
type CSRFTokens struct {
	config CSRFConfig
}

// NewCSRFTokens はCSRFTokensを生成する。
func NewCSRFTokens(config CSRFConfig) *CSRFTokens {
	return &CSRFTokens{config: config}
}

// Issue は新しいトークンを生成してセッションに紐付け、Cookieに設定する。
// セッションの永続化は呼び出し元が行う。
func (c *CSRFTokens) Issue(w http.ResponseWriter, session *model.Session) (string, error) {
	token, err := GenerateCSRFToken()
	if err != nil {
		return "", err
	}
	session.CSRFToken = token
	c.setCookie(w, token, 0)
	return token, nil
}

// Ensure はセッションにトークンがなければ発行する。
// 発行した場合はissuedがtrueとなり、呼び出し元はセッションを保存する必要がある。
func (c *CSRFTokens) Ensure(w http.ResponseWriter, session *model.Session) (token string, issued bool, err error) {
	if session.CSRFToken != "" {
		c.setCookie(w, session.CSRFToken, 0)
		return session.CSRFToken, false, nil
	}
	token, err = c.Issue(w, session)
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// Refresh はトークン配布時に使う。未認証セッションには毎回新しいトークンを発行し、
// 認証済みセッションは既存のトークンを使い続ける（サインイン時に振り直し済み）。
// changedがtrueの場合、呼び出し元はセッションを保存する必要がある。
func (c *CSRFTokens) Refresh(w http.ResponseWriter, session *model.Session) (token string, changed bool, err error) {
	if session.IsAuthenticated() {
		return c.Ensure(w, session)
	}
	token, err = c.Issue(w, session)
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// Verify はリクエストが提示したトークンがセッションのトークンと一致するかを定数時間で比較する。
// トークンはX-CSRF-Tokenヘッダー、なければ_csrfフォームフィールドから読み取る。
// Cookieの値は提示されたトークンとして扱わない。
func (c *CSRFTokens) Verify(r *http.Request, session *model.Session) bool {
	if session == nil || session.CSRFToken == "" {
		return false
	}
	presented := r.Header.Get(csrfHeaderName)
	if presented == "" {
		presented = r.PostFormValue(csrfFormField)
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(session.CSRFToken)) == 1
}

// ClearCookie はCSRFトークンCookieを失効させる。
func (c *CSRFTokens) ClearCookie(w http.ResponseWriter) {
	c.setCookie(w, "", -1)
}

func (c *CSRFTokens) setCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: false, // フロントエンドから読み取り可能
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// GenerateCSRFToken は暗号的に安全な32文字の大文字16進トークンを生成する。
func GenerateCSRFToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
