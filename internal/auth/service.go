// Package auth は外部IDプロバイダーによるサインイン・サインアウトを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/menucatalog/internal/metrics"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/repository"
	"github.com/hitoshi/menucatalog/internal/security"
)

// SignInStatus はサインインの結果種別。
type SignInStatus string

const (
	// SignInConnected は新たにセッションへユーザーを紐付けたことを示す。
	SignInConnected SignInStatus = "connected"
	// SignInAlreadyConnected はセッションが既に紐付け済みだったことを示す。
	SignInAlreadyConnected SignInStatus = "already_connected"
)

// SignInResult はサインインの結果。
type SignInResult struct {
	Status   SignInStatus
	UserID   string
	Username string
	Picture  string
}

// SignOutResult はサインアウトの結果。
type SignOutResult struct {
	// Revoked はプロバイダー側でアクセストークンを失効できたかを示す。
	Revoked bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// ClientID はトークンの発行先として期待するOAuthクライアントID。
	ClientID string
}

// Service はサインインとサインアウトのビジネスロジックを提供する。
// HTTPには依存せず、呼び出し元が渡したセッションを更新する。
// セッションの保存とCSRFトークンの再発行はハンドラーが行う。
type Service struct {
	provider  Provider
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	sanitizer security.TextSanitizer
	urlGuard  security.URLGuard
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	provider Provider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sanitizer security.TextSanitizer,
	urlGuard security.URLGuard,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		provider:  provider,
		userRepo:  userRepo,
		identRepo: identRepo,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
		metrics:   collector,
		config:    config,
		now:       time.Now,
	}
}

// SignIn は認可コードを検証し、セッションにユーザーを紐付ける。
// 検証のいずれかに失敗した場合、ユーザーの作成もセッションの変更も行わない。
func (s *Service) SignIn(ctx context.Context, sess *model.Session, code string) (*SignInResult, error) {
	// 1. 紐付け済みのセッションはプロバイダーに問い合わせずに成功とする
	if sess.IsBound() {
		s.metrics.RecordSignIn(string(SignInAlreadyConnected))
		return &SignInResult{
			Status:   SignInAlreadyConnected,
			UserID:   sess.UserID,
			Username: sess.Username,
			Picture:  sess.Picture,
		}, nil
	}

	// 2. 認可コードをアクセストークンに交換
	creds, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, s.signInFailed("provider_unavailable", model.NewProviderUnavailableError(), err)
		}
		return nil, s.signInFailed("exchange_failed", model.NewExchangeFailedError(), err)
	}

	// 3. アクセストークンの検査
	info, err := s.provider.TokenInfo(ctx, creds.AccessToken)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, s.signInFailed("provider_unavailable", model.NewProviderUnavailableError(), err)
		}
		return nil, s.signInFailed("invalid_token", model.NewInvalidTokenError(err.Error()), err)
	}
	if info.Error != "" {
		return nil, s.signInFailed("invalid_token", model.NewInvalidTokenError(info.Error), nil)
	}

	// 4. トークンの対象ユーザーがid_tokenのsubjectと一致するか
	if info.UserID != creds.Subject {
		return nil, s.signInFailed("subject_mismatch", model.NewSubjectMismatchError(), nil)
	}

	// 5. トークンがこのアプリ向けに発行されたか
	if info.IssuedTo != s.config.ClientID {
		return nil, s.signInFailed("audience_mismatch", model.NewAudienceMismatchError(), nil)
	}

	// 6. プロフィール取得
	profile, err := s.provider.FetchUserInfo(ctx, creds.AccessToken)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, s.signInFailed("provider_unavailable", model.NewProviderUnavailableError(), err)
		}
		return nil, s.signInFailed("exchange_failed", model.NewExchangeFailedError(), err)
	}
	name := s.sanitizer.SanitizeText(profile.Name)
	picture := profile.Picture
	if picture != "" {
		if err := s.urlGuard.ValidateURL(picture); err != nil {
			slog.Warn("discarding provider avatar URL", slog.String("error", err.Error()))
			picture = ""
		}
	}

	// 7. ユーザーの解決
	user, err := s.resolveUser(ctx, creds.Subject, name, profile.Email, picture)
	if err != nil {
		s.metrics.RecordSignIn("error")
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	// 8. セッションへの紐付け
	sess.UserID = user.ID
	sess.AccessToken = creds.AccessToken
	sess.ProviderSubject = creds.Subject
	sess.Username = user.Name
	sess.Email = user.Email
	sess.Picture = user.Picture

	s.metrics.RecordSignIn(string(SignInConnected))
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("provider", model.ProviderGoogle),
	)

	return &SignInResult{
		Status:   SignInConnected,
		UserID:   user.ID,
		Username: user.Name,
		Picture:  user.Picture,
	}, nil
}

// signInFailed は失敗を記録し、クライアントに返すエラーを返す。
func (s *Service) signInFailed(outcome string, apiErr *model.APIError, cause error) error {
	s.metrics.RecordSignIn(outcome)
	attrs := []any{slog.String("outcome", outcome)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	slog.Warn("sign-in rejected", attrs...)
	return apiErr
}

// resolveUser はプロバイダーのsubjectからユーザーを特定する。
// identityがなければ(名前, メール)で既存ユーザーを探して紐付け、それもなければ新規作成する。
func (s *Service) resolveUser(ctx context.Context, subject, name, email, picture string) (*model.User, error) {
	userID, err := s.identRepo.FindUserID(ctx, model.ProviderGoogle, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if userID != "" {
		return s.refreshProfile(ctx, userID, name, email, picture)
	}

	now := s.now()
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		Provider:       model.ProviderGoogle,
		ProviderUserID: subject,
		CreatedAt:      now,
	}

	legacy, err := s.userRepo.FindByNameAndEmail(ctx, name, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find legacy user: %w", err)
	}
	if legacy != nil {
		newIdentity.UserID = legacy.ID
		if err := s.identRepo.Link(ctx, newIdentity); err != nil {
			if errors.Is(err, repository.ErrConstraintViolation) {
				return s.resolveRaced(ctx, subject)
			}
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("linked identity to existing user", slog.String("user_id", legacy.ID))
		return s.refreshProfile(ctx, legacy.ID, name, email, picture)
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Picture:   picture,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity.UserID = user.ID
	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		if errors.Is(err, repository.ErrConstraintViolation) {
			return s.resolveRaced(ctx, subject)
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", model.ProviderGoogle),
	)
	return user, nil
}

// resolveRaced は同じsubjectの同時サインインで先に作成されたユーザーを返す。
func (s *Service) resolveRaced(ctx context.Context, subject string) (*model.User, error) {
	userID, err := s.identRepo.FindUserID(ctx, model.ProviderGoogle, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if userID == "" {
		return nil, fmt.Errorf("identity for subject vanished after conflict")
	}
	return s.findUser(ctx, userID)
}

// refreshProfile はプロバイダーのプロフィールが変わっていればユーザーを更新する。
func (s *Service) refreshProfile(ctx context.Context, userID, name, email, picture string) (*model.User, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Name == name && user.Email == email && user.Picture == picture {
		return user, nil
	}

	user.Name = name
	user.Email = email
	user.Picture = picture
	user.UpdatedAt = s.now()
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	return user, nil
}

// SignOut はプロバイダーのアクセストークンを失効させる。
// アクセストークンを持たないセッションにはNOT_CONNECTEDを返す。
// 失効の失敗はログと結果に残すだけで、セッションの破棄は呼び出し元が常に行う。
func (s *Service) SignOut(ctx context.Context, sess *model.Session) (*SignOutResult, error) {
	if sess == nil || sess.AccessToken == "" {
		return nil, model.NewNotConnectedError()
	}

	result := &SignOutResult{Revoked: true}
	if err := s.provider.Revoke(ctx, sess.AccessToken); err != nil {
		result.Revoked = false
		slog.Warn("failed to revoke provider token",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
	}

	s.metrics.RecordSignOut(result.Revoked)
	slog.Info("user signed out",
		slog.String("user_id", sess.UserID),
		slog.Bool("revoked", result.Revoked),
	)
	return result, nil
}
