// Package rating はメニュー項目の評価の登録・集計と人気順ランキングを提供する。
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/menucatalog/internal/metrics"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/repository"
	"github.com/hitoshi/menucatalog/internal/security"
)

const (
	// DefaultMaxUpsertAttempts は一意制約違反時を含めた評価UPSERTの最大試行回数。
	DefaultMaxUpsertAttempts = 3
	// DefaultFavoritesLimit はお気に入りの抽出件数の既定値。
	DefaultFavoritesLimit = 3
)

// Config は評価サービスの設定。
type Config struct {
	MaxUpsertAttempts     int
	DefaultFavoritesLimit int
}

// Service は評価の登録・集計・ランキングのビジネスロジックを提供する。
type Service struct {
	uow       repository.UnitOfWork
	ratings   repository.RatingRepository
	menus     repository.MenuRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    Config

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewService はServiceを生成する。
func NewService(
	uow repository.UnitOfWork,
	ratings repository.RatingRepository,
	menus repository.MenuRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	config Config,
) *Service {
	if config.MaxUpsertAttempts <= 0 {
		config.MaxUpsertAttempts = DefaultMaxUpsertAttempts
	}
	if config.DefaultFavoritesLimit <= 0 {
		config.DefaultFavoritesLimit = DefaultFavoritesLimit
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		uow:       uow,
		ratings:   ratings,
		menus:     menus,
		sanitizer: sanitizer,
		metrics:   collector,
		config:    config,
		now:       time.Now,
		shuffle:   rand.Shuffle,
	}
}

// SubmitRating はユーザーのメニュー項目への評価を登録または更新する。
// (ユーザー, 項目)につき評価は常に1件で、再送信は段階をその場で置き換える。
// 同時送信による挿入競合は一意制約で検出し、新しいトランザクションで更新として再試行する。
func (s *Service) SubmitRating(ctx context.Context, userID, itemID string, tier model.Tier) (*model.Rating, error) {
	if !tier.Valid() {
		return nil, model.NewInvalidTierError(int(tier))
	}

	item, err := s.menus.FindItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}

	var rating *model.Rating
	for attempt := 1; ; attempt++ {
		rating, err = s.upsertRating(ctx, userID, itemID, tier)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConstraintViolation) || attempt >= s.config.MaxUpsertAttempts {
			return nil, fmt.Errorf("failed to upsert rating: %w", err)
		}

		s.metrics.RecordUpsertConflict()
		slog.Debug("rating insert raced, retrying as update",
			slog.String("user_id", userID),
			slog.String("item_id", itemID),
			slog.Int("attempt", attempt),
		)
	}

	s.metrics.RecordRatingSubmitted(int(tier))
	return rating, nil
}

// upsertRating は1トランザクション内で既存評価を検索し、更新または挿入する。
func (s *Service) upsertRating(ctx context.Context, userID, itemID string, tier model.Tier) (*model.Rating, error) {
	var result *model.Rating

	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		now := s.now()

		existing, err := tx.FindRating(ctx, userID, itemID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := tx.UpdateRatingTier(ctx, existing.ID, tier, now); err != nil {
				return err
			}
			existing.Tier = tier
			existing.UpdatedAt = now
			result = existing
			return nil
		}

		rating := &model.Rating{
			ID:        uuid.New().String(),
			UserID:    userID,
			ItemID:    itemID,
			Tier:      tier,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertRating(ctx, rating); err != nil {
			return err
		}
		result = rating
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AggregateCounts はメニュー項目の評価段階ごとの件数を返す。
func (s *Service) AggregateCounts(ctx context.Context, itemID string) (model.TierCounts, error) {
	item, err := s.menus.FindItemByID(ctx, itemID)
	if err != nil {
		return model.TierCounts{}, err
	}
	if item == nil {
		return model.TierCounts{}, model.NewItemNotFoundError(itemID)
	}
	return s.ratings.CountByItem(ctx, itemID)
}

// NewItem はメニュー項目の作成内容。
// InitialTierがTierNoneの場合は評価を作成しない。
type NewItem struct {
	RestaurantID string
	Name         string
	Description  string
	Price        string
	Course       string
	InitialTier  model.Tier
}

// CreateItem はメニュー項目と作成者による初期評価を1トランザクションで作成する。
// いずれかの書き込みに失敗した場合は何も残さない。
func (s *Service) CreateItem(ctx context.Context, userID string, input NewItem) (*model.MenuItem, error) {
	if input.InitialTier != model.TierNone && !input.InitialTier.Valid() {
		return nil, model.NewInvalidTierError(int(input.InitialTier))
	}

	restaurant, err := s.menus.FindRestaurantByID(ctx, input.RestaurantID)
	if err != nil {
		return nil, err
	}
	if restaurant == nil {
		return nil, model.NewRestaurantNotFoundError(input.RestaurantID)
	}

	name := s.sanitizer.SanitizeText(input.Name)
	if name == "" {
		return nil, model.NewInvalidRequestError("name は必須です")
	}

	now := s.now()
	item := &model.MenuItem{
		ID:             uuid.New().String(),
		RestaurantID:   restaurant.ID,
		RestaurantName: restaurant.Name,
		CreatorID:      userID,
		Name:           name,
		Description:    s.sanitizer.SanitizeText(input.Description),
		Price:          s.sanitizer.SanitizeText(input.Price),
		Course:         s.sanitizer.SanitizeText(input.Course),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertMenuItem(ctx, item); err != nil {
			return err
		}
		if input.InitialTier == model.TierNone {
			return nil
		}
		return tx.InsertRating(ctx, &model.Rating{
			ID:        uuid.New().String(),
			UserID:    userID,
			ItemID:    item.ID,
			Tier:      input.InitialTier,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create menu item: %w", err)
	}

	slog.Info("menu item created",
		slog.String("item_id", item.ID),
		slog.String("restaurant_id", item.RestaurantID),
		slog.String("user_id", userID),
	)
	if input.InitialTier != model.TierNone {
		s.metrics.RecordRatingSubmitted(int(input.InitialTier))
	}
	return item, nil
}
