package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/menucatalog/internal/middleware"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/rating"
	"github.com/hitoshi/menucatalog/internal/validation"
)

// RatingServiceInterface はメニュー項目ハンドラーが必要とするサービスインターフェース。
type RatingServiceInterface interface {
	// SubmitRating はユーザーの項目評価を作成または置き換える。
	SubmitRating(ctx context.Context, userID, itemID string, tier model.Tier) (*model.Rating, error)
	// AggregateCounts は項目の評価段階ごとの件数を返す。
	AggregateCounts(ctx context.Context, itemID string) (model.TierCounts, error)
	// CreateItem はメニュー項目と任意の初期評価を作成する。
	CreateItem(ctx context.Context, userID string, input rating.NewItem) (*model.MenuItem, error)
}

// ItemHandler はメニュー項目と評価のHTTPハンドラー。
type ItemHandler struct {
	service RatingServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service RatingServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

type submitRatingRequest struct {
	ItemID string `json:"item_id" validate:"required,uuid"`
	Rating int    `json:"rating"`
}

type createItemRequest struct {
	RestaurantID string `json:"restaurant_id" validate:"required,uuid"`
	Name         string `json:"name" validate:"required,max=80"`
	Description  string `json:"description" validate:"max=500"`
	Price        string `json:"price" validate:"max=8"`
	Course       string `json:"course" validate:"max=250"`
	Rating       int    `json:"rating"`
}

type itemIDPath struct {
	ID string `validate:"required,uuid"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type createItemResponse struct {
	ID string `json:"id"`
}

type ratingCountsResponse struct {
	ItemID        string `json:"item_id"`
	FavoriteCount int    `json:"favorite_count"`
	GoodCount     int    `json:"good_count"`
	BadCount      int    `json:"bad_count"`
}

// SubmitRating はログインユーザーの項目評価を登録または更新する。
// PUT /items/ratings
func (h *ItemHandler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req submitRatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := validation.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if _, err := h.service.SubmitRating(r.Context(), userID, req.ItemID, model.Tier(req.Rating)); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// CreateItem はメニュー項目を作成する。ratingを指定した場合は作成者の評価も登録する。
// POST /items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req createItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if apiErr := validation.Struct(req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	item, err := h.service.CreateItem(r.Context(), userID, rating.NewItem{
		RestaurantID: req.RestaurantID,
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Course:       req.Course,
		InitialTier:  model.Tier(req.Rating),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createItemResponse{ID: item.ID})
}

// GetRatingCounts は項目の評価段階ごとの件数を返す。
// GET /items/{id}/ratings
func (h *ItemHandler) GetRatingCounts(w http.ResponseWriter, r *http.Request) {
	path := itemIDPath{ID: chi.URLParam(r, "id")}
	if apiErr := validation.Struct(path); apiErr != nil {
		// UUIDでないIDは存在しない項目として扱う
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewItemNotFoundError(path.ID))
		return
	}

	counts, err := h.service.AggregateCounts(r.Context(), path.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ratingCountsResponse{
		ItemID:        path.ID,
		FavoriteCount: counts.Favorite(),
		GoodCount:     counts.Good(),
		BadCount:      counts.Bad(),
	})
}
