package handler

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/hitoshi/menucatalog/internal/middleware"
	"github.com/hitoshi/menucatalog/internal/model"
	"github.com/hitoshi/menucatalog/internal/validation"
)

// defaultFavoritesLimit はお気に入り取得件数のデフォルト値。
const defaultFavoritesLimit = 3

// MenuServiceInterface はメニュー閲覧ハンドラーが必要とするサービスインターフェース。
type MenuServiceInterface interface {
	// RankedMenu はレストランのメニューを人気順で返す。
	RankedMenu(ctx context.Context, restaurantID, userID string) (*model.Restaurant, iter.Seq[model.RatedItem], error)
	// RandomFavorites はユーザーのお気に入りから無作為に選んだ項目を返す。
	RandomFavorites(ctx context.Context, userID string, limit int) ([]*model.MenuItem, error)
}

// MenuHandler はメニュー一覧とお気に入りのHTTPハンドラー。
type MenuHandler struct {
	service MenuServiceInterface
}

// NewMenuHandler はMenuHandlerを生成する。
func NewMenuHandler(service MenuServiceInterface) *MenuHandler {
	return &MenuHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

type menuQuery struct {
	RestaurantID string `json:"restaurant_id" validate:"required,uuid"`
}

type favoritesQuery struct {
	UserID string `json:"user_id" validate:"omitempty,uuid"`
	Limit  int    `json:"limit" validate:"min=1,max=50"`
}

type restaurantResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Note  string `json:"note"`
}

type menuItemResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          string `json:"price"`
	Course         string `json:"course"`
	RestaurantName string `json:"restaurant_name"`
	FavoriteCount  int    `json:"favorite_count"`
	GoodCount      int    `json:"good_count"`
	BadCount       int    `json:"bad_count"`
	Rating         int    `json:"rating"` // 閲覧ユーザー自身の評価。未評価は0
}

type menuResponse struct {
	Restaurant restaurantResponse `json:"restaurant"`
	Items      []menuItemResponse `json:"items"`
}

type favoriteItemResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          string `json:"price"`
	Course         string `json:"course"`
	RestaurantID   string `json:"restaurant_id"`
	RestaurantName string `json:"restaurant_name"`
}

type favoritesResponse struct {
	Items []favoriteItemResponse `json:"items"`
}

// GetMenu はレストランのメニューを人気順で返す。ログイン中は自身の評価を含める。
// GET /menu?restaurant_id=xxx
func (h *MenuHandler) GetMenu(w http.ResponseWriter, r *http.Request) {
	query := menuQuery{RestaurantID: r.URL.Query().Get("restaurant_id")}
	if apiErr := validation.Struct(query); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	// 未ログインの場合は空のユーザーIDで集計のみを返す
	userID, _ := middleware.UserIDFromContext(r.Context())

	restaurant, ranked, err := h.service.RankedMenu(r.Context(), query.RestaurantID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := menuResponse{
		Restaurant: restaurantResponse{
			ID:    restaurant.ID,
			Name:  restaurant.Name,
			Phone: restaurant.Phone,
			Note:  restaurant.Note,
		},
		Items: []menuItemResponse{},
	}
	for entry := range ranked {
		resp.Items = append(resp.Items, toMenuItemResponse(entry))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFavorites はユーザーのお気に入りから無作為に最大limit件を返す。
// user_id省略時はログインユーザーを対象とする。
// GET /favorites?limit=N&user_id=xxx
func (h *MenuHandler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	query := favoritesQuery{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  defaultFavoritesLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limit は整数で指定してください"))
			return
		}
		query.Limit = limit
	}
	if apiErr := validation.Struct(query); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if query.UserID == "" {
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
			return
		}
		query.UserID = userID
	}

	items, err := h.service.RandomFavorites(r.Context(), query.UserID, query.Limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := favoritesResponse{Items: make([]favoriteItemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, favoriteItemResponse{
			ID:             item.ID,
			Name:           item.Name,
			Description:    item.Description,
			Price:          item.Price,
			Course:         item.Course,
			RestaurantID:   item.RestaurantID,
			RestaurantName: item.RestaurantName,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func toMenuItemResponse(entry model.RatedItem) menuItemResponse {
	return menuItemResponse{
		ID:             entry.Item.ID,
		Name:           entry.Item.Name,
		Description:    entry.Item.Description,
		Price:          entry.Item.Price,
		Course:         entry.Item.Course,
		RestaurantName: entry.Item.RestaurantName,
		FavoriteCount:  entry.Counts.Favorite(),
		GoodCount:      entry.Counts.Good(),
		BadCount:       entry.Counts.Bad(),
		Rating:         int(entry.UserTier),
	}
}
