package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tbabson/mealmaster-server/internal/middleware"
	"github.com/tbabson/mealmaster-server/internal/model"
	"github.com/tbabson/mealmaster-server/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Save はプッシュ購読を検証して保存する。
	Save(ctx context.Context, userID string, input subscription.SaveInput) (*model.PushSubscription, error)
	// ListByUser はユーザーの購読一覧を取得する。
	ListByUser(ctx context.Context, userID string) ([]*model.PushSubscription, error)
}

// SubscriptionHandler はプッシュ購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// subscriptionResponse はプッシュ購読のAPIレスポンス。
// 暗号鍵はクライアント自身が登録したものなのでそのまま返す。
type subscriptionResponse struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// SaveSubscription はプッシュ購読の保存を処理する。
// POST /api/subscriptions
func (h *SubscriptionHandler) SaveSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var input subscription.SaveInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	sub, err := h.service.Save(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSubscriptionResponse(sub))
}

// ListSubscriptions はユーザーのプッシュ購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	subs, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, toSubscriptionResponse(sub))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toSubscriptionResponse はmodel.PushSubscriptionからAPIレスポンスに変換する。
func toSubscriptionResponse(sub *model.PushSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:       sub.ID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	}
}
