package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tbabson/mealmaster-server/internal/middleware"
	"github.com/tbabson/mealmaster-server/internal/model"
	"github.com/tbabson/mealmaster-server/internal/reminder"
)

// ReminderServiceInterface はリマインダーハンドラーが必要とするサービスインターフェース。
type ReminderServiceInterface interface {
	// Create はリマインダーを作成しタイマーを登録する。
	Create(ctx context.Context, userID string, input reminder.CreateInput) (*model.Reminder, error)
	// List はユーザーのリマインダー一覧を食事付きで取得する。
	List(ctx context.Context, userID string) ([]*reminder.WithMeal, error)
	// Get はリマインダーを食事付きで取得する。他ユーザーのリマインダーは見えない。
	Get(ctx context.Context, userID, reminderID string) (*reminder.WithMeal, error)
	// Update はリマインダーを更新しタイマーを登録し直す。
	Update(ctx context.Context, userID, reminderID string, input reminder.UpdateInput) (*model.Reminder, error)
	// Delete はリマインダーを削除しタイマーをキャンセルする。
	Delete(ctx context.Context, userID, reminderID string) error
}

// ReminderHandler はリマインダー管理のHTTPハンドラー。
type ReminderHandler struct {
	service ReminderServiceInterface
}

// NewReminderHandler はReminderHandlerを生成する。
func NewReminderHandler(service ReminderServiceInterface) *ReminderHandler {
	return &ReminderHandler{service: service}
}

// mealResponse はリマインダーに同梱する食事のAPIレスポンス。
type mealResponse struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Image            string             `json:"image,omitempty"`
	Ingredients      []model.Ingredient `json:"ingredients"`
	PreparationSteps []model.PrepStep   `json:"preparation_steps"`
}

// reminderResponse はリマインダー情報のAPIレスポンス。
// reminder_timeは常にUTCのRFC3339で返す。
type reminderResponse struct {
	ID                 string `json:"id"`
	MealID             string `json:"meal_id"`
	ReminderTime       string `json:"reminder_time"`
	NotificationMethod string `json:"notification_method"`
	IsRecurring        bool   `json:"is_recurring"`
	RecurringFrequency string `json:"recurring_frequency,omitempty"`
	SubscriptionID     string `json:"subscription_id,omitempty"`
	Note               string `json:"note,omitempty"`
	Notified           bool   `json:"notified"`
	CalendarEventID    string `json:"calendar_event_id,omitempty"`
	CalendarSyncStatus string `json:"calendar_sync_status"`
	CalendarEventLink  string `json:"calendar_event_link,omitempty"`
	LastSyncedAt       string `json:"last_synced_at,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`

	Meal *mealResponse `json:"meal,omitempty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// CreateReminder はリマインダー作成を処理する。
// POST /api/reminders
func (h *ReminderHandler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var input reminder.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	created, err := h.service.Create(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toReminderResponse(created))
}

// ListReminders はユーザーのリマインダー一覧を取得する。
// GET /api/reminders
func (h *ReminderHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reminders, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]reminderResponse, 0, len(reminders))
	for _, item := range reminders {
		resp = append(resp, toReminderWithMealResponse(item))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetReminder はリマインダー詳細を取得する。
// GET /api/reminders/:id
func (h *ReminderHandler) GetReminder(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reminderID := chi.URLParam(r, "id")

	item, err := h.service.Get(r.Context(), userID, reminderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toReminderWithMealResponse(item))
}

// UpdateReminder はリマインダーを部分更新する。
// PATCH /api/reminders/:id
func (h *ReminderHandler) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reminderID := chi.URLParam(r, "id")

	var input reminder.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	updated, err := h.service.Update(r.Context(), userID, reminderID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toReminderResponse(updated))
}

// DeleteReminder はリマインダーを削除しタイマーをキャンセルする。
// DELETE /api/reminders/:id
func (h *ReminderHandler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	reminderID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, reminderID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toReminderResponse はmodel.ReminderからAPIレスポンスに変換する。
func toReminderResponse(rem *model.Reminder) reminderResponse {
	resp := reminderResponse{
		ID:                 rem.ID,
		MealID:             rem.MealID,
		ReminderTime:       rem.ReminderTime.UTC().Format(time.RFC3339),
		NotificationMethod: string(rem.NotificationMethod),
		IsRecurring:        rem.IsRecurring,
		RecurringFrequency: string(rem.RecurringFrequency),
		SubscriptionID:     rem.SubscriptionID,
		Note:               rem.Note,
		Notified:           rem.Notified,
		CalendarEventID:    rem.CalendarEventID,
		CalendarSyncStatus: string(rem.CalendarSyncStatus),
		CalendarEventLink:  rem.CalendarEventLink,
		CreatedAt:          rem.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          rem.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rem.LastSyncedAt != nil {
		resp.LastSyncedAt = rem.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toReminderWithMealResponse は食事同梱のリマインダーをAPIレスポンスに変換する。
func toReminderWithMealResponse(item *reminder.WithMeal) reminderResponse {
	resp := toReminderResponse(item.Reminder)
	if item.Meal != nil {
		resp.Meal = &mealResponse{
			ID:               item.Meal.ID,
			Name:             item.Meal.Name,
			Image:            item.Meal.Image,
			Ingredients:      item.Meal.Ingredients,
			PreparationSteps: item.Meal.PreparationSteps,
		}
	}
	return resp
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeUnauthorized は未認証エラーレスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	})
}

// writeInvalidRequestBody はリクエストボディ解析エラーレスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMealNotFound, model.ErrCodeReminderNotFound:
		return http.StatusNotFound
	case model.ErrCodeUserNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidMethod, model.ErrCodeInvalidFrequency,
		model.ErrCodeInvalidReminderTime, model.ErrCodeNoteTooLong:
		return http.StatusBadRequest
	case model.ErrCodeIncompleteSubscription:
		return http.StatusUnprocessableEntity
	case model.ErrCodeEndpointBlocked:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
