package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// WebPushSender はWeb Push送信のインターフェース。テスト時に差し替える。
type WebPushSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

// webPushSender はwebpush-goによるWebPushSenderの実装。
type webPushSender struct{}

// NewWebPushSender はWebPushSenderを生成する。
func NewWebPushSender() WebPushSender {
	return &webPushSender{}
}

func (s *webPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, opts)
}

// PushConfig はプッシュ通知のVAPID設定。
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
}

// pushPayload はService Workerへ渡す通知ペイロード。
type pushPayload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Icon    string          `json:"icon"`
	Badge   string          `json:"badge"`
	Image   string          `json:"image,omitempty"`
	Data    pushPayloadData `json:"data"`
	Vibrate []int           `json:"vibrate"`
}

type pushPayloadData struct {
	MealID string `json:"mealId"`
	URL    string `json:"url"`
}

// defaultIcon は食事画像が未設定の場合に使用するアイコンパス。
const defaultIcon = "/public/favicon.ico"

// PushTransport はWeb Pushによるリマインダー通知を配信する。
type PushTransport struct {
	sender WebPushSender
	config PushConfig
	client *http.Client
	logger *slog.Logger
}

// NewPushTransport はPushTransportを生成する。
// clientにはSSRF防止機能付きのHTTPクライアントを渡す。
func NewPushTransport(sender WebPushSender, config PushConfig, client *http.Client, logger *slog.Logger) *PushTransport {
	return &PushTransport{
		sender: sender,
		config: config,
		client: client,
		logger: logger,
	}
}

// Send はプッシュ通知を送信する。
// 購読が存在しない、または暗号鍵が不完全な場合は送信せず直ちに失敗を返す。
// エンドポイントが404/410を返した場合は購読消滅としてログに記録する。
func (t *PushTransport) Send(ctx context.Context, detail *model.ReminderDetail) bool {
	if detail.Meal == nil {
		t.logger.Error("プッシュ通知に必要な食事データがありません",
			slog.String("reminder_id", detail.Reminder.ID),
		)
		return false
	}

	sub := detail.Subscription
	if sub == nil {
		t.logger.Error("リマインダーに対応するプッシュ購読がありません",
			slog.String("reminder_id", detail.Reminder.ID),
		)
		return false
	}
	if !sub.Complete() {
		t.logger.Error("プッシュ購読に必要な鍵が不足しています",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("subscription_id", sub.ID),
		)
		return false
	}

	icon := detail.Meal.Image
	if icon == "" {
		icon = defaultIcon
	}

	payload, err := json.Marshal(pushPayload{
		Title: fmt.Sprintf("Meal Reminder: %s", detail.Meal.Name),
		Body:  fmt.Sprintf("Hello! It's time to prepare your meal: %s. Check the details in your app.", detail.Meal.Name),
		Icon:  icon,
		Badge: defaultIcon,
		Image: detail.Meal.Image,
		Data: pushPayloadData{
			MealID: detail.Meal.ID,
			URL:    fmt.Sprintf("/meal/%s", detail.Meal.ID),
		},
		Vibrate: []int{200, 100, 200},
	})
	if err != nil {
		t.logger.Error("プッシュペイロードの生成に失敗しました",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	resp, err := t.sender.Send(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.config.Subscriber,
		VAPIDPublicKey:  t.config.VAPIDPublicKey,
		VAPIDPrivateKey: t.config.VAPIDPrivateKey,
		TTL:             t.config.TTL,
	})
	if err != nil {
		t.logger.Error("プッシュ送信に失敗しました",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	// 404/410は購読がエンドポイント側で破棄されたことを示す。
	// 購読レコードの自動削除は行わず、ログで観測可能にするに留める。
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		t.logger.Warn("プッシュ購読がエンドポイント側で無効化されています",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("subscription_id", sub.ID),
			slog.Int("status_code", resp.StatusCode),
		)
		return false
	}
	if resp.StatusCode >= 400 {
		t.logger.Error("プッシュエンドポイントがエラーを返しました",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.Int("status_code", resp.StatusCode),
		)
		return false
	}

	t.logger.Info("プッシュ通知を送信しました",
		slog.String("reminder_id", detail.Reminder.ID),
		slog.String("meal_id", detail.Meal.ID),
	)
	return true
}

// compile-time interface check
var _ Transport = (*PushTransport)(nil)
