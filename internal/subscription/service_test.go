package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/tbabson/mealmaster-server/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// mockRepo はPushSubscriptionRepositoryのテスト用実装。
type mockRepo struct {
	created  []*model.PushSubscription
	listFunc func(ctx context.Context, userID string) ([]*model.PushSubscription, error)
}

func (m *mockRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, error) {
	return nil, nil
}
func (m *mockRepo) Create(ctx context.Context, sub *model.PushSubscription) error {
	m.created = append(m.created, sub)
	return nil
}
func (m *mockRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID)
	}
	return nil, nil
}

// mockGuard はEndpointGuardServiceのテスト用実装。
type mockGuard struct {
	validateFunc func(rawURL string) error
}

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client { return http.DefaultClient }
func (m *mockGuard) ValidateEndpoint(rawURL string) error {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return nil
}

func validSaveInput() SaveInput {
	return SaveInput{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		P256dh:   "p256dh-key",
		Auth:     "auth-secret",
	}
}

// TestSave_Success は完全な購読が保存されることを検証する。
func TestSave_Success(t *testing.T) {
	repo := &mockRepo{}
	service := NewService(repo, &mockGuard{}, testLogger())

	sub, err := service.Save(context.Background(), "user-1", validSaveInput())
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if sub.ID == "" {
		t.Error("subscription should get an ID")
	}
	if sub.UserID != "user-1" {
		t.Errorf("user_id = %q", sub.UserID)
	}
	if len(repo.created) != 1 {
		t.Errorf("created = %d, want 1", len(repo.created))
	}
}

// TestSave_Incomplete は不完全な購読が拒否されることを検証する。
func TestSave_Incomplete(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *SaveInput)
	}{
		{"endpoint欠落", func(in *SaveInput) { in.Endpoint = "" }},
		{"p256dh欠落", func(in *SaveInput) { in.P256dh = "" }},
		{"auth欠落", func(in *SaveInput) { in.Auth = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepo{}
			service := NewService(repo, &mockGuard{}, testLogger())

			input := validSaveInput()
			tt.mutate(&input)

			_, err := service.Save(context.Background(), "user-1", input)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIncompleteSubscription {
				t.Errorf("error = %v, want %s", err, model.ErrCodeIncompleteSubscription)
			}
			if len(repo.created) != 0 {
				t.Error("nothing should be persisted")
			}
		})
	}
}

// TestSave_BlockedEndpoint は危険なエンドポイントが拒否されることを検証する。
func TestSave_BlockedEndpoint(t *testing.T) {
	repo := &mockRepo{}
	guard := &mockGuard{
		validateFunc: func(rawURL string) error { return errors.New("blocked host") },
	}
	service := NewService(repo, guard, testLogger())

	_, err := service.Save(context.Background(), "user-1", validSaveInput())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEndpointBlocked {
		t.Errorf("error = %v, want %s", err, model.ErrCodeEndpointBlocked)
	}
	if len(repo.created) != 0 {
		t.Error("nothing should be persisted")
	}
}

// TestListByUser は一覧取得がリポジトリへ委譲されることを検証する。
func TestListByUser(t *testing.T) {
	repo := &mockRepo{
		listFunc: func(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
			return []*model.PushSubscription{{ID: "sub-1", UserID: userID}}, nil
		},
	}
	service := NewService(repo, &mockGuard{}, testLogger())

	subs, err := service.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "sub-1" {
		t.Errorf("subs = %+v", subs)
	}
}
