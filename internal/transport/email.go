package transport

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// MailSender はSMTP送信のインターフェース。テスト時に差し替える。
type MailSender interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// SMTPSender はgo-mailクライアントによるMailSenderの実装。
type SMTPSender struct {
	client *mail.Client
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(host string, port int, username, password string) (*SMTPSender, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("SMTPクライアントの生成に失敗しました: %w", err)
	}
	return &SMTPSender{client: client}, nil
}

// Send はメッセージをSMTPで送信する。
func (s *SMTPSender) Send(ctx context.Context, msg *mail.Msg) error {
	return s.client.DialAndSendWithContext(ctx, msg)
}

// EmailTransport はメールによるリマインダー通知を配信する。
type EmailTransport struct {
	sender MailSender
	from   string
	logger *slog.Logger
}

// NewEmailTransport はEmailTransportを生成する。
func NewEmailTransport(sender MailSender, from string, logger *slog.Logger) *EmailTransport {
	return &EmailTransport{
		sender: sender,
		from:   from,
		logger: logger,
	}
}

// Send はリマインダーメールを組み立てて送信する。
// 食事またはユーザーが取得できない場合は配信不能として失敗を返す。
func (t *EmailTransport) Send(ctx context.Context, detail *model.ReminderDetail) bool {
	if detail.Meal == nil || detail.User == nil {
		t.logger.Error("メール通知に必要な関連データがありません",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.Bool("has_meal", detail.Meal != nil),
			slog.Bool("has_user", detail.User != nil),
		)
		return false
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat("Meal Reminder", t.from); err != nil {
		t.logger.Error("送信元アドレスの設定に失敗しました", slog.String("error", err.Error()))
		return false
	}
	if err := msg.To(detail.User.Email); err != nil {
		t.logger.Error("宛先アドレスの設定に失敗しました",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := msg.ReplyTo(t.from); err != nil {
		t.logger.Error("返信先アドレスの設定に失敗しました", slog.String("error", err.Error()))
		return false
	}

	msg.Subject(fmt.Sprintf("Meal Reminder: %s", detail.Meal.Name))
	msg.SetBodyString(mail.TypeTextPlain, buildTextBody(detail))
	msg.AddAlternativeString(mail.TypeTextHTML, buildHTMLBody(detail))

	if err := t.sender.Send(ctx, msg); err != nil {
		t.logger.Error("メール送信に失敗しました",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	t.logger.Info("メール通知を送信しました",
		slog.String("reminder_id", detail.Reminder.ID),
		slog.String("meal_id", detail.Meal.ID),
	)
	return true
}

// buildTextBody はプレーンテキスト本文を組み立てる。
func buildTextBody(detail *model.ReminderDetail) string {
	meal := detail.Meal
	user := detail.User

	image := meal.Image
	if image == "" {
		image = "N/A"
	}

	return fmt.Sprintf(`Hello %s,

Just a reminder to prepare your meal: %s

Meal Details:
- Image: %s
- Ingredients: %s

Preparation Steps:
%s

Scheduled Time: %s

Enjoy your meal!`,
		user.FullName,
		meal.Name,
		image,
		strings.Join(meal.IngredientNames(), ", "),
		formatStepsText(meal),
		detail.Reminder.ReminderTime.UTC().Format("2006-01-02 15:04:05 MST"),
	)
}

// formatStepsText は調理手順をテキスト形式で整形する。
func formatStepsText(meal *model.Meal) string {
	if !meal.HasPreparationSteps() {
		return "No preparation steps provided."
	}

	lines := make([]string, 0, len(meal.PreparationSteps))
	for _, step := range meal.PreparationSteps {
		duration := step.Duration
		if duration == "" {
			duration = "N/A"
		}
		lines = append(lines, fmt.Sprintf("Step %d: %s (Duration: %s)", step.StepNumber, step.Instruction, duration))
	}
	return strings.Join(lines, "\n")
}

// buildHTMLBody はHTML本文を組み立てる。
// ユーザー入力由来の値はすべてエスケープする。
func buildHTMLBody(detail *model.ReminderDetail) string {
	meal := detail.Meal
	user := detail.User

	var ingredients strings.Builder
	for _, name := range meal.IngredientNames() {
		fmt.Fprintf(&ingredients, "<li>%s</li>", html.EscapeString(name))
	}

	imageBlock := ""
	if meal.Image != "" {
		imageBlock = fmt.Sprintf(
			`<div style="text-align: center; margin-bottom: 15px;"><img src="%s" alt="%s" style="max-width: 300px; border-radius: 10px;"></div>`,
			html.EscapeString(meal.Image), html.EscapeString(meal.Name),
		)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Meal Reminder</title>
</head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h1 style="color: #333;">Meal Reminder: %s</h1>
<p>Hello %s,</p>
<p>Just a reminder to prepare your delicious meal.</p>
<div style="background-color: #f4f4f4; padding: 15px; border-radius: 5px;">
<h2 style="color: #2c3e50;">Meal Details</h2>
%s
<h3 style="color: #34495e;">Ingredients</h3>
<ul style="list-style-type: disc; padding-left: 20px;">%s</ul>
<h3 style="color: #34495e;">Preparation Steps</h3>
<ol style="padding-left: 20px; list-style: none;">%s</ol>
</div>
<p style="margin-top: 15px;"><strong>Scheduled Time:</strong> %s</p>
<p style="color: #7f8c8d; font-style: italic;">Enjoy your meal!</p>
<hr style="margin-top: 20px; border: 0; border-top: 1px solid #eee;">
<p style="font-size: 12px; color: #999;">This is an automated reminder. Please do not reply to this email.</p>
</body>
</html>`,
		html.EscapeString(meal.Name),
		html.EscapeString(user.FullName),
		imageBlock,
		ingredients.String(),
		formatStepsHTML(meal),
		detail.Reminder.ReminderTime.UTC().Format("2006-01-02 15:04:05 MST"),
	)
}

// formatStepsHTML は調理手順をHTMLリスト形式で整形する。
func formatStepsHTML(meal *model.Meal) string {
	if !meal.HasPreparationSteps() {
		return "<li>No preparation steps provided.</li>"
	}

	var b strings.Builder
	for _, step := range meal.PreparationSteps {
		duration := step.Duration
		if duration == "" {
			duration = "N/A"
		}
		fmt.Fprintf(&b,
			`<li><strong>Step %d</strong>: %s <span style="color: #7f8c8d; font-style: italic; margin-left: 10px;">(Duration: %s)</span></li>`,
			step.StepNumber, html.EscapeString(step.Instruction), html.EscapeString(duration),
		)
	}
	return b.String()
}

// compile-time interface check
var _ Transport = (*EmailTransport)(nil)
