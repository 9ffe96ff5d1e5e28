package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ice-telegram/logger"
	"ice-telegram/models"
)

// handleOperator runs /login, /logout, /update and /stats. It reports
// whether text was one of them.
func (b *Bot) handleOperator(ctx context.Context, chatID, userID int64, text string) bool {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(strings.ToLower(parts[0]), "@")
	switch cmd {
	case "/login":
		b.handleLogin(chatID, userID, parts[1:])
	case "/logout":
		b.deps.Auth.Logout(userID)
		b.send(chatID, "Вы вышли из режима оператора.", nil)
	case "/update":
		b.handleUpdate(ctx, chatID, userID)
	case "/stats":
		b.handleStats(ctx, chatID, userID)
	default:
		return false
	}
	return true
}

func (b *Bot) handleLogin(chatID, userID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Использование: /login <пароль>", nil)
		return
	}
	ok, wait := b.deps.Auth.Login(userID, args[0])
	if wait > 0 {
		b.send(chatID, fmt.Sprintf("Слишком много попыток. Повторите через %d сек.", wait), nil)
		return
	}
	if !ok {
		logger.Warn("operator login failed", zap.Int64("user_id", userID))
		b.send(chatID, "Неверный пароль.", nil)
		return
	}
	logger.Info("operator logged in", zap.Int64("user_id", userID))
	b.send(chatID, "Вы вошли как оператор. Доступны /update и /stats.", nil)
}

func (b *Bot) handleUpdate(ctx context.Context, chatID, userID int64) {
	if !b.deps.Auth.IsOperator(userID) {
		b.send(chatID, "Нет доступа.", nil)
		return
	}
	logger.Info("manual rollover", zap.Int64("user_id", userID))
	if err := b.deps.Rollover.RunOnce(ctx); err != nil {
		b.send(chatID, "Не удалось обновить таблицу заказов: "+err.Error(), nil)
		return
	}
	b.send(chatID, fmt.Sprintf("Таблица заказов на сегодня обновлена, строк: %d.", b.deps.Rollover.Last().Rows), nil)
}

func (b *Bot) handleStats(ctx context.Context, chatID, userID int64) {
	if !b.deps.Auth.IsOperator(userID) {
		b.send(chatID, "Нет доступа.", nil)
		return
	}
	st, err := b.deps.Stats.Stats(ctx)
	if err != nil {
		logger.Error("stats", zap.Error(err))
		b.send(chatID, "Не удалось получить статистику: "+err.Error(), nil)
		return
	}
	b.send(chatID, FormatStats(st), nil)
}

// FormatStats renders aggregate counts, dates in ascending order.
func FormatStats(st *models.OrderStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Всего заказов: %d\n", st.Total)
	fmt.Fprintf(&sb, "%s: %d\n", models.OrderStatusActive, st.ByStatus[models.OrderStatusActive])
	fmt.Fprintf(&sb, "%s: %d\n", models.OrderStatusCancelled, st.ByStatus[models.OrderStatusCancelled])

	dates := make([]models.Date, 0, len(st.ByDate))
	for d := range st.ByDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	if len(dates) > 0 {
		sb.WriteString("\nПо датам доставки:")
	}
	for _, d := range dates {
		byStatus := st.ByDate[d]
		fmt.Fprintf(&sb, "\n%s: активных %d (%d кг), отменено %d",
			d.Display(), byStatus[models.OrderStatusActive], st.Amount[d], byStatus[models.OrderStatusCancelled])
	}
	return sb.String()
}
