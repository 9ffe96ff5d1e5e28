package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"ice-telegram/models"
)

// Buttons of the fixed menus.
const (
	BtnOrder         = "❄️ Заказать лёд ❄️"
	BtnChangeAddress = "📍 Изменить адрес"
	BtnCancelOrder   = "❌ Отменить заказ"
	BtnMyOrders      = "📋 Мои заказы"

	BtnToday    = "📅 На сегодня"
	BtnTomorrow = "📅 На завтра"
	BtnPickDate = "📅 Выбрать дату"

	BtnBack     = "Назад"
	BtnBackIcon = "🔙 Назад"
)

// Commands the engine understands.
const (
	CmdStart   = "/start"
	CmdOrder   = "/order"
	CmdAddress = "/address"
	CmdOrders  = "/orders"
	CmdCancel  = "/cancel"
	CmdBack    = "/back"
)

const (
	AmountStep = 10
	AmountMax  = 100
)

// Menu is a reply keyboard as rows of button labels. Remove hides the
// current keyboard. A nil *Menu leaves the keyboard unchanged.
type Menu struct {
	Rows   [][]string
	Remove bool
}

var removeMenu = &Menu{Remove: true}

func MainMenu() *Menu {
	return &Menu{Rows: [][]string{
		{BtnOrder},
		{BtnChangeAddress, BtnCancelOrder},
		{BtnMyOrders},
	}}
}

func AmountMenu() *Menu {
	var rows [][]string
	var row []string
	for kg := AmountStep; kg <= AmountMax; kg += AmountStep {
		row = append(row, amountLabel(kg))
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &Menu{Rows: append(rows, []string{BtnBack})}
}

func DateMenu() *Menu {
	return &Menu{Rows: [][]string{
		{BtnToday, BtnTomorrow},
		{BtnPickDate, BtnBackIcon},
	}}
}

// CancelMenu has one button per active order plus back.
func CancelMenu(orders []models.ActiveOrder) *Menu {
	rows := make([][]string, 0, len(orders)+1)
	for _, o := range orders {
		rows = append(rows, []string{cancelLabel(o)})
	}
	return &Menu{Rows: append(rows, []string{BtnBackIcon})}
}

func amountLabel(kg int) string { return fmt.Sprintf("%d кг", kg) }

func cancelLabel(o models.ActiveOrder) string {
	return fmt.Sprintf("Отменить заказ №%d: %d кг", o.Index, o.Amount)
}

var (
	amountRe = regexp.MustCompile(`^(\d+)\s*кг$`)
	cancelRe = regexp.MustCompile(`^Отменить заказ №(\d+)`)
)

// parseAmount accepts only the menu values.
func parseAmount(text string) (int, bool) {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	kg, err := strconv.Atoi(m[1])
	if err != nil || kg < AmountStep || kg > AmountMax || kg%AmountStep != 0 {
		return 0, false
	}
	return kg, true
}

// parseCancelIndex reads the index from a cancel button or a bare number.
func parseCancelIndex(text string) (int, bool) {
	if m := cancelRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimPrefix(text, "№")
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func isBack(text string) bool {
	return text == BtnBack || text == BtnBackIcon || text == CmdBack
}

// command returns the bare command of "/cmd@botname args", or "".
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}
