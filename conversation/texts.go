package conversation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ice-telegram/models"
)

const (
	msgWelcomeNew       = "Добро пожаловать в бот заказа льда! Для начала работы необходимо указать данные о заведении."
	msgAskVenueName     = "Для оформления заказа необходимо указать данные о заведении.\n\nПожалуйста, введите название заведения:"
	msgEmptyVenueName   = "Название не может быть пустым. Пожалуйста, введите название заведения:"
	msgEmptyAddress     = "Адрес не может быть пустым. Пожалуйста, введите адрес доставки:"
	msgNotRegistered    = "Пожалуйста, сначала укажите название заведения и адрес."
	msgVenueMissing     = "Ваше заведение не найдено в справочнике. Пожалуйста, укажите данные заново."
	msgPickAmount       = "Пожалуйста, выберите количество из меню (шаг 10 кг):"
	msgAskDate          = "Выберите дату доставки:"
	msgAskExplicitDate  = "Введите дату доставки в формате ДД.ММ.ГГГГ\nНапример: 25.03.2024"
	msgBadDate          = "Не удалось распознать дату. Введите дату в формате ДД.ММ.ГГГГ, например 25.03.2024."
	msgPastCutoff       = "К сожалению, заказы на сегодня принимаются только до %d:00.\nПожалуйста, выберите другую дату доставки."
	msgPastDate         = "Нельзя выбрать прошедшую дату. Пожалуйста, выберите другую дату."
	msgMainMenu         = "Главное меню:"
	msgChooseAction     = "Выберите действие в меню."
	msgTryLater         = "Произошла ошибка при сохранении заказа. Пожалуйста, попробуйте позже."
	msgStoreDown        = "Сервис временно недоступен. Пожалуйста, попробуйте позже."
	msgNoActiveOrders   = "У вас нет активных заказов."
	msgChooseCancel     = "Выберите заказ для отмены:"
	msgPickCancel       = "Пожалуйста, выберите заказ кнопкой из списка."
	msgStaleIndex       = "Список заказов изменился. Выберите заказ из обновлённого списка:"
	msgStaleIndexNoMore = "Список заказов изменился, активных заказов больше нет."
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func profileBlock(p *models.UserProfile) string {
	return fmt.Sprintf("Заведение: %s\nАдрес: %s", p.VenueName, p.Address)
}

func welcomeBack(p *models.UserProfile) string {
	return "Добро пожаловать в бот заказа льда!\n\nТекущие данные:\n" + profileBlock(p) + "\n\nЧто вы хотите сделать?"
}

func venueNameSaved(name string) string {
	return fmt.Sprintf("Название заведения \"%s\" сохранено.\n\nТеперь введите адрес доставки:", name)
}

func registered(p *models.UserProfile) string {
	return "Отлично! Все данные сохранены:\n\n" + profileBlock(p) + "\n\nТеперь вы можете сделать заказ:"
}

func askAmount(p *models.UserProfile) string {
	return "Текущие данные:\n" + profileBlock(p) + "\n\nВыберите количество льда (шаг 10 кг):"
}

func priceQuote(amount int, unitPrice decimal.Decimal) string {
	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(amount)))
	return fmt.Sprintf("Количество: %d кг\nЦена за кг: %s\nСтоимость: %s\n\n%s",
		amount, money(unitPrice), money(subtotal), msgAskDate)
}

func priceChanged(quoted, actual decimal.Decimal) string {
	return fmt.Sprintf("Цена за кг изменилась: %s вместо %s. Заказ оформлен по новой цене.", money(actual), money(quoted))
}

func receipt(p *models.UserProfile, o *models.Order) string {
	var b strings.Builder
	b.WriteString("Заказ оформлен!\n\n")
	fmt.Fprintf(&b, "Заведение: %s\n", p.VenueName)
	fmt.Fprintf(&b, "Адрес: %s\n", o.Address)
	fmt.Fprintf(&b, "Количество: %d кг\n", o.Amount)
	fmt.Fprintf(&b, "Цена за кг: %s\n", money(o.UnitPrice))
	fmt.Fprintf(&b, "Стоимость льда: %s\n", money(o.Subtotal))
	fmt.Fprintf(&b, "Доставка: %s\n", money(o.Surcharge))
	fmt.Fprintf(&b, "Итого: %s\n", money(o.Total))
	fmt.Fprintf(&b, "Дата доставки: %s", o.DeliveryDate.Display())
	return b.String()
}

func activeOrdersList(orders []models.ActiveOrder) string {
	var b strings.Builder
	b.WriteString("Ваши активные заказы:\n")
	for _, o := range orders {
		fmt.Fprintf(&b, "\n№%d: %d кг на %s, сумма %s", o.Index, o.Amount, o.DeliveryDate.Display(), money(o.Total))
	}
	return b.String()
}

func cancelled(o *models.ActiveOrder) string {
	return fmt.Sprintf("Заказ №%d (%d кг на %s) отменён.", o.Index, o.Amount, o.DeliveryDate.Display())
}
