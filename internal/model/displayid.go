package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Имена счётчиков, из которых выдаются последовательные отображаемые номера.
// Каждое имя — независимое пространство нумерации.
const (
	CounterOrders        = "orders"
	CounterLimitedOrders = "limited_orders"
	CounterDeposits      = "deposits"
	CounterServices      = "services"
	CounterUsers         = "users"
)

// FormatDisplayID форматирует значение счётчика в отображаемый номер:
// пользователи и услуги — 6 цифр, заказы — 5, пополнения — 7.
// Лимитированные заказы нумеруются отдельным счётчиком и получают префикс L.
func FormatDisplayID(counter string, value int64) string {
	switch counter {
	case CounterUsers, CounterServices:
		return fmt.Sprintf("%06d", value)
	case CounterOrders:
		return fmt.Sprintf("%05d", value)
	case CounterLimitedOrders:
		return fmt.Sprintf("L%05d", value)
	case CounterDeposits:
		return fmt.Sprintf("%07d", value)
	}
	return strconv.FormatInt(value, 10)
}

// ParseDisplayID возвращает числовое значение отображаемого номера,
// отбрасывая префикс L лимитированных заказов. Для нечисловых номеров
// возвращает 0.
func ParseDisplayID(displayID string) int64 {
	s := strings.TrimPrefix(displayID, "L")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
