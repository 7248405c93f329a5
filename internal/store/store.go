// Package store содержит контракт хранилища панели и две его реализации:
// транзакционное хранилище в PostgreSQL и локальное офлайн-зеркало
// поверх key-value хранилища.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// ErrNotFound возвращается, если запрошенная запись не существует.
var (
	ErrNotFound = errors.New("record not found")
	// ErrUserExists возвращается при регистрации с занятым email.
	ErrUserExists = errors.New("user already exists")
	// ErrInsufficientBalance возвращается при списании суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPermissionDenied возвращается, если хранилище отклонило операцию по правам доступа.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable возвращается при сетевой недоступности хранилища.
	ErrUnavailable = errors.New("store unavailable")
	// ErrCouponInvalid возвращается, если купон с таким кодом не существует.
	ErrCouponInvalid = errors.New("invalid coupon code")
	// ErrCouponLimitReached возвращается, если лимит использований купона исчерпан.
	ErrCouponLimitReached = errors.New("coupon usage limit reached")
	// ErrCouponExpired возвращается, если срок действия купона истёк.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrDepositProcessed возвращается при обработке заявки, уже покинувшей статус Pending.
	ErrDepositProcessed = errors.New("deposit request already processed")
)

// Store описывает контракт хранилища панели. Операции, затрагивающие баланс
// кошелька, атомарны: либо применяются все перечисленные эффекты, либо ни один.
// Счётчики и баланс никогда не изменяются раздельными чтением и записью.
type Store interface {
	Close() error

	// NextSequence возвращает следующее значение именованного счётчика.
	// Значения строго возрастают и не выдаются повторно даже при
	// конкурентных вызовах.
	NextSequence(ctx context.Context, counter string) (int64, error)

	CreateUser(ctx context.Context, u *model.User) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error

	// PlaceOrder атомарно выдаёт отображаемый номер заказа, списывает
	// сумму с кошелька, создаёт заказ в статусе Pending, запись Debit
	// и инкрементирует счётчики купона и лимитированной услуги.
	// Возвращает отображаемый номер заказа.
	PlaceOrder(ctx context.Context, order *model.Order) (string, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	// UpdateOrderStatus меняет статус заказа. Переход в Cancelled из любого
	// другого статуса возвращает сумму на кошелёк и создаёт запись Credit;
	// повторная отмена ничего не возвращает.
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, updatedBy string) error
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)

	CreateDepositRequest(ctx context.Context, req *model.DepositRequest) (*model.DepositRequest, error)
	// ProcessDepositRequest переводит заявку из Pending в Approved или
	// Rejected. Подтверждение зачисляет amount+bonusAmount и создаёт запись
	// Credit ровно один раз; уже обработанная заявка возвращает
	// ErrDepositProcessed и не меняется.
	ProcessDepositRequest(ctx context.Context, requestID int64, status model.DepositStatus) error
	ListDepositRequests(ctx context.Context) ([]model.DepositRequest, error)
	ListDepositRequestsByUser(ctx context.Context, userID int64) ([]model.DepositRequest, error)

	// AdjustWallet изменяет баланс на произвольную сумму (администратор).
	// Нулевая сумма — тихий no-op.
	AdjustWallet(ctx context.Context, userID int64, amount float64, description string) error
	ListTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)

	CreateCoupon(ctx context.Context, c *model.Coupon) (*model.Coupon, error)
	DeleteCoupon(ctx context.Context, id int64) error
	ListCoupons(ctx context.Context) ([]model.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)

	CreateService(ctx context.Context, s *model.ServicePackage) (*model.ServicePackage, error)
	UpdateService(ctx context.Context, s *model.ServicePackage) error
	DeleteService(ctx context.Context, id string) error
	GetService(ctx context.Context, id string) (*model.ServicePackage, error)
	ListServices(ctx context.Context) ([]model.ServicePackage, error)

	// CountServiceOrders возвращает число неотменённых заказов услуги с момента since.
	CountServiceOrders(ctx context.Context, serviceID string, since time.Time) (int, error)
	CountUserServiceOrders(ctx context.Context, userID int64, serviceID string, since time.Time) (int, error)
	// LastUserServiceOrderAt возвращает время последнего неотменённого заказа
	// пользователя по услуге или nil, если таких заказов нет.
	LastUserServiceOrderAt(ctx context.Context, userID int64, serviceID string) (*time.Time, error)
}

// ValidateCoupon проверяет применимость купона: лимит использований и срок
// действия. Чистая проверка без мутаций; соответствие типа купона операции
// проверяет вызывающая сторона.
func ValidateCoupon(c *model.Coupon, now time.Time) error {
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return ErrCouponLimitReached
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return ErrCouponExpired
	}
	return nil
}
