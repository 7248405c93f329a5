// Package service реализует бизнес-логику SMM-панели.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/store"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSuspended возвращается при операции от заблокированного пользователя.
	ErrSuspended = errors.New("account suspended")
	// ErrQuantityOutOfRange возвращается при количестве вне границ тарифа.
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	// ErrCouponTypeMismatch возвращается, если тип купона не подходит операции.
	ErrCouponTypeMismatch = errors.New("coupon not applicable to this operation")
	// ErrOfferExpired возвращается при заказе истёкшего лимитированного предложения.
	ErrOfferExpired = errors.New("limited offer expired")
	// ErrOfferSoldOut возвращается при исчерпании общего лимита предложения.
	ErrOfferSoldOut = errors.New("limited offer sold out")
	// ErrDailyLimitReached возвращается при исчерпании дневного лимита предложения.
	ErrDailyLimitReached = errors.New("daily limit reached")
	// ErrUserDailyLimitReached возвращается при исчерпании дневного лимита пользователя.
	ErrUserDailyLimitReached = errors.New("user daily limit reached")
	// ErrCooldownActive возвращается, если не истёк интервал между заказами предложения.
	ErrCooldownActive = errors.New("cooldown between orders is active")
	// ErrOrderNotCancellable возвращается при попытке пользователя отменить
	// заказ, уже выполненный или отменённый.
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
)

// Service содержит бизнес-логику панели. Операции выполняются на основном
// хранилище; при его недоступности или отказе в доступе операция повторяется
// на офлайн-зеркале, если оно настроено.
type Service struct {
	primary store.Store
	mirror  store.Store
	log     *zap.SugaredLogger
}

// NewService создаёт сервис. Зеркало может быть nil — тогда отказ основного
// хранилища возвращается вызывающей стороне как есть.
func NewService(primary, mirror store.Store, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{primary: primary, mirror: mirror, log: log}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.primary != nil {
		return s.primary.Close()
	}
	return nil
}

// fallback выполняет операцию на основном хранилище и повторяет её на зеркале
// при ErrUnavailable или ErrPermissionDenied.
func fallback[T any](s *Service, fn func(st store.Store) (T, error)) (T, error) {
	v, err := fn(s.primary)
	if err != nil && s.mirror != nil &&
		(errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrPermissionDenied)) {
		s.log.Warnw("primary store failed, using mirror", "error", err)
		return fn(s.mirror)
	}
	return v, err
}

func (s *Service) fallbackErr(fn func(st store.Store) error) error {
	_, err := fallback(s, func(st store.Store) (struct{}, error) {
		return struct{}{}, fn(st)
	})
	return err
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, email, name, password string) (*model.User, error) {
	return fallback(s, func(st store.Store) (*model.User, error) {
		return st.CreateUser(ctx, &model.User{
			Email:        email,
			Name:         name,
			PasswordHash: hashPassword(email, password),
		})
	})
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := fallback(s, func(st store.Store) (*model.User, error) {
		return st.GetUserByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if u.Status == model.UserStatusSuspended {
		return nil, ErrSuspended
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return fallback(s, func(st store.Store) (*model.User, error) {
		return st.GetUser(ctx, id)
	})
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return fallback(s, func(st store.Store) ([]model.User, error) {
		return st.ListUsers(ctx)
	})
}

// SetUserStatus меняет состояние учётной записи.
func (s *Service) SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.SetUserStatus(ctx, userID, status)
	})
}

// PlaceOrder размещает заказ: проверяет состояние пользователя, границы
// количества, купон скидки и лимиты предложения, считает сумму и выполняет
// атомарную транзакцию журнала. Возвращает отображаемый номер заказа и
// итоговую сумму.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, serviceID, targetURL string, quantity int, couponCode string) (string, float64, error) {
	type placed struct {
		displayID string
		amount    float64
	}
	res, err := fallback(s, func(st store.Store) (placed, error) {
		displayID, amount, err := s.placeOrder(ctx, st, userID, serviceID, targetURL, quantity, couponCode)
		return placed{displayID, amount}, err
	})
	return res.displayID, res.amount, err
}

func (s *Service) placeOrder(ctx context.Context, st store.Store, userID int64, serviceID, targetURL string, quantity int, couponCode string) (string, float64, error) {
	u, err := st.GetUser(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	if u.Status == model.UserStatusSuspended {
		return "", 0, ErrSuspended
	}

	sp, err := st.GetService(ctx, serviceID)
	if err != nil {
		return "", 0, err
	}

	if quantity < sp.MinQuantity || quantity > sp.MaxQuantity {
		return "", 0, fmt.Errorf("%w: %d..%d", ErrQuantityOutOfRange, sp.MinQuantity, sp.MaxQuantity)
	}

	rateQty := sp.RateQuantity
	if rateQty <= 0 {
		rateQty = 1
	}
	amount := round2(sp.Rate * float64(quantity) / float64(rateQty))

	if couponCode != "" {
		c, err := s.checkCoupon(ctx, st, couponCode, model.CouponDiscount)
		if err != nil {
			return "", 0, err
		}
		amount = round2(amount * (1 - c.Percent/100))
	}

	if sp.IsLimitedOffer {
		if err := s.checkLimitedOffer(ctx, st, u.ID, sp); err != nil {
			return "", 0, err
		}
	}

	displayID, err := st.PlaceOrder(ctx, &model.Order{
		UserID:         u.ID,
		UserName:       u.Name,
		ServiceID:      sp.ID,
		ServiceTitle:   sp.Title,
		TargetURL:      targetURL,
		Quantity:       quantity,
		Amount:         amount,
		CouponCode:     couponCode,
		IsLimitedOffer: sp.IsLimitedOffer,
	})
	if err != nil {
		return "", 0, err
	}
	return displayID, amount, nil
}

func (s *Service) checkLimitedOffer(ctx context.Context, st store.Store, userID int64, sp *model.ServicePackage) error {
	now := time.Now()

	if sp.ExpiryDate != nil && sp.ExpiryDate.Before(now) {
		return ErrOfferExpired
	}
	if sp.TotalLimit > 0 && sp.CurrentOrdersCount >= sp.TotalLimit {
		return ErrOfferSoldOut
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if sp.DailyLimit > 0 {
		count, err := st.CountServiceOrders(ctx, sp.ID, startOfDay)
		if err != nil {
			return err
		}
		if count >= sp.DailyLimit {
			return ErrDailyLimitReached
		}
	}

	if sp.UserDailyLimit > 0 {
		count, err := st.CountUserServiceOrders(ctx, userID, sp.ID, startOfDay)
		if err != nil {
			return err
		}
		if count >= sp.UserDailyLimit {
			return ErrUserDailyLimitReached
		}
	}

	if sp.CooldownMinutes > 0 {
		last, err := st.LastUserServiceOrderAt(ctx, userID, sp.ID)
		if err != nil {
			return err
		}
		if last != nil && now.Sub(*last) < time.Duration(sp.CooldownMinutes)*time.Minute {
			return ErrCooldownActive
		}
	}

	return nil
}

func (s *Service) checkCoupon(ctx context.Context, st store.Store, code string, want model.CouponType) (*model.Coupon, error) {
	c, err := st.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateCoupon(c, time.Now()); err != nil {
		return nil, err
	}
	if c.Type != want {
		return nil, ErrCouponTypeMismatch
	}
	return c, nil
}

// ValidateCouponCode проверяет применимость купона к операции указанного типа
// без его использования.
func (s *Service) ValidateCouponCode(ctx context.Context, code string, want model.CouponType) (*model.Coupon, error) {
	return fallback(s, func(st store.Store) (*model.Coupon, error) {
		return s.checkCoupon(ctx, st, code, want)
	})
}

// GetOrder возвращает заказ.
func (s *Service) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return fallback(s, func(st store.Store) (*model.Order, error) {
		return st.GetOrder(ctx, id)
	})
}

// UpdateOrderStatus меняет статус заказа от имени указанного администратора.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, updatedBy string) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.UpdateOrderStatus(ctx, orderID, status, updatedBy)
	})
}

// CancelOrder отменяет заказ от имени его владельца с возвратом средств.
// Пользователь может отменять только собственные заказы и только до их
// выполнения; выполненные заказы отменяет администратор через
// UpdateOrderStatus.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64) error {
	return s.fallbackErr(func(st store.Store) error {
		o, err := st.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return store.ErrNotFound
		}
		switch o.Status {
		case model.OrderStatusPending, model.OrderStatusInProgress:
		default:
			return ErrOrderNotCancellable
		}
		return st.UpdateOrderStatus(ctx, orderID, model.OrderStatusCancelled, "user")
	})
}

// ListOrders возвращает все заказы.
func (s *Service) ListOrders(ctx context.Context) ([]model.Order, error) {
	return fallback(s, func(st store.Store) ([]model.Order, error) {
		return st.ListOrders(ctx)
	})
}

// ListOrdersByUser возвращает заказы пользователя.
func (s *Service) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return fallback(s, func(st store.Store) ([]model.Order, error) {
		return st.ListOrdersByUser(ctx, userID)
	})
}

// CreateDepositRequest создаёт заявку на пополнение. Бонус по купону
// фиксируется в заявке при создании и зачисляется при подтверждении.
func (s *Service) CreateDepositRequest(ctx context.Context, userID int64, amount float64, utr, senderUPI, couponCode string) (*model.DepositRequest, error) {
	return fallback(s, func(st store.Store) (*model.DepositRequest, error) {
		u, err := st.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if u.Status == model.UserStatusSuspended {
			return nil, ErrSuspended
		}

		var bonus float64
		if couponCode != "" {
			c, err := s.checkCoupon(ctx, st, couponCode, model.CouponBonus)
			if err != nil {
				return nil, err
			}
			bonus = round2(amount * c.Percent / 100)
		}

		return st.CreateDepositRequest(ctx, &model.DepositRequest{
			UserID:      u.ID,
			UserName:    u.Name,
			Amount:      amount,
			BonusAmount: bonus,
			UTR:         utr,
			SenderUPI:   senderUPI,
			CouponCode:  couponCode,
		})
	})
}

// ProcessDepositRequest подтверждает или отклоняет заявку на пополнение.
func (s *Service) ProcessDepositRequest(ctx context.Context, requestID int64, status model.DepositStatus) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.ProcessDepositRequest(ctx, requestID, status)
	})
}

// ListDepositRequests возвращает все заявки на пополнение.
func (s *Service) ListDepositRequests(ctx context.Context) ([]model.DepositRequest, error) {
	return fallback(s, func(st store.Store) ([]model.DepositRequest, error) {
		return st.ListDepositRequests(ctx)
	})
}

// ListDepositRequestsByUser возвращает заявки пользователя.
func (s *Service) ListDepositRequestsByUser(ctx context.Context, userID int64) ([]model.DepositRequest, error) {
	return fallback(s, func(st store.Store) ([]model.DepositRequest, error) {
		return st.ListDepositRequestsByUser(ctx, userID)
	})
}

// AdjustWallet изменяет баланс пользователя от имени администратора.
func (s *Service) AdjustWallet(ctx context.Context, userID int64, amount float64, description string) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.AdjustWallet(ctx, userID, amount, description)
	})
}

// ListTransactionsByUser возвращает историю движений средств пользователя.
func (s *Service) ListTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return fallback(s, func(st store.Store) ([]model.Transaction, error) {
		return st.ListTransactionsByUser(ctx, userID)
	})
}

// CreateCoupon создаёт купон.
func (s *Service) CreateCoupon(ctx context.Context, c *model.Coupon) (*model.Coupon, error) {
	return fallback(s, func(st store.Store) (*model.Coupon, error) {
		return st.CreateCoupon(ctx, c)
	})
}

// DeleteCoupon удаляет купон.
func (s *Service) DeleteCoupon(ctx context.Context, id int64) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.DeleteCoupon(ctx, id)
	})
}

// ListCoupons возвращает все купоны.
func (s *Service) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	return fallback(s, func(st store.Store) ([]model.Coupon, error) {
		return st.ListCoupons(ctx)
	})
}

// CreateService создаёт тарифный план.
func (s *Service) CreateService(ctx context.Context, sp *model.ServicePackage) (*model.ServicePackage, error) {
	return fallback(s, func(st store.Store) (*model.ServicePackage, error) {
		return st.CreateService(ctx, sp)
	})
}

// UpdateService обновляет тарифный план.
func (s *Service) UpdateService(ctx context.Context, sp *model.ServicePackage) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.UpdateService(ctx, sp)
	})
}

// DeleteService удаляет тарифный план.
func (s *Service) DeleteService(ctx context.Context, id string) error {
	return s.fallbackErr(func(st store.Store) error {
		return st.DeleteService(ctx, id)
	})
}

// ListServices возвращает все тарифные планы.
func (s *Service) ListServices(ctx context.Context) ([]model.ServicePackage, error) {
	return fallback(s, func(st store.Store) ([]model.ServicePackage, error) {
		return st.ListServices(ctx)
	})
}

// GetDashboardStats считает сводные показатели по всем заказам.
func (s *Service) GetDashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	orders, err := s.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	stats := &model.DashboardStats{}
	for _, o := range orders {
		if o.IsLimitedOffer {
			stats.LimitedOrders++
			switch o.Status {
			case model.OrderStatusPending, model.OrderStatusInProgress:
				stats.LimitedPending++
			case model.OrderStatusCompleted:
				stats.LimitedCompleted++
			case model.OrderStatusCancelled:
				stats.LimitedCancelled++
			}
		}

		stats.TotalOrders++
		if !o.CreatedAt.Before(startOfDay) {
			stats.TodaysOrders++
		}

		switch o.Status {
		case model.OrderStatusPending, model.OrderStatusInProgress:
			stats.PendingOrders++
		case model.OrderStatusCompleted:
			stats.CompletedOrders++
		}

		// отменённые заказы не считаются выручкой
		if o.Status == model.OrderStatusCancelled {
			continue
		}

		stats.TotalRevenue = round2(stats.TotalRevenue + o.Amount)
		if !o.CreatedAt.Before(startOfMonth) {
			stats.MonthlyRevenue = round2(stats.MonthlyRevenue + o.Amount)
		}
		if !o.CreatedAt.Before(startOfDay) {
			stats.TodaysRevenue = round2(stats.TodaysRevenue + o.Amount)
		}
		if o.IsLimitedOffer {
			stats.LimitedRevenue = round2(stats.LimitedRevenue + o.Amount)
			if !o.CreatedAt.Before(startOfMonth) {
				stats.LimitedMonthlyRevenue = round2(stats.LimitedMonthlyRevenue + o.Amount)
			}
		}
	}

	return stats, nil
}
