package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// Ключи коллекций зеркала в key-value хранилище.
const (
	mirrorKeyUsers        = "mirror:users"
	mirrorKeyOrders       = "mirror:orders"
	mirrorKeyDeposits     = "mirror:deposits"
	mirrorKeyTransactions = "mirror:transactions"
	mirrorKeyCoupons      = "mirror:coupons"
	mirrorKeyServices     = "mirror:services"
)

// MirrorStore — офлайн-зеркало хранилища поверх key-value. Коллекции хранятся
// JSON-массивами, арифметика кошелька повторяет PostgresStore: те же записи
// аудита, те же защиты от двойного возврата и двойного зачисления. Вместо
// таблицы счётчиков номера выдаются от максимального существующего в коллекции.
type MirrorStore struct {
	mu sync.Mutex
	kv KV
}

// NewMirrorStore создаёт зеркало поверх переданного key-value хранилища.
func NewMirrorStore(kv KV) *MirrorStore {
	return &MirrorStore{kv: kv}
}

// Close ничего не освобождает: владелец KV закрывает его сам.
func (m *MirrorStore) Close() error { return nil }

// round2 округляет сумму до копеек после каждой мутации, чтобы ошибки
// представления float64 не накапливались в балансе.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func loadSlice[T any](ctx context.Context, kv KV, key string) ([]T, error) {
	raw, err := kv.GetItem(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	return items, nil
}

func saveSlice[T any](ctx context.Context, kv KV, key string, items []T) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return kv.SetItem(ctx, key, string(raw))
}

// NextSequence возвращает максимальный отображаемый номер коллекции плюс один.
// Под мьютексом зеркала выдача так же монотонна, как счётчик в БД.
func (m *MirrorStore) NextSequence(ctx context.Context, counter string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSequenceLocked(ctx, counter)
}

func (m *MirrorStore) nextSequenceLocked(ctx context.Context, counter string) (int64, error) {
	var max int64

	switch counter {
	case model.CounterOrders, model.CounterLimitedOrders:
		orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
		if err != nil {
			return 0, err
		}
		limited := counter == model.CounterLimitedOrders
		for _, o := range orders {
			if o.IsLimitedOffer != limited {
				continue
			}
			if n := model.ParseDisplayID(o.DisplayID); n > max {
				max = n
			}
		}
	case model.CounterDeposits:
		deposits, err := loadSlice[model.DepositRequest](ctx, m.kv, mirrorKeyDeposits)
		if err != nil {
			return 0, err
		}
		for _, d := range deposits {
			if n := model.ParseDisplayID(d.DisplayID); n > max {
				max = n
			}
		}
	case model.CounterUsers:
		users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
		if err != nil {
			return 0, err
		}
		for _, u := range users {
			if n := model.ParseDisplayID(u.DisplayID); n > max {
				max = n
			}
		}
	case model.CounterServices:
		services, err := loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
		if err != nil {
			return 0, err
		}
		for _, sp := range services {
			if n := model.ParseDisplayID(sp.ID); n > max {
				max = n
			}
		}
	default:
		return 0, fmt.Errorf("unknown counter %q", counter)
	}

	return max + 1, nil
}

func nextRecordID[T any](items []T, idOf func(T) int64) int64 {
	var max int64
	for _, it := range items {
		if id := idOf(it); id > max {
			max = id
		}
	}
	return max + 1
}

// CreateUser создаёт пользователя в зеркале.
func (m *MirrorStore) CreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
	if err != nil {
		return nil, err
	}

	for _, existing := range users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
	}

	seq, err := m.nextSequenceLocked(ctx, model.CounterUsers)
	if err != nil {
		return nil, err
	}

	created := *u
	created.ID = nextRecordID(users, func(x model.User) int64 { return x.ID })
	created.DisplayID = model.FormatDisplayID(model.CounterUsers, seq)
	if created.Role == "" {
		created.Role = model.RoleUser
	}
	created.Status = model.UserStatusActive
	created.CreatedAt = time.Now()

	users = append(users, created)
	if err := saveSlice(ctx, m.kv, mirrorKeyUsers, users); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetUser возвращает пользователя по внутреннему идентификатору.
func (m *MirrorStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			u := users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (m *MirrorStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			u := users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers возвращает всех пользователей зеркала.
func (m *MirrorStore) ListUsers(ctx context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
}

// SetUserStatus меняет состояние учётной записи.
func (m *MirrorStore) SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
	if err != nil {
		return err
	}
	for i := range users {
		if users[i].ID == userID {
			users[i].Status = status
			return saveSlice(ctx, m.kv, mirrorKeyUsers, users)
		}
	}
	return ErrNotFound
}

func (m *MirrorStore) appendTransaction(ctx context.Context, t model.Transaction) error {
	txs, err := loadSlice[model.Transaction](ctx, m.kv, mirrorKeyTransactions)
	if err != nil {
		return err
	}
	t.ID = nextRecordID(txs, func(x model.Transaction) int64 { return x.ID })
	t.CreatedAt = time.Now()
	txs = append(txs, t)
	return saveSlice(ctx, m.kv, mirrorKeyTransactions, txs)
}

// PlaceOrder повторяет транзакцию размещения заказа: проверка баланса,
// выдача номера, списание, запись Debit и инкременты счётчиков купона
// и лимитированной услуги выполняются под одним мьютексом.
func (m *MirrorStore) PlaceOrder(ctx context.Context, order *model.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
	if err != nil {
		return "", err
	}

	userIdx := -1
	for i := range users {
		if users[i].ID == order.UserID {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return "", ErrNotFound
	}
	if order.Amount > users[userIdx].WalletBalance {
		return "", ErrInsufficientBalance
	}

	counter := model.CounterOrders
	if order.IsLimitedOffer {
		counter = model.CounterLimitedOrders
	}
	seq, err := m.nextSequenceLocked(ctx, counter)
	if err != nil {
		return "", err
	}
	displayID := model.FormatDisplayID(counter, seq)

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return "", err
	}

	created := *order
	created.ID = nextRecordID(orders, func(x model.Order) int64 { return x.ID })
	created.DisplayID = displayID
	created.Status = model.OrderStatusPending
	created.CreatedAt = time.Now()
	orders = append(orders, created)

	users[userIdx].WalletBalance = round2(users[userIdx].WalletBalance - order.Amount)
	users[userIdx].TotalSpent = round2(users[userIdx].TotalSpent + order.Amount)

	if err := saveSlice(ctx, m.kv, mirrorKeyOrders, orders); err != nil {
		return "", err
	}
	if err := saveSlice(ctx, m.kv, mirrorKeyUsers, users); err != nil {
		return "", err
	}

	err = m.appendTransaction(ctx, model.Transaction{
		UserID:      order.UserID,
		Type:        model.TransactionDebit,
		Amount:      order.Amount,
		Description: fmt.Sprintf("Order #%s for %s", displayID, order.ServiceTitle),
		Status:      string(model.OrderStatusCompleted),
		RelatedID:   strconv.FormatInt(created.ID, 10),
	})
	if err != nil {
		return "", err
	}

	if order.CouponCode != "" {
		coupons, err := loadSlice[model.Coupon](ctx, m.kv, mirrorKeyCoupons)
		if err != nil {
			return "", err
		}
		code := strings.ToUpper(order.CouponCode)
		for i := range coupons {
			if coupons[i].Code == code {
				coupons[i].UsedCount++
				break
			}
		}
		if err := saveSlice(ctx, m.kv, mirrorKeyCoupons, coupons); err != nil {
			return "", err
		}
	}

	if order.IsLimitedOffer && order.ServiceID != "" {
		services, err := loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
		if err != nil {
			return "", err
		}
		for i := range services {
			if services[i].ID == order.ServiceID {
				services[i].CurrentOrdersCount++
				break
			}
		}
		if err := saveSlice(ctx, m.kv, mirrorKeyServices, services); err != nil {
			return "", err
		}
	}

	return displayID, nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (m *MirrorStore) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ID == id {
			o := orders[i]
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateOrderStatus меняет статус заказа. Возврат выполняется только при
// переходе в Cancelled из другого статуса.
func (m *MirrorStore) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return err
	}

	idx := -1
	for i := range orders {
		if orders[i].ID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	current := orders[idx].Status
	if current == status {
		return nil
	}

	if status == model.OrderStatusCancelled && current != model.OrderStatusCancelled {
		users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID == orders[idx].UserID {
				users[i].WalletBalance = round2(users[i].WalletBalance + orders[idx].Amount)
				users[i].TotalSpent = round2(users[i].TotalSpent - orders[idx].Amount)
				break
			}
		}
		if err := saveSlice(ctx, m.kv, mirrorKeyUsers, users); err != nil {
			return err
		}

		err = m.appendTransaction(ctx, model.Transaction{
			UserID:      orders[idx].UserID,
			Type:        model.TransactionCredit,
			Amount:      orders[idx].Amount,
			Description: fmt.Sprintf("Refund for Cancelled Order #%s", orders[idx].DisplayID),
			Status:      string(model.DepositStatusApproved),
			RelatedID:   strconv.FormatInt(orderID, 10),
		})
		if err != nil {
			return err
		}
	}

	orders[idx].Status = status
	orders[idx].LastUpdatedBy = updatedBy
	return saveSlice(ctx, m.kv, mirrorKeyOrders, orders)
}

// ListOrders возвращает все заказы, новые первыми.
func (m *MirrorStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(orders, func(o model.Order) time.Time { return o.CreatedAt })
	return orders, nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (m *MirrorStore) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return nil, err
	}
	var res []model.Order
	for _, o := range orders {
		if o.UserID == userID {
			res = append(res, o)
		}
	}
	sortNewestFirst(res, func(o model.Order) time.Time { return o.CreatedAt })
	return res, nil
}

// CreateDepositRequest создаёт заявку на пополнение со статусом Pending.
func (m *MirrorStore) CreateDepositRequest(ctx context.Context, req *model.DepositRequest) (*model.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.nextSequenceLocked(ctx, model.CounterDeposits)
	if err != nil {
		return nil, err
	}

	deposits, err := loadSlice[model.DepositRequest](ctx, m.kv, mirrorKeyDeposits)
	if err != nil {
		return nil, err
	}

	created := *req
	created.ID = nextRecordID(deposits, func(x model.DepositRequest) int64 { return x.ID })
	created.DisplayID = model.FormatDisplayID(model.CounterDeposits, seq)
	created.Status = model.DepositStatusPending
	created.CreatedAt = time.Now()

	deposits = append(deposits, created)
	if err := saveSlice(ctx, m.kv, mirrorKeyDeposits, deposits); err != nil {
		return nil, err
	}
	return &created, nil
}

// ProcessDepositRequest переводит заявку из Pending в новый статус.
// Зачисление amount+bonusAmount выполняется только при переходе в Approved;
// уже обработанная заявка не меняется.
func (m *MirrorStore) ProcessDepositRequest(ctx context.Context, requestID int64, status model.DepositStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deposits, err := loadSlice[model.DepositRequest](ctx, m.kv, mirrorKeyDeposits)
	if err != nil {
		return err
	}

	idx := -1
	for i := range deposits {
		if deposits[i].ID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	if deposits[idx].Status != model.DepositStatusPending {
		return ErrDepositProcessed
	}

	deposits[idx].Status = status
	if err := saveSlice(ctx, m.kv, mirrorKeyDeposits, deposits); err != nil {
		return err
	}

	if status == model.DepositStatusApproved {
		total := round2(deposits[idx].Amount + deposits[idx].BonusAmount)

		users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID == deposits[idx].UserID {
				users[i].WalletBalance = round2(users[i].WalletBalance + total)
				break
			}
		}
		if err := saveSlice(ctx, m.kv, mirrorKeyUsers, users); err != nil {
			return err
		}

		err = m.appendTransaction(ctx, model.Transaction{
			UserID: deposits[idx].UserID,
			Type:   model.TransactionCredit,
			Amount: total,
			Description: fmt.Sprintf("Deposit #%s (incl. %.2f bonus) via %s",
				deposits[idx].DisplayID, deposits[idx].BonusAmount, deposits[idx].UTR),
			Status:    string(model.DepositStatusApproved),
			RelatedID: strconv.FormatInt(requestID, 10),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// ListDepositRequests возвращает все заявки, новые первыми.
func (m *MirrorStore) ListDepositRequests(ctx context.Context) ([]model.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deposits, err := loadSlice[model.DepositRequest](ctx, m.kv, mirrorKeyDeposits)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(deposits, func(d model.DepositRequest) time.Time { return d.CreatedAt })
	return deposits, nil
}

// ListDepositRequestsByUser возвращает заявки пользователя, новые первыми.
func (m *MirrorStore) ListDepositRequestsByUser(ctx context.Context, userID int64) ([]model.DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deposits, err := loadSlice[model.DepositRequest](ctx, m.kv, mirrorKeyDeposits)
	if err != nil {
		return nil, err
	}
	var res []model.DepositRequest
	for _, d := range deposits {
		if d.UserID == userID {
			res = append(res, d)
		}
	}
	sortNewestFirst(res, func(d model.DepositRequest) time.Time { return d.CreatedAt })
	return res, nil
}

// AdjustWallet изменяет баланс на произвольную сумму. Нулевая сумма — no-op.
func (m *MirrorStore) AdjustWallet(ctx context.Context, userID int64, amount float64, description string) error {
	if amount == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	users, err := loadSlice[model.User](ctx, m.kv, mirrorKeyUsers)
	if err != nil {
		return err
	}

	idx := -1
	for i := range users {
		if users[i].ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	users[idx].WalletBalance = round2(users[idx].WalletBalance + amount)
	if err := saveSlice(ctx, m.kv, mirrorKeyUsers, users); err != nil {
		return err
	}

	txType := model.TransactionDebit
	txStatus := string(model.OrderStatusCompleted)
	if amount > 0 {
		txType = model.TransactionCredit
		txStatus = string(model.DepositStatusApproved)
	}
	abs := amount
	if abs < 0 {
		abs = -abs
	}

	return m.appendTransaction(ctx, model.Transaction{
		UserID:      userID,
		Type:        txType,
		Amount:      round2(abs),
		Description: "Admin: " + description,
		Status:      txStatus,
		RelatedID:   "admin_adjustment",
	})
}

// ListTransactionsByUser возвращает историю движений средств пользователя.
func (m *MirrorStore) ListTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs, err := loadSlice[model.Transaction](ctx, m.kv, mirrorKeyTransactions)
	if err != nil {
		return nil, err
	}
	var res []model.Transaction
	for _, t := range txs {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	sortNewestFirst(res, func(t model.Transaction) time.Time { return t.CreatedAt })
	return res, nil
}

// CreateCoupon создаёт купон. Код приводится к верхнему регистру.
func (m *MirrorStore) CreateCoupon(ctx context.Context, c *model.Coupon) (*model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coupons, err := loadSlice[model.Coupon](ctx, m.kv, mirrorKeyCoupons)
	if err != nil {
		return nil, err
	}

	created := *c
	created.ID = nextRecordID(coupons, func(x model.Coupon) int64 { return x.ID })
	created.Code = strings.ToUpper(created.Code)
	if created.Type == "" {
		created.Type = model.CouponDiscount
	}
	created.CreatedAt = time.Now()

	coupons = append(coupons, created)
	if err := saveSlice(ctx, m.kv, mirrorKeyCoupons, coupons); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteCoupon удаляет купон.
func (m *MirrorStore) DeleteCoupon(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coupons, err := loadSlice[model.Coupon](ctx, m.kv, mirrorKeyCoupons)
	if err != nil {
		return err
	}
	for i := range coupons {
		if coupons[i].ID == id {
			coupons = append(coupons[:i], coupons[i+1:]...)
			return saveSlice(ctx, m.kv, mirrorKeyCoupons, coupons)
		}
	}
	return ErrNotFound
}

// ListCoupons возвращает все купоны.
func (m *MirrorStore) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loadSlice[model.Coupon](ctx, m.kv, mirrorKeyCoupons)
}

// GetCouponByCode ищет купон без учёта регистра кода.
func (m *MirrorStore) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coupons, err := loadSlice[model.Coupon](ctx, m.kv, mirrorKeyCoupons)
	if err != nil {
		return nil, err
	}
	upper := strings.ToUpper(code)
	for i := range coupons {
		if coupons[i].Code == upper {
			c := coupons[i]
			return &c, nil
		}
	}
	return nil, ErrCouponInvalid
}

// CreateService создаёт тарифный план. Пустой идентификатор заменяется
// номером из последовательности services.
func (m *MirrorStore) CreateService(ctx context.Context, sp *model.ServicePackage) (*model.ServicePackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	services, err := loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
	if err != nil {
		return nil, err
	}

	created := *sp
	if created.ID == "" {
		seq, err := m.nextSequenceLocked(ctx, model.CounterServices)
		if err != nil {
			return nil, err
		}
		created.ID = model.FormatDisplayID(model.CounterServices, seq)
	}

	services = append(services, created)
	if err := saveSlice(ctx, m.kv, mirrorKeyServices, services); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateService обновляет тарифный план, сохраняя счётчик заказов.
func (m *MirrorStore) UpdateService(ctx context.Context, sp *model.ServicePackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	services, err := loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
	if err != nil {
		return err
	}
	for i := range services {
		if services[i].ID == sp.ID {
			count := services[i].CurrentOrdersCount
			services[i] = *sp
			services[i].CurrentOrdersCount = count
			return saveSlice(ctx, m.kv, mirrorKeyServices, services)
		}
	}
	return ErrNotFound
}

// DeleteService удаляет тарифный план.
func (m *MirrorStore) DeleteService(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	services, err := loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
	if err != nil {
		return err
	}
	for i := range services {
		if services[i].ID == id {
			services = append(services[:i], services[i+1:]...)
			return saveSlice(ctx, m.kv, mirrorKeyServices, services)
		}
	}
	return ErrNotFound
}

// GetService возвращает тарифный план по идентификатору.
func (m *MirrorStore) GetService(ctx context.Context, id string) (*model.ServicePackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	services, err := loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].ID == id {
			sp := services[i]
			return &sp, nil
		}
	}
	return nil, ErrNotFound
}

// ListServices возвращает все тарифные планы.
func (m *MirrorStore) ListServices(ctx context.Context) ([]model.ServicePackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loadSlice[model.ServicePackage](ctx, m.kv, mirrorKeyServices)
}

// CountServiceOrders возвращает число неотменённых заказов услуги с момента since.
func (m *MirrorStore) CountServiceOrders(ctx context.Context, serviceID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, o := range orders {
		if o.ServiceID == serviceID && o.Status != model.OrderStatusCancelled && !o.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CountUserServiceOrders возвращает число неотменённых заказов пользователя
// по услуге с момента since.
func (m *MirrorStore) CountUserServiceOrders(ctx context.Context, userID int64, serviceID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, o := range orders {
		if o.UserID == userID && o.ServiceID == serviceID &&
			o.Status != model.OrderStatusCancelled && !o.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// LastUserServiceOrderAt возвращает время последнего неотменённого заказа
// пользователя по услуге.
func (m *MirrorStore) LastUserServiceOrderAt(ctx context.Context, userID int64, serviceID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, err := loadSlice[model.Order](ctx, m.kv, mirrorKeyOrders)
	if err != nil {
		return nil, err
	}
	var last *time.Time
	for _, o := range orders {
		if o.UserID == userID && o.ServiceID == serviceID && o.Status != model.OrderStatusCancelled {
			t := o.CreatedAt
			if last == nil || t.After(*last) {
				last = &t
			}
		}
	}
	return last, nil
}

func sortNewestFirst[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return at(items[i]).After(at(items[j]))
	})
}
