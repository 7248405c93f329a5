package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore предоставляет транзакционное хранилище панели в PostgreSQL.
// Все денежные суммы хранятся в копейках (int64).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func toCents(v float64) int64 {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromCents(c int64) float64 {
	f, _ := decimal.New(c, -2).Float64()
	return f
}

// classify переводит ошибки драйвера в типизированные виды хранилища,
// чтобы вызывающая сторона различала их через errors.Is, а не по подстрокам.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InsufficientPrivilege {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, pgErr.Message)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}

	return err
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		break
	}
	return err
}

const nextSequenceSQL = `
	INSERT INTO counters (name, current_value) VALUES ($1, 1)
	ON CONFLICT (name) DO UPDATE SET current_value = counters.current_value + 1
	RETURNING current_value`

// NextSequence возвращает следующее значение счётчика. Чтение и запись
// выполняются одним атомарным оператором, поэтому два конкурентных вызова
// не могут получить одинаковое значение.
func (s *PostgresStore) NextSequence(ctx context.Context, counter string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, nextSequenceSQL, counter).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence %q: %w", counter, classify(err))
	}
	return value, nil
}

// CreateUser создаёт пользователя, выдавая ему последовательный отображаемый
// номер из счётчика users в той же транзакции.
func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	var seq int64
	if err := tx.QueryRow(ctx, nextSequenceSQL, model.CounterUsers).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next user sequence: %w", classify(err))
	}

	created := *u
	created.DisplayID = model.FormatDisplayID(model.CounterUsers, seq)
	if created.Role == "" {
		created.Role = model.RoleUser
	}
	created.Status = model.UserStatusActive

	err = tx.QueryRow(ctx,
		`INSERT INTO users (display_id, email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		created.DisplayID, created.Email, created.Name, created.PasswordHash, string(created.Role),
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, created.Email)
		}
		return nil, fmt.Errorf("insert user: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", classify(err))
	}

	return &created, nil
}

const userColumns = `id, display_id, email, name, password_hash, role, wallet_balance, total_spent, status, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u            model.User
		balanceCents int64
		spentCents   int64
		role         string
		status       string
	)
	err := row.Scan(&u.ID, &u.DisplayID, &u.Email, &u.Name, &u.PasswordHash,
		&role, &balanceCents, &spentCents, &status, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	u.Status = model.UserStatus(status)
	u.WalletBalance = fromCents(balanceCents)
	u.TotalSpent = fromCents(spentCents)
	return &u, nil
}

// GetUser возвращает пользователя по внутреннему идентификатору.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", classify(err))
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", classify(err))
	}
	return u, nil
}

// ListUsers возвращает всех пользователей.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", classify(err))
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}
	return users, nil
}

// SetUserStatus меняет состояние учётной записи.
func (s *PostgresStore) SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET status = $2 WHERE id = $1`, userID, string(status))
	if err != nil {
		return fmt.Errorf("update user status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PlaceOrder атомарно размещает заказ: выдаёт отображаемый номер, списывает
// сумму с кошелька, создаёт заказ и запись Debit, инкрементирует счётчики
// купона и лимитированной услуги. Строка пользователя блокируется на время
// транзакции, чтобы два конкурентных заказа не ушли в минус по балансу.
func (s *PostgresStore) PlaceOrder(ctx context.Context, order *model.Order) (string, error) {
	var displayID string
	err := s.withRetry(ctx, func() error {
		var err error
		displayID, err = s.placeOrderTx(ctx, order)
		return err
	})
	if err != nil {
		return "", err
	}
	return displayID, nil
}

func (s *PostgresStore) placeOrderTx(ctx context.Context, order *model.Order) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	var balanceCents int64
	err = tx.QueryRow(ctx,
		`SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`,
		order.UserID,
	).Scan(&balanceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lock user: %w", classify(err))
	}

	amountCents := toCents(order.Amount)
	if amountCents > balanceCents {
		return "", ErrInsufficientBalance
	}

	counter := model.CounterOrders
	if order.IsLimitedOffer {
		counter = model.CounterLimitedOrders
	}

	var seq int64
	if err := tx.QueryRow(ctx, nextSequenceSQL, counter).Scan(&seq); err != nil {
		return "", fmt.Errorf("next order sequence: %w", classify(err))
	}
	displayID := model.FormatDisplayID(counter, seq)

	_, err = tx.Exec(ctx,
		`UPDATE users SET wallet_balance = wallet_balance - $2, total_spent = total_spent + $2 WHERE id = $1`,
		order.UserID, amountCents)
	if err != nil {
		return "", fmt.Errorf("debit wallet: %w", classify(err))
	}

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (display_id, user_id, user_name, service_id, service_title, target_url,
		                     quantity, amount, status, coupon_code, is_limited_offer)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		displayID, order.UserID, order.UserName, order.ServiceID, order.ServiceTitle, order.TargetURL,
		order.Quantity, amountCents, string(model.OrderStatusPending), order.CouponCode, order.IsLimitedOffer,
	).Scan(&orderID)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", classify(err))
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, type, amount, description, status, related_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		order.UserID, string(model.TransactionDebit), amountCents,
		fmt.Sprintf("Order #%s for %s", displayID, order.ServiceTitle),
		string(model.OrderStatusCompleted), strconv.FormatInt(orderID, 10))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", classify(err))
	}

	if order.CouponCode != "" {
		_, err = tx.Exec(ctx,
			`UPDATE coupons SET used_count = used_count + 1 WHERE code = $1`,
			strings.ToUpper(order.CouponCode))
		if err != nil {
			return "", fmt.Errorf("increment coupon usage: %w", classify(err))
		}
	}

	if order.IsLimitedOffer && order.ServiceID != "" {
		_, err = tx.Exec(ctx,
			`UPDATE services SET current_orders_count = current_orders_count + 1 WHERE id = $1`,
			order.ServiceID)
		if err != nil {
			return "", fmt.Errorf("increment service counter: %w", classify(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", classify(err))
	}

	return displayID, nil
}

const orderColumns = `id, display_id, user_id, user_name, service_id, service_title, target_url,
	quantity, amount, status, coupon_code, is_limited_offer, last_updated_by, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o           model.Order
		amountCents int64
		status      string
	)
	err := row.Scan(&o.ID, &o.DisplayID, &o.UserID, &o.UserName, &o.ServiceID, &o.ServiceTitle,
		&o.TargetURL, &o.Quantity, &amountCents, &status, &o.CouponCode, &o.IsLimitedOffer,
		&o.LastUpdatedBy, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Amount = fromCents(amountCents)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", classify(err))
	}
	return o, nil
}

// UpdateOrderStatus меняет статус заказа. Возврат средств выполняется в той же
// транзакции, что и чтение текущего статуса, поэтому повторная отмена (в том
// числе конкурентная) не приводит к двойному возврату.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, updatedBy string) error {
	return s.withRetry(ctx, func() error {
		return s.updateOrderStatusTx(ctx, orderID, status, updatedBy)
	})
}

func (s *PostgresStore) updateOrderStatusTx(ctx context.Context, orderID int64, status model.OrderStatus, updatedBy string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	var (
		userID      int64
		amountCents int64
		current     string
		displayID   string
	)
	err = tx.QueryRow(ctx,
		`SELECT user_id, amount, status, display_id FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&userID, &amountCents, &current, &displayID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock order: %w", classify(err))
	}

	if model.OrderStatus(current) == status {
		return tx.Commit(ctx)
	}

	if status == model.OrderStatusCancelled && model.OrderStatus(current) != model.OrderStatusCancelled {
		_, err = tx.Exec(ctx,
			`UPDATE users SET wallet_balance = wallet_balance + $2, total_spent = total_spent - $2 WHERE id = $1`,
			userID, amountCents)
		if err != nil {
			return fmt.Errorf("refund wallet: %w", classify(err))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, type, amount, description, status, related_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, string(model.TransactionCredit), amountCents,
			fmt.Sprintf("Refund for Cancelled Order #%s", displayID),
			string(model.DepositStatusApproved), strconv.FormatInt(orderID, 10))
		if err != nil {
			return fmt.Errorf("insert refund transaction: %w", classify(err))
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, last_updated_by = $3 WHERE id = $1`,
		orderID, string(status), updatedBy)
	if err != nil {
		return fmt.Errorf("update order status: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", classify(err))
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}
	return orders, nil
}

// ListOrders возвращает все заказы, новые первыми.
func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// CreateDepositRequest создаёт заявку на пополнение со статусом Pending и
// семизначным отображаемым номером из счётчика deposits.
func (s *PostgresStore) CreateDepositRequest(ctx context.Context, req *model.DepositRequest) (*model.DepositRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	var seq int64
	if err := tx.QueryRow(ctx, nextSequenceSQL, model.CounterDeposits).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next deposit sequence: %w", classify(err))
	}

	created := *req
	created.DisplayID = model.FormatDisplayID(model.CounterDeposits, seq)
	created.Status = model.DepositStatusPending

	err = tx.QueryRow(ctx,
		`INSERT INTO deposit_requests (display_id, user_id, user_name, amount, bonus_amount, utr, sender_upi, status, coupon_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		created.DisplayID, created.UserID, created.UserName, toCents(created.Amount), toCents(created.BonusAmount),
		created.UTR, created.SenderUPI, string(created.Status), created.CouponCode,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert deposit request: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", classify(err))
	}

	return &created, nil
}

// ProcessDepositRequest переводит заявку из Pending в новый статус.
// Зачисление amount+bonusAmount и запись Credit создаются только при переходе
// в Approved, в одной транзакции с чтением текущего статуса; уже обработанная
// заявка не меняется.
func (s *PostgresStore) ProcessDepositRequest(ctx context.Context, requestID int64, status model.DepositStatus) error {
	return s.withRetry(ctx, func() error {
		return s.processDepositTx(ctx, requestID, status)
	})
}

func (s *PostgresStore) processDepositTx(ctx context.Context, requestID int64, status model.DepositStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	var (
		userID      int64
		amountCents int64
		bonusCents  int64
		current     string
		displayID   string
		utr         string
	)
	err = tx.QueryRow(ctx,
		`SELECT user_id, amount, bonus_amount, status, display_id, utr
		 FROM deposit_requests WHERE id = $1 FOR UPDATE`,
		requestID,
	).Scan(&userID, &amountCents, &bonusCents, &current, &displayID, &utr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock deposit request: %w", classify(err))
	}

	if model.DepositStatus(current) != model.DepositStatusPending {
		return ErrDepositProcessed
	}

	_, err = tx.Exec(ctx,
		`UPDATE deposit_requests SET status = $2 WHERE id = $1`,
		requestID, string(status))
	if err != nil {
		return fmt.Errorf("update deposit status: %w", classify(err))
	}

	if status == model.DepositStatusApproved {
		totalCents := amountCents + bonusCents

		_, err = tx.Exec(ctx,
			`UPDATE users SET wallet_balance = wallet_balance + $2 WHERE id = $1`,
			userID, totalCents)
		if err != nil {
			return fmt.Errorf("credit wallet: %w", classify(err))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, type, amount, description, status, related_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, string(model.TransactionCredit), totalCents,
			fmt.Sprintf("Deposit #%s (incl. %.2f bonus) via %s", displayID, fromCents(bonusCents), utr),
			string(model.DepositStatusApproved), strconv.FormatInt(requestID, 10))
		if err != nil {
			return fmt.Errorf("insert deposit transaction: %w", classify(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

const depositColumns = `id, display_id, user_id, user_name, amount, bonus_amount, utr, sender_upi, status, coupon_code, created_at`

func scanDeposit(row pgx.Row) (*model.DepositRequest, error) {
	var (
		d           model.DepositRequest
		amountCents int64
		bonusCents  int64
		status      string
	)
	err := row.Scan(&d.ID, &d.DisplayID, &d.UserID, &d.UserName, &amountCents, &bonusCents,
		&d.UTR, &d.SenderUPI, &status, &d.CouponCode, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Amount = fromCents(amountCents)
	d.BonusAmount = fromCents(bonusCents)
	d.Status = model.DepositStatus(status)
	return &d, nil
}

func (s *PostgresStore) listDeposits(ctx context.Context, query string, args ...any) ([]model.DepositRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select deposit requests: %w", classify(err))
	}
	defer rows.Close()

	var res []model.DepositRequest
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit request: %w", err)
		}
		res = append(res, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}
	return res, nil
}

// ListDepositRequests возвращает все заявки на пополнение, новые первыми.
func (s *PostgresStore) ListDepositRequests(ctx context.Context) ([]model.DepositRequest, error) {
	return s.listDeposits(ctx,
		`SELECT `+depositColumns+` FROM deposit_requests ORDER BY created_at DESC`)
}

// ListDepositRequestsByUser возвращает заявки пользователя, новые первыми.
func (s *PostgresStore) ListDepositRequestsByUser(ctx context.Context, userID int64) ([]model.DepositRequest, error) {
	return s.listDeposits(ctx,
		`SELECT `+depositColumns+` FROM deposit_requests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// AdjustWallet изменяет баланс пользователя на указанную сумму (может быть
// отрицательной) и создаёт запись аудита с пометкой административного действия.
// Нулевая сумма — тихий no-op.
func (s *PostgresStore) AdjustWallet(ctx context.Context, userID int64, amount float64, description string) error {
	if amount == 0 {
		return nil
	}

	amountCents := toCents(amount)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE users SET wallet_balance = wallet_balance + $2 WHERE id = $1`,
		userID, amountCents)
	if err != nil {
		return fmt.Errorf("adjust wallet: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	txType := model.TransactionDebit
	txStatus := string(model.OrderStatusCompleted)
	if amountCents > 0 {
		txType = model.TransactionCredit
		txStatus = string(model.DepositStatusApproved)
	}
	absCents := amountCents
	if absCents < 0 {
		absCents = -absCents
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, type, amount, description, status, related_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, string(txType), absCents, "Admin: "+description, txStatus, "admin_adjustment")
	if err != nil {
		return fmt.Errorf("insert adjustment transaction: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

// ListTransactionsByUser возвращает историю движений средств пользователя.
func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount, description, status, related_id, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", classify(err))
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t           model.Transaction
			amountCents int64
			txType      string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &amountCents, &t.Description,
			&t.Status, &t.RelatedID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(txType)
		t.Amount = fromCents(amountCents)
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}
	return res, nil
}

// CreateCoupon создаёт купон. Код приводится к верхнему регистру.
func (s *PostgresStore) CreateCoupon(ctx context.Context, c *model.Coupon) (*model.Coupon, error) {
	created := *c
	created.Code = strings.ToUpper(created.Code)
	if created.Type == "" {
		created.Type = model.CouponDiscount
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO coupons (code, percent, type, usage_limit, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, used_count, created_at`,
		created.Code, created.Percent, string(created.Type), created.UsageLimit, created.ExpiresAt,
	).Scan(&created.ID, &created.UsedCount, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert coupon: %w", classify(err))
	}
	return &created, nil
}

// DeleteCoupon удаляет купон.
func (s *PostgresStore) DeleteCoupon(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const couponColumns = `id, code, percent, type, usage_limit, used_count, expires_at, created_at`

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var (
		c     model.Coupon
		cType string
	)
	err := row.Scan(&c.ID, &c.Code, &c.Percent, &cType, &c.UsageLimit, &c.UsedCount,
		&c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = model.CouponType(cType)
	return &c, nil
}

// ListCoupons возвращает все купоны.
func (s *PostgresStore) ListCoupons(ctx context.Context) ([]model.Coupon, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select coupons: %w", classify(err))
	}
	defer rows.Close()

	var res []model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}
	return res, nil
}

// GetCouponByCode ищет купон без учёта регистра кода.
func (s *PostgresStore) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	c, err := scanCoupon(s.pool.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, strings.ToUpper(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponInvalid
		}
		return nil, fmt.Errorf("get coupon: %w", classify(err))
	}
	return c, nil
}

const serviceColumns = `id, title, description, unit_name, rate, rate_quantity, min_quantity, max_quantity,
	service_type, is_limited_offer, expiry_date, total_limit, daily_limit, user_daily_limit,
	cooldown_minutes, current_orders_count`

func scanService(row pgx.Row) (*model.ServicePackage, error) {
	var (
		sp        model.ServicePackage
		rateCents int64
	)
	err := row.Scan(&sp.ID, &sp.Title, &sp.Description, &sp.UnitName, &rateCents, &sp.RateQuantity,
		&sp.MinQuantity, &sp.MaxQuantity, &sp.ServiceType, &sp.IsLimitedOffer, &sp.ExpiryDate,
		&sp.TotalLimit, &sp.DailyLimit, &sp.UserDailyLimit, &sp.CooldownMinutes, &sp.CurrentOrdersCount)
	if err != nil {
		return nil, err
	}
	sp.Rate = fromCents(rateCents)
	return &sp, nil
}

// CreateService создаёт тарифный план. Пустой идентификатор заменяется
// шестизначным номером из счётчика services в той же транзакции.
func (s *PostgresStore) CreateService(ctx context.Context, sp *model.ServicePackage) (*model.ServicePackage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	created := *sp
	if created.ID == "" {
		var seq int64
		if err := tx.QueryRow(ctx, nextSequenceSQL, model.CounterServices).Scan(&seq); err != nil {
			return nil, fmt.Errorf("next service sequence: %w", classify(err))
		}
		created.ID = model.FormatDisplayID(model.CounterServices, seq)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO services (id, title, description, unit_name, rate, rate_quantity, min_quantity,
		                       max_quantity, service_type, is_limited_offer, expiry_date, total_limit,
		                       daily_limit, user_daily_limit, cooldown_minutes, current_orders_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		created.ID, created.Title, created.Description, created.UnitName, toCents(created.Rate),
		created.RateQuantity, created.MinQuantity, created.MaxQuantity, created.ServiceType,
		created.IsLimitedOffer, created.ExpiryDate, created.TotalLimit, created.DailyLimit,
		created.UserDailyLimit, created.CooldownMinutes, created.CurrentOrdersCount)
	if err != nil {
		return nil, fmt.Errorf("insert service: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", classify(err))
	}
	return &created, nil
}

// UpdateService обновляет тарифный план целиком, кроме счётчика заказов.
func (s *PostgresStore) UpdateService(ctx context.Context, sp *model.ServicePackage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE services SET title = $2, description = $3, unit_name = $4, rate = $5, rate_quantity = $6,
		        min_quantity = $7, max_quantity = $8, service_type = $9, is_limited_offer = $10,
		        expiry_date = $11, total_limit = $12, daily_limit = $13, user_daily_limit = $14,
		        cooldown_minutes = $15
		 WHERE id = $1`,
		sp.ID, sp.Title, sp.Description, sp.UnitName, toCents(sp.Rate), sp.RateQuantity,
		sp.MinQuantity, sp.MaxQuantity, sp.ServiceType, sp.IsLimitedOffer, sp.ExpiryDate,
		sp.TotalLimit, sp.DailyLimit, sp.UserDailyLimit, sp.CooldownMinutes)
	if err != nil {
		return fmt.Errorf("update service: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteService удаляет тарифный план.
func (s *PostgresStore) DeleteService(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetService возвращает тарифный план по идентификатору.
func (s *PostgresStore) GetService(ctx context.Context, id string) (*model.ServicePackage, error) {
	sp, err := scanService(s.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get service: %w", classify(err))
	}
	return sp, nil
}

// ListServices возвращает все тарифные планы.
func (s *PostgresStore) ListServices(ctx context.Context) ([]model.ServicePackage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", classify(err))
	}
	defer rows.Close()

	var res []model.ServicePackage
	for rows.Next() {
		sp, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res = append(res, *sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", classify(err))
	}
	return res, nil
}

// CountServiceOrders возвращает число неотменённых заказов услуги с момента since.
func (s *PostgresStore) CountServiceOrders(ctx context.Context, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders
		 WHERE service_id = $1 AND status <> $2 AND created_at >= $3`,
		serviceID, string(model.OrderStatusCancelled), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count service orders: %w", classify(err))
	}
	return count, nil
}

// CountUserServiceOrders возвращает число неотменённых заказов пользователя
// по услуге с момента since.
func (s *PostgresStore) CountUserServiceOrders(ctx context.Context, userID int64, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders
		 WHERE user_id = $1 AND service_id = $2 AND status <> $3 AND created_at >= $4`,
		userID, serviceID, string(model.OrderStatusCancelled), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user service orders: %w", classify(err))
	}
	return count, nil
}

// LastUserServiceOrderAt возвращает время последнего неотменённого заказа
// пользователя по услуге.
func (s *PostgresStore) LastUserServiceOrderAt(ctx context.Context, userID int64, serviceID string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(created_at) FROM orders
		 WHERE user_id = $1 AND service_id = $2 AND status <> $3`,
		userID, serviceID, string(model.OrderStatusCancelled),
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last user service order: %w", classify(err))
	}
	return last, nil
}
