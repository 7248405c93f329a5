// Package model содержит доменные сущности SMM-панели.
package model

import "time"

// UserRole описывает роль пользователя в системе.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// UserStatus описывает состояние учётной записи.
type UserStatus string

const (
	UserStatusActive    UserStatus = "Active"
	UserStatusSuspended UserStatus = "Suspended"
)

// User представляет пользователя панели с кошельком.
// WalletBalance и TotalSpent меняются только операциями журнала,
// каждая из которых создаёт запись Transaction.
type User struct {
	ID            int64
	DisplayID     string
	Email         string
	Name          string
	PasswordHash  []byte
	Role          UserRole
	WalletBalance float64
	TotalSpent    float64
	Status        UserStatus
	CreatedAt     time.Time
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusInProgress OrderStatus = "In Progress"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// Order описывает покупку услуги на указанную цель.
type Order struct {
	ID             int64
	DisplayID      string
	UserID         int64
	UserName       string
	ServiceID      string
	ServiceTitle   string
	TargetURL      string
	Quantity       int
	Amount         float64
	Status         OrderStatus
	CouponCode     string
	IsLimitedOffer bool
	LastUpdatedBy  string
	CreatedAt      time.Time
}

// TransactionType описывает направление движения средств.
type TransactionType string

const (
	TransactionCredit TransactionType = "Credit"
	TransactionDebit  TransactionType = "Debit"
)

// Transaction — запись аудита об изменении баланса кошелька.
type Transaction struct {
	ID          int64
	UserID      int64
	Type        TransactionType
	Amount      float64
	Description string
	Status      string
	RelatedID   string
	CreatedAt   time.Time
}

// DepositStatus описывает статус заявки на пополнение.
type DepositStatus string

const (
	DepositStatusPending  DepositStatus = "Pending"
	DepositStatusApproved DepositStatus = "Approved"
	DepositStatusRejected DepositStatus = "Rejected"
)

// DepositRequest — заявка пользователя на пополнение кошелька.
// BonusAmount фиксируется при создании заявки по бонусному купону.
type DepositRequest struct {
	ID          int64
	DisplayID   string
	UserID      int64
	UserName    string
	Amount      float64
	BonusAmount float64
	UTR         string
	SenderUPI   string
	Status      DepositStatus
	CouponCode  string
	CreatedAt   time.Time
}

// CouponType различает купоны скидки на заказ и бонуса к пополнению.
type CouponType string

const (
	CouponDiscount CouponType = "discount"
	CouponBonus    CouponType = "bonus"
)

// Coupon описывает промокод. UsageLimit == 0 означает отсутствие лимита,
// ExpiresAt == nil — бессрочный купон. Код хранится в верхнем регистре.
type Coupon struct {
	ID         int64
	Code       string
	Percent    float64
	Type       CouponType
	UsageLimit int
	UsedCount  int
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// ServicePackage описывает тарифный план услуги. Поля лимитированного
// предложения учитываются только при IsLimitedOffer.
type ServicePackage struct {
	ID           string
	Title        string
	Description  string
	UnitName     string
	Rate         float64
	RateQuantity int
	MinQuantity  int
	MaxQuantity  int
	ServiceType  string

	IsLimitedOffer     bool
	ExpiryDate         *time.Time
	TotalLimit         int
	DailyLimit         int
	UserDailyLimit     int
	CooldownMinutes    int
	CurrentOrdersCount int
}

// DashboardStats — сводные показатели для админ-панели.
type DashboardStats struct {
	TotalRevenue    float64 `json:"totalRevenue"`
	MonthlyRevenue  float64 `json:"monthlyRevenue"`
	TodaysRevenue   float64 `json:"todaysRevenue"`
	TotalOrders     int     `json:"totalOrders"`
	TodaysOrders    int     `json:"todaysOrders"`
	PendingOrders   int     `json:"pendingOrders"`
	CompletedOrders int     `json:"completedOrders"`

	LimitedOrders         int     `json:"limitedOrders"`
	LimitedPending        int     `json:"limitedPending"`
	LimitedCompleted      int     `json:"limitedCompleted"`
	LimitedCancelled      int     `json:"limitedCancelled"`
	LimitedRevenue        float64 `json:"limitedRevenue"`
	LimitedMonthlyRevenue float64 `json:"limitedMonthlyRevenue"`
}
