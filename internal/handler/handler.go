// Package handler содержит HTTP-обработчики API SMM-панели.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/service"
	"github.com/mmeshcher/smmpanel-system/internal/store"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, name, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error

	PlaceOrder(ctx context.Context, userID int64, serviceID, targetURL string, quantity int, couponCode string) (string, float64, error)
	CancelOrder(ctx context.Context, userID, orderID int64) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, updatedBy string) error
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)

	CreateDepositRequest(ctx context.Context, userID int64, amount float64, utr, senderUPI, couponCode string) (*model.DepositRequest, error)
	ProcessDepositRequest(ctx context.Context, requestID int64, status model.DepositStatus) error
	ListDepositRequests(ctx context.Context) ([]model.DepositRequest, error)
	ListDepositRequestsByUser(ctx context.Context, userID int64) ([]model.DepositRequest, error)

	AdjustWallet(ctx context.Context, userID int64, amount float64, description string) error
	ListTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)

	ValidateCouponCode(ctx context.Context, code string, want model.CouponType) (*model.Coupon, error)
	CreateCoupon(ctx context.Context, c *model.Coupon) (*model.Coupon, error)
	DeleteCoupon(ctx context.Context, id int64) error
	ListCoupons(ctx context.Context) ([]model.Coupon, error)

	CreateService(ctx context.Context, sp *model.ServicePackage) (*model.ServicePackage, error)
	UpdateService(ctx context.Context, sp *model.ServicePackage) error
	DeleteService(ctx context.Context, id string) error
	ListServices(ctx context.Context) ([]model.ServicePackage, error)

	GetDashboardStats(ctx context.Context) (*model.DashboardStats, error)
}

// Handler реализует HTTP-обработчики API SMM-панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит типизированные ошибки в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, store.ErrUserExists),
		errors.Is(err, store.ErrDepositProcessed),
		errors.Is(err, service.ErrOrderNotCancellable):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, store.ErrInsufficientBalance):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, service.ErrSuspended):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, store.ErrCouponInvalid),
		errors.Is(err, store.ErrCouponLimitReached),
		errors.Is(err, store.ErrCouponExpired),
		errors.Is(err, service.ErrCouponTypeMismatch),
		errors.Is(err, service.ErrQuantityOutOfRange),
		errors.Is(err, service.ErrOfferExpired),
		errors.Is(err, service.ErrOfferSoldOut),
		errors.Is(err, service.ErrDailyLimitReached),
		errors.Is(err, service.ErrUserDailyLimitReached),
		errors.Is(err, service.ErrCooldownActive):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrUnavailable):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResponse struct {
	ID            int64   `json:"id"`
	DisplayID     string  `json:"displayId"`
	Email         string  `json:"email"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	WalletBalance float64 `json:"walletBalance"`
	TotalSpent    float64 `json:"totalSpent"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		DisplayID:     u.DisplayID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          string(u.Role),
		WalletBalance: u.WalletBalance,
		TotalSpent:    u.TotalSpent,
		Status:        string(u.Status),
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	writeJSON(w, toUserResponse(u))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	writeJSON(w, toUserResponse(u))
}

// Logout сбрасывает cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// GetProfile возвращает профиль и баланс текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, toUserResponse(u))
}

type serviceResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	UnitName     string  `json:"unitName"`
	Rate         float64 `json:"rate"`
	RateQuantity int     `json:"rateQuantity"`
	MinQuantity  int     `json:"minQuantity"`
	MaxQuantity  int     `json:"maxQuantity"`
	ServiceType  string  `json:"serviceType"`

	IsLimitedOffer     bool    `json:"isLimitedOffer"`
	ExpiryDate         *string `json:"expiryDate,omitempty"`
	TotalLimit         int     `json:"totalLimit,omitempty"`
	DailyLimit         int     `json:"dailyLimit,omitempty"`
	UserDailyLimit     int     `json:"userDailyLimit,omitempty"`
	CooldownMinutes    int     `json:"cooldownMinutes,omitempty"`
	CurrentOrdersCount int     `json:"currentOrdersCount"`
}

func toServiceResponse(sp model.ServicePackage) serviceResponse {
	resp := serviceResponse{
		ID:                 sp.ID,
		Title:              sp.Title,
		Description:        sp.Description,
		UnitName:           sp.UnitName,
		Rate:               sp.Rate,
		RateQuantity:       sp.RateQuantity,
		MinQuantity:        sp.MinQuantity,
		MaxQuantity:        sp.MaxQuantity,
		ServiceType:        sp.ServiceType,
		IsLimitedOffer:     sp.IsLimitedOffer,
		TotalLimit:         sp.TotalLimit,
		DailyLimit:         sp.DailyLimit,
		UserDailyLimit:     sp.UserDailyLimit,
		CooldownMinutes:    sp.CooldownMinutes,
		CurrentOrdersCount: sp.CurrentOrdersCount,
	}
	if sp.ExpiryDate != nil {
		s := sp.ExpiryDate.Format(time.RFC3339)
		resp.ExpiryDate = &s
	}
	return resp
}

// ListServices возвращает каталог услуг. Доступен без авторизации.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.ListServices(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]serviceResponse, 0, len(services))
	for _, sp := range services {
		resp = append(resp, toServiceResponse(sp))
	}
	writeJSON(w, resp)
}

type placeOrderRequest struct {
	ServiceID  string `json:"serviceId"`
	TargetURL  string `json:"targetUrl"`
	Quantity   int    `json:"quantity"`
	CouponCode string `json:"couponCode"`
}

type placeOrderResponse struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

// PlaceOrder размещает заказ от имени текущего пользователя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ServiceID == "" || req.Quantity <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	displayID, amount, err := h.service.PlaceOrder(r.Context(), userID, req.ServiceID, req.TargetURL, req.Quantity, req.CouponCode)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(placeOrderResponse{OrderID: displayID, Amount: amount})
}

type orderResponse struct {
	ID             int64   `json:"id"`
	DisplayID      string  `json:"displayId"`
	UserID         int64   `json:"userId"`
	UserName       string  `json:"userName"`
	ServiceID      string  `json:"serviceId"`
	ServiceTitle   string  `json:"serviceTitle"`
	TargetURL      string  `json:"targetUrl"`
	Quantity       int     `json:"quantity"`
	Amount         float64 `json:"amount"`
	Status         string  `json:"status"`
	CouponCode     string  `json:"couponCode,omitempty"`
	IsLimitedOffer bool    `json:"isLimitedOffer"`
	LastUpdatedBy  string  `json:"lastUpdatedBy,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

func toOrderResponses(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			ID:             o.ID,
			DisplayID:      o.DisplayID,
			UserID:         o.UserID,
			UserName:       o.UserName,
			ServiceID:      o.ServiceID,
			ServiceTitle:   o.ServiceTitle,
			TargetURL:      o.TargetURL,
			Quantity:       o.Quantity,
			Amount:         o.Amount,
			Status:         string(o.Status),
			CouponCode:     o.CouponCode,
			IsLimitedOffer: o.IsLimitedOffer,
			LastUpdatedBy:  o.LastUpdatedBy,
			CreatedAt:      o.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

// GetOrders возвращает заказы текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, toOrderResponses(orders))
}

// CancelOrder отменяет заказ текущего пользователя с возвратом средств.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelOrder(r.Context(), userID, orderID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type transactionResponse struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	RelatedID   string  `json:"relatedId,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

// GetTransactions возвращает историю движений средств текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txs, err := h.service.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, transactionResponse{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      t.Amount,
			Description: t.Description,
			Status:      t.Status,
			RelatedID:   t.RelatedID,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, resp)
}

type depositRequestBody struct {
	Amount     float64 `json:"amount"`
	UTR        string  `json:"utr"`
	SenderUPI  string  `json:"senderUpi"`
	CouponCode string  `json:"couponCode"`
}

type depositResponse struct {
	ID          int64   `json:"id"`
	DisplayID   string  `json:"displayId"`
	UserID      int64   `json:"userId"`
	UserName    string  `json:"userName"`
	Amount      float64 `json:"amount"`
	BonusAmount float64 `json:"bonusAmount"`
	UTR         string  `json:"utr"`
	SenderUPI   string  `json:"senderUpi"`
	Status      string  `json:"status"`
	CouponCode  string  `json:"couponCode,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func toDepositResponses(deposits []model.DepositRequest) []depositResponse {
	resp := make([]depositResponse, 0, len(deposits))
	for _, d := range deposits {
		resp = append(resp, depositResponse{
			ID:          d.ID,
			DisplayID:   d.DisplayID,
			UserID:      d.UserID,
			UserName:    d.UserName,
			Amount:      d.Amount,
			BonusAmount: d.BonusAmount,
			UTR:         d.UTR,
			SenderUPI:   d.SenderUPI,
			Status:      string(d.Status),
			CouponCode:  d.CouponCode,
			CreatedAt:   d.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

// CreateDeposit создаёт заявку на пополнение от текущего пользователя.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req depositRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 || req.UTR == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateDepositRequest(r.Context(), userID, req.Amount, req.UTR, req.SenderUPI, req.CouponCode)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toDepositResponses([]model.DepositRequest{*created})[0])
}

// GetDeposits возвращает заявки на пополнение текущего пользователя.
func (h *Handler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	deposits, err := h.service.ListDepositRequestsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(deposits) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, toDepositResponses(deposits))
}

type validateCouponRequest struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

type validateCouponResponse struct {
	Code    string  `json:"code"`
	Percent float64 `json:"percent"`
	Type    string  `json:"type"`
}

// ValidateCoupon проверяет применимость купона без его использования.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Code == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	want := model.CouponType(req.Type)
	if want == "" {
		want = model.CouponDiscount
	}

	c, err := h.service.ValidateCouponCode(r.Context(), req.Code, want)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, validateCouponResponse{Code: c.Code, Percent: c.Percent, Type: string(c.Type)})
}
