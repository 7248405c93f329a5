package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// adminName возвращает имя администратора из контекста для отметки
// last_updated_by в заказах.
func (h *Handler) adminName(r *http.Request) string {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return "admin"
	}
	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		return "admin"
	}
	return u.Name
}

// AdminListUsers возвращает всех пользователей.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	writeJSON(w, resp)
}

type userStatusRequest struct {
	Status string `json:"status"`
}

// AdminSetUserStatus блокирует или разблокирует пользователя.
func (h *Handler) AdminSetUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req userStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.UserStatus(req.Status)
	if status != model.UserStatusActive && status != model.UserStatusSuspended {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetUserStatus(r.Context(), userID, status); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type adjustWalletRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// AdminAdjustWallet изменяет баланс пользователя на произвольную сумму.
func (h *Handler) AdminAdjustWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Description == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AdjustWallet(r.Context(), userID, req.Amount, req.Description); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AdminListOrders возвращает все заказы.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, toOrderResponses(orders))
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

var validOrderStatuses = map[model.OrderStatus]bool{
	model.OrderStatusPending:    true,
	model.OrderStatusInProgress: true,
	model.OrderStatusCompleted:  true,
	model.OrderStatusCancelled:  true,
}

// AdminUpdateOrderStatus меняет статус заказа. Переход в Cancelled
// возвращает средства на кошелёк владельца.
func (h *Handler) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.OrderStatus(req.Status)
	if !validOrderStatuses[status] {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateOrderStatus(r.Context(), orderID, status, h.adminName(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AdminListDeposits возвращает все заявки на пополнение.
func (h *Handler) AdminListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.service.ListDepositRequests(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, toDepositResponses(deposits))
}

type depositStatusRequest struct {
	Status string `json:"status"`
}

// AdminProcessDeposit подтверждает или отклоняет заявку на пополнение.
func (h *Handler) AdminProcessDeposit(w http.ResponseWriter, r *http.Request) {
	requestID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req depositStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.DepositStatus(req.Status)
	if status != model.DepositStatusApproved && status != model.DepositStatusRejected {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ProcessDepositRequest(r.Context(), requestID, status); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AdminListUserTransactions возвращает историю движений средств пользователя.
func (h *Handler) AdminListUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	txs, err := h.service.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
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

type serviceRequest struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	UnitName     string  `json:"unitName"`
	Rate         float64 `json:"rate"`
	RateQuantity int     `json:"rateQuantity"`
	MinQuantity  int     `json:"minQuantity"`
	MaxQuantity  int     `json:"maxQuantity"`
	ServiceType  string  `json:"serviceType"`

	IsLimitedOffer  bool       `json:"isLimitedOffer"`
	ExpiryDate      *time.Time `json:"expiryDate"`
	TotalLimit      int        `json:"totalLimit"`
	DailyLimit      int        `json:"dailyLimit"`
	UserDailyLimit  int        `json:"userDailyLimit"`
	CooldownMinutes int        `json:"cooldownMinutes"`
}

func (req *serviceRequest) toModel(id string) *model.ServicePackage {
	return &model.ServicePackage{
		ID:              id,
		Title:           req.Title,
		Description:     req.Description,
		UnitName:        req.UnitName,
		Rate:            req.Rate,
		RateQuantity:    req.RateQuantity,
		MinQuantity:     req.MinQuantity,
		MaxQuantity:     req.MaxQuantity,
		ServiceType:     req.ServiceType,
		IsLimitedOffer:  req.IsLimitedOffer,
		ExpiryDate:      req.ExpiryDate,
		TotalLimit:      req.TotalLimit,
		DailyLimit:      req.DailyLimit,
		UserDailyLimit:  req.UserDailyLimit,
		CooldownMinutes: req.CooldownMinutes,
	}
}

// AdminCreateService создаёт тарифный план.
func (h *Handler) AdminCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Rate < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateService(r.Context(), req.toModel(""))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toServiceResponse(*created))
}

// AdminUpdateService обновляет тарифный план.
func (h *Handler) AdminUpdateService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateService(r.Context(), req.toModel(id)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AdminDeleteService удаляет тарифный план.
func (h *Handler) AdminDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteService(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type couponRequest struct {
	Code       string     `json:"code"`
	Percent    float64    `json:"percent"`
	Type       string     `json:"type"`
	UsageLimit int        `json:"usageLimit"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

type couponResponse struct {
	ID         int64   `json:"id"`
	Code       string  `json:"code"`
	Percent    float64 `json:"percent"`
	Type       string  `json:"type"`
	UsageLimit int     `json:"usageLimit"`
	UsedCount  int     `json:"usedCount"`
	ExpiresAt  *string `json:"expiresAt,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

func toCouponResponse(c model.Coupon) couponResponse {
	resp := couponResponse{
		ID:         c.ID,
		Code:       c.Code,
		Percent:    c.Percent,
		Type:       string(c.Type),
		UsageLimit: c.UsageLimit,
		UsedCount:  c.UsedCount,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		s := c.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}

// AdminListCoupons возвращает все купоны.
func (h *Handler) AdminListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.service.ListCoupons(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]couponResponse, 0, len(coupons))
	for _, c := range coupons {
		resp = append(resp, toCouponResponse(c))
	}
	writeJSON(w, resp)
}

// AdminCreateCoupon создаёт купон.
func (h *Handler) AdminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Code == "" || req.Percent <= 0 || req.Percent > 100 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateCoupon(r.Context(), &model.Coupon{
		Code:       req.Code,
		Percent:    req.Percent,
		Type:       model.CouponType(req.Type),
		UsageLimit: req.UsageLimit,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toCouponResponse(*created))
}

// AdminDeleteCoupon удаляет купон.
func (h *Handler) AdminDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCoupon(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AdminGetStats возвращает сводные показатели панели.
func (h *Handler) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDashboardStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, stats)
}
