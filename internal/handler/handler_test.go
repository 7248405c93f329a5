package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/service"
	"github.com/mmeshcher/smmpanel-system/internal/store"
)

type testEnv struct {
	handler *Handler
	router  http.Handler
	mirror  *store.MirrorStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	mirror := store.NewMirrorStore(store.NewMemoryKV())
	svc := service.NewService(mirror, nil, logger.Sugar())
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, logger, auth)

	return &testEnv{
		handler: h,
		router:  h.SetupRouter(),
		mirror:  mirror,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email string) *http.Cookie {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/user/register", registerRequest{
		Email:    email,
		Name:     "Test User",
		Password: "secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, want %d", rec.Code, http.StatusOK)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no auth cookie after register")
	}
	return cookies[0]
}

func (e *testEnv) registerAdmin(t *testing.T) *http.Cookie {
	t.Helper()

	admin, err := e.mirror.CreateUser(context.Background(), &model.User{
		Email:        "admin@example.com",
		Name:         "Admin",
		PasswordHash: []byte{},
		Role:         model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	rec := httptest.NewRecorder()
	e.handler.authMiddleware.SetAuthCookie(rec, admin.ID, admin.Role)
	return rec.Result().Cookies()[0]
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/user/register", registerRequest{
		Email:    "user@example.com",
		Name:     "Test User",
		Password: "secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, want %d", rec.Code, http.StatusOK)
	}

	var u userResponse
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if u.DisplayID != "000001" {
		t.Fatalf("displayId = %q, want 000001", u.DisplayID)
	}

	rec = e.do(t, http.MethodPost, "/api/user/login", loginRequest{
		Email:    "user@example.com",
		Password: "secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = e.do(t, http.MethodPost, "/api/user/login", loginRequest{
		Email:    "user@example.com",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "user@example.com")

	rec := e.do(t, http.MethodPost, "/api/user/register", registerRequest{
		Email:    "user@example.com",
		Name:     "Other",
		Password: "secret",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestGetOrders_Unauthorized(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/user/orders", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.register(t, "user@example.com")

	rec := e.do(t, http.MethodGet, "/api/user/orders", nil, cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestPlaceOrder_InsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.register(t, "user@example.com")
	admin := e.registerAdmin(t)

	rec := e.do(t, http.MethodPost, "/api/admin/services", serviceRequest{
		Title:        "Followers",
		Rate:         100,
		RateQuantity: 1,
		MinQuantity:  1,
		MaxQuantity:  10,
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create service status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var sp serviceResponse
	if err := json.NewDecoder(rec.Body).Decode(&sp); err != nil {
		t.Fatalf("decode service: %v", err)
	}

	rec = e.do(t, http.MethodPost, "/api/user/orders", placeOrderRequest{
		ServiceID: sp.ID,
		Quantity:  1,
	}, cookie)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusPaymentRequired)
	}
}

func TestOrderLifecycleThroughAPI(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.register(t, "user@example.com")
	admin := e.registerAdmin(t)

	// администратор создаёт услугу и пополняет кошелёк пользователя
	rec := e.do(t, http.MethodPost, "/api/admin/services", serviceRequest{
		Title:        "Followers",
		Rate:         19.8,
		RateQuantity: 100,
		MinQuantity:  100,
		MaxQuantity:  10000,
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create service status = %d", rec.Code)
	}
	var sp serviceResponse
	_ = json.NewDecoder(rec.Body).Decode(&sp)

	rec = e.do(t, http.MethodPost, "/api/admin/users/1/balance", adjustWalletRequest{
		Amount:      500,
		Description: "manual top-up",
	}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust balance status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/user/orders", placeOrderRequest{
		ServiceID: sp.ID,
		TargetURL: "https://example.com/profile",
		Quantity:  1000,
	}, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order status = %d: %s", rec.Code, rec.Body.String())
	}
	var placed placeOrderResponse
	_ = json.NewDecoder(rec.Body).Decode(&placed)
	if placed.OrderID != "00001" {
		t.Fatalf("orderId = %q, want 00001", placed.OrderID)
	}
	if placed.Amount != 198 {
		t.Fatalf("amount = %v, want 198", placed.Amount)
	}

	rec = e.do(t, http.MethodGet, "/api/user/me", nil, cookie)
	var profile userResponse
	_ = json.NewDecoder(rec.Body).Decode(&profile)
	if profile.WalletBalance != 302 {
		t.Fatalf("balance = %v, want 302", profile.WalletBalance)
	}

	// отмена заказа возвращает средства
	rec = e.do(t, http.MethodGet, "/api/user/orders", nil, cookie)
	var orders []orderResponse
	_ = json.NewDecoder(rec.Body).Decode(&orders)
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}

	rec = e.do(t, http.MethodPost, "/api/user/orders/1/cancel", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/user/me", nil, cookie)
	_ = json.NewDecoder(rec.Body).Decode(&profile)
	if profile.WalletBalance != 500 {
		t.Fatalf("balance after refund = %v, want 500", profile.WalletBalance)
	}
}

func TestDepositFlowThroughAPI(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.register(t, "user@example.com")
	admin := e.registerAdmin(t)

	rec := e.do(t, http.MethodPost, "/api/admin/coupons", couponRequest{
		Code:    "TOPUP10",
		Percent: 10,
		Type:    string(model.CouponBonus),
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create coupon status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/user/deposits", depositRequestBody{
		Amount:     1000,
		UTR:        "UTR123",
		SenderUPI:  "user@upi",
		CouponCode: "TOPUP10",
	}, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create deposit status = %d: %s", rec.Code, rec.Body.String())
	}
	var dep depositResponse
	_ = json.NewDecoder(rec.Body).Decode(&dep)
	if dep.BonusAmount != 100 {
		t.Fatalf("bonusAmount = %v, want 100", dep.BonusAmount)
	}
	if dep.DisplayID != "0000001" {
		t.Fatalf("displayId = %q, want 0000001", dep.DisplayID)
	}

	rec = e.do(t, http.MethodPatch, "/api/admin/deposits/1", depositStatusRequest{
		Status: string(model.DepositStatusApproved),
	}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve deposit status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/user/me", nil, cookie)
	var profile userResponse
	_ = json.NewDecoder(rec.Body).Decode(&profile)
	if profile.WalletBalance != 1100 {
		t.Fatalf("balance = %v, want 1100", profile.WalletBalance)
	}
}

func TestAdminRoutes_ForbiddenForUser(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.register(t, "user@example.com")

	rec := e.do(t, http.MethodGet, "/api/admin/users", nil, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestValidateCoupon_Invalid(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.register(t, "user@example.com")

	rec := e.do(t, http.MethodPost, "/api/user/coupons/validate", validateCouponRequest{
		Code: "NOSUCH",
	}, cookie)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestAdminStats(t *testing.T) {
	e := newTestEnv(t)
	admin := e.registerAdmin(t)

	rec := e.do(t, http.MethodGet, "/api/admin/stats", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var stats model.DashboardStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalOrders != 0 {
		t.Fatalf("TotalOrders = %d, want 0", stats.TotalOrders)
	}
}
