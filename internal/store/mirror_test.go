package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

func newTestMirror(t *testing.T) (*MirrorStore, *model.User) {
	t.Helper()

	m := NewMirrorStore(NewMemoryKV())
	u, err := m.CreateUser(context.Background(), &model.User{
		Email:        "user@example.com",
		Name:         "Test User",
		PasswordHash: []byte("hash"),
	})
	require.NoError(t, err)
	return m, u
}

func TestMirrorOrderLedgerConservation(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 500, "initial top-up"))

	displayID, err := m.PlaceOrder(ctx, &model.Order{
		UserID:       u.ID,
		ServiceID:    "000001",
		ServiceTitle: "Instagram Followers",
		Quantity:     1000,
		Amount:       198,
	})
	require.NoError(t, err)
	require.Equal(t, "00001", displayID)

	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 302, got.WalletBalance, 0.001)
	require.InDelta(t, 198, got.TotalSpent, 0.001)

	orders, err := m.ListOrdersByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, model.OrderStatusPending, orders[0].Status)

	require.NoError(t, m.UpdateOrderStatus(ctx, orders[0].ID, model.OrderStatusCancelled, "admin"))

	got, err = m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 500, got.WalletBalance, 0.001)
	require.InDelta(t, 0, got.TotalSpent, 0.001)

	txs, err := m.ListTransactionsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
}

func TestMirrorRefundIdempotence(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 100, "top-up"))

	_, err := m.PlaceOrder(ctx, &model.Order{UserID: u.ID, ServiceTitle: "Likes", Amount: 40})
	require.NoError(t, err)

	orders, err := m.ListOrdersByUser(ctx, u.ID)
	require.NoError(t, err)
	orderID := orders[0].ID

	require.NoError(t, m.UpdateOrderStatus(ctx, orderID, model.OrderStatusCancelled, "admin"))
	require.NoError(t, m.UpdateOrderStatus(ctx, orderID, model.OrderStatusCancelled, "admin"))

	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 100, got.WalletBalance, 0.001)

	// ровно один возврат в истории
	txs, err := m.ListTransactionsByUser(ctx, u.ID)
	require.NoError(t, err)
	refunds := 0
	for _, tx := range txs {
		if tx.Type == model.TransactionCredit && tx.RelatedID != "admin_adjustment" {
			refunds++
		}
	}
	require.Equal(t, 1, refunds)
}

func TestMirrorInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 10, "top-up"))

	_, err := m.PlaceOrder(ctx, &model.Order{UserID: u.ID, Amount: 10.01})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 10, got.WalletBalance, 0.001)

	orders, err := m.ListOrdersByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestMirrorDepositWithBonus(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	req, err := m.CreateDepositRequest(ctx, &model.DepositRequest{
		UserID:      u.ID,
		Amount:      1000,
		BonusAmount: 100,
		UTR:         "UTR123456",
		CouponCode:  "BONUS10",
	})
	require.NoError(t, err)
	require.Equal(t, "0000001", req.DisplayID)
	require.Equal(t, model.DepositStatusPending, req.Status)

	// заявка в статусе Pending денег не зачисляет
	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 0, got.WalletBalance, 0.001)

	require.NoError(t, m.ProcessDepositRequest(ctx, req.ID, model.DepositStatusApproved))
	// повторная обработка отклоняется и не зачисляет второй раз
	require.ErrorIs(t, m.ProcessDepositRequest(ctx, req.ID, model.DepositStatusApproved), ErrDepositProcessed)

	got, err = m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 1100, got.WalletBalance, 0.001)

	txs, err := m.ListTransactionsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, model.TransactionCredit, txs[0].Type)
	require.Contains(t, txs[0].Description, "UTR123456")
	require.Contains(t, txs[0].Description, "100.00")
}

func TestMirrorApprovedDepositCannotBeRejected(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	req, err := m.CreateDepositRequest(ctx, &model.DepositRequest{UserID: u.ID, Amount: 700})
	require.NoError(t, err)

	require.NoError(t, m.ProcessDepositRequest(ctx, req.ID, model.DepositStatusApproved))
	require.ErrorIs(t, m.ProcessDepositRequest(ctx, req.ID, model.DepositStatusRejected), ErrDepositProcessed)

	// статус и зачисление остаются согласованными
	deposits, err := m.ListDepositRequestsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, model.DepositStatusApproved, deposits[0].Status)

	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 700, got.WalletBalance, 0.001)
}

func TestMirrorRejectedDepositDoesNotCredit(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	req, err := m.CreateDepositRequest(ctx, &model.DepositRequest{UserID: u.ID, Amount: 500})
	require.NoError(t, err)

	require.NoError(t, m.ProcessDepositRequest(ctx, req.ID, model.DepositStatusRejected))

	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 0, got.WalletBalance, 0.001)

	txs, err := m.ListTransactionsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestMirrorCouponExhaustion(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 1000, "top-up"))

	_, err := m.CreateCoupon(ctx, &model.Coupon{Code: "once10", Percent: 10, UsageLimit: 1})
	require.NoError(t, err)

	c, err := m.GetCouponByCode(ctx, "ONCE10")
	require.NoError(t, err)
	require.NoError(t, ValidateCoupon(c, time.Now()))

	_, err = m.PlaceOrder(ctx, &model.Order{UserID: u.ID, Amount: 90, CouponCode: "ONCE10"})
	require.NoError(t, err)

	c, err = m.GetCouponByCode(ctx, "once10")
	require.NoError(t, err)
	require.Equal(t, 1, c.UsedCount)
	require.ErrorIs(t, ValidateCoupon(c, time.Now()), ErrCouponLimitReached)
}

func TestValidateCouponExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.ErrorIs(t, ValidateCoupon(&model.Coupon{Code: "OLD", ExpiresAt: &past}, time.Now()), ErrCouponExpired)
	require.NoError(t, ValidateCoupon(&model.Coupon{Code: "FRESH", ExpiresAt: &future}, time.Now()))
	require.NoError(t, ValidateCoupon(&model.Coupon{Code: "FOREVER"}, time.Now()))
}

func TestMirrorDisplayIDSequences(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 1000, "top-up"))

	first, err := m.PlaceOrder(ctx, &model.Order{UserID: u.ID, Amount: 10})
	require.NoError(t, err)
	second, err := m.PlaceOrder(ctx, &model.Order{UserID: u.ID, Amount: 10})
	require.NoError(t, err)
	limited, err := m.PlaceOrder(ctx, &model.Order{UserID: u.ID, Amount: 10, IsLimitedOffer: true})
	require.NoError(t, err)

	require.Equal(t, "00001", first)
	require.Equal(t, "00002", second)
	// лимитированные заказы нумеруются независимо
	require.Equal(t, "L00001", limited)

	sp, err := m.CreateService(ctx, &model.ServicePackage{Title: "Views"})
	require.NoError(t, err)
	require.Equal(t, "000001", sp.ID)
}

func TestMirrorAdjustWallet(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	// нулевая корректировка не оставляет следов
	require.NoError(t, m.AdjustWallet(ctx, u.ID, 0, "noop"))
	txs, err := m.ListTransactionsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, txs)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 250, "goodwill credit"))
	require.NoError(t, m.AdjustWallet(ctx, u.ID, -50, "chargeback"))

	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 200, got.WalletBalance, 0.001)

	txs, err = m.ListTransactionsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		require.Contains(t, tx.Description, "Admin: ")
		require.Equal(t, "admin_adjustment", tx.RelatedID)
		require.Greater(t, tx.Amount, 0.0)
	}
}

func TestMirrorLimitedOfferCounters(t *testing.T) {
	ctx := context.Background()
	m, u := newTestMirror(t)

	require.NoError(t, m.AdjustWallet(ctx, u.ID, 1000, "top-up"))

	sp, err := m.CreateService(ctx, &model.ServicePackage{
		Title:          "Flash Sale",
		IsLimitedOffer: true,
		TotalLimit:     5,
	})
	require.NoError(t, err)

	_, err = m.PlaceOrder(ctx, &model.Order{
		UserID:         u.ID,
		ServiceID:      sp.ID,
		Amount:         10,
		IsLimitedOffer: true,
	})
	require.NoError(t, err)

	got, err := m.GetService(ctx, sp.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentOrdersCount)

	count, err := m.CountServiceOrders(ctx, sp.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	last, err := m.LastUserServiceOrderAt(ctx, u.ID, sp.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
}

func TestMirrorCreateUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMirror(t)

	_, err := m.CreateUser(ctx, &model.User{Email: "USER@example.com", Name: "Dup"})
	require.ErrorIs(t, err, ErrUserExists)
}
