package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/smmpanel-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware SMM-панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger.Sugar()))

	r.Get("/api/services", h.ListServices)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/me", h.GetProfile)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetOrders)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Get("/transactions", h.GetTransactions)

			r.Post("/deposits", h.CreateDeposit)
			r.Get("/deposits", h.GetDeposits)

			r.Post("/coupons/validate", h.ValidateCoupon)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Get("/users", h.AdminListUsers)
		r.Patch("/users/{id}/status", h.AdminSetUserStatus)
		r.Post("/users/{id}/balance", h.AdminAdjustWallet)
		r.Get("/users/{id}/transactions", h.AdminListUserTransactions)

		r.Get("/orders", h.AdminListOrders)
		r.Patch("/orders/{id}", h.AdminUpdateOrderStatus)

		r.Get("/deposits", h.AdminListDeposits)
		r.Patch("/deposits/{id}", h.AdminProcessDeposit)

		r.Post("/services", h.AdminCreateService)
		r.Put("/services/{id}", h.AdminUpdateService)
		r.Delete("/services/{id}", h.AdminDeleteService)

		r.Get("/coupons", h.AdminListCoupons)
		r.Post("/coupons", h.AdminCreateCoupon)
		r.Delete("/coupons/{id}", h.AdminDeleteCoupon)

		r.Get("/stats", h.AdminGetStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
