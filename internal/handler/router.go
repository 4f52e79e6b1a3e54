package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/marketplace/internal/middleware"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	mountAuthRoutes(r, NewAuthHandler(service, config))
	return r
}

func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 運用
	HealthChecker   HealthChecker
	MetricsHandler  http.Handler
	MetricsRecorder middleware.RequestRecorder

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CookieSecure      bool
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	UserService         UserServiceInterface
	CatalogService      CatalogServiceInterface
	CartService         CartServiceInterface
	OrderService        OrderServiceInterface
	PaymentService      PaymentServiceInterface
	NotificationService NotificationServiceInterface
	PointsService       PointsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  公開API:    OptionalSession
//	  認証API:    Session → CSRF → RateLimit(General) [→ RateLimit(Checkout)] [→ RequireSeller]
//
// /health、/metrics、/auth/* はセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRequestIDHeaderMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.MetricsRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.MetricsRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusNotFound, notFoundError())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusMethodNotAllowed, methodNotAllowedError())
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	cartHandler := NewCartHandler(deps.CartService)
	orderHandler := NewOrderHandler(deps.OrderService)
	paymentHandler := NewPaymentHandler(deps.PaymentService)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	pointsHandler := NewPointsHandler(deps.PointsService)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	mountAuthRoutes(r, authHandler)

	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// 商品閲覧は未ログインでも利用できる
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))

		r.Get("/api/search", catalogHandler.Search)
		r.Get("/api/products", catalogHandler.Search)
		r.Get("/api/products/categories", catalogHandler.ListCategories)
		r.Get("/api/products/{id}", catalogHandler.GetProduct)
		r.Get("/api/rewards", pointsHandler.ListRewards)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ユーザー
		r.Route("/api/users/me", func(r chi.Router) {
			r.Get("/", userHandler.GetMe)
			r.Delete("/", userHandler.Withdraw)
			r.Post("/seller", userHandler.BecomeSeller)
		})

		// カート
		r.Route("/api/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Patch("/items/{itemID}", cartHandler.UpdateItem)
			r.Delete("/items/{itemID}", cartHandler.RemoveItem)
		})

		// チェックアウト（専用レート制限を追加）
		r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/api/checkout", orderHandler.Checkout)

		// 注文と支払い
		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", orderHandler.ListOrders)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", orderHandler.GetOrder)
				r.Post("/{action}", orderHandler.Transition)

				r.Route("/payment", func(r chi.Router) {
					r.Get("/", paymentHandler.GetPayment)
					r.Get("/proof", paymentHandler.GetProof)
					r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/proof", paymentHandler.UploadProof)
					r.Post("/reject", paymentHandler.RejectProof)
				})
			})
		})

		// 通知
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.ListNotifications)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Post("/read-all", notificationHandler.MarkAllRead)
			r.Post("/{id}/read", notificationHandler.MarkRead)
		})

		// ポイント
		r.Get("/api/points", pointsHandler.ListBalances)
		r.Get("/api/points/history", pointsHandler.ListLedger)
		r.Post("/api/rewards/{id}/redeem", pointsHandler.Redeem)

		// 出品者専用
		r.Route("/api/seller", func(r chi.Router) {
			r.Use(middleware.NewRequireSellerMiddleware(deps.UserFinder))

			r.Get("/listings", catalogHandler.ListSellerListings)
			r.Post("/listings", catalogHandler.CreateListing)
			r.Patch("/listings/{id}", catalogHandler.UpdateListing)

			r.Get("/catalog-feeds", catalogHandler.ListCatalogFeeds)
			r.Post("/catalog-feeds", catalogHandler.RegisterCatalogFeed)
			r.Delete("/catalog-feeds/{id}", catalogHandler.DeleteCatalogFeed)

			r.Get("/rewards-program", pointsHandler.GetProgram)
			r.Put("/rewards-program", pointsHandler.PutProgram)
			r.Get("/rewards", pointsHandler.ListSellerRewards)
			r.Post("/rewards", pointsHandler.CreateReward)
			r.Patch("/rewards/{id}", pointsHandler.UpdateReward)
			r.Get("/redemptions", pointsHandler.ListRedemptions)
		})
	})

	return r
}
