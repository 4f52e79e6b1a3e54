package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/marketplace/internal/auth"
	"github.com/hitoshi/marketplace/internal/cart"
	"github.com/hitoshi/marketplace/internal/catalog"
	"github.com/hitoshi/marketplace/internal/config"
	"github.com/hitoshi/marketplace/internal/database"
	"github.com/hitoshi/marketplace/internal/handler"
	"github.com/hitoshi/marketplace/internal/logger"
	"github.com/hitoshi/marketplace/internal/metrics"
	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/notification"
	"github.com/hitoshi/marketplace/internal/order"
	"github.com/hitoshi/marketplace/internal/payment"
	"github.com/hitoshi/marketplace/internal/points"
	"github.com/hitoshi/marketplace/internal/repository"
	"github.com/hitoshi/marketplace/internal/security"
	"github.com/hitoshi/marketplace/internal/user"
	"github.com/hitoshi/marketplace/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/marketplace/internal/worker/fetch"
	"github.com/hitoshi/marketplace/internal/worker/outbox"
)

// cleanupInterval はクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドがない場合はAPIサーバーとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// setup は設定を読み込み、ログレベルとファイル出力を設定値に合わせる。
// 戻り値のio.Closerはコマンド終了時に閉じる。
func setup(w io.Writer, cmd Command) (*config.Config, io.Closer, error) {
	cfg, err := Init(w)
	if err != nil {
		return nil, nil, fmt.Errorf("initialization failed: %w", err)
	}

	closer := logger.Configure(w, logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return cfg, closer, nil
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はアプリケーションのメトリクスとGoランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouter は全依存関係をワイヤリングしてAPIルーターを構築する。
// 戻り値のRateLimiterはシャットダウン時に停止する。
func buildRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, collector *metrics.Collector) (http.Handler, *middleware.RateLimiter) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	productRepo := repository.NewPostgresProductRepo(db)
	feedRepo := repository.NewPostgresCatalogFeedRepo(db)
	cartRepo := repository.NewPostgresCartRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)
	notifRepo := repository.NewPostgresNotificationRepo(db)
	pointsRepo := repository.NewPostgresPointsRepo(db)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewDescriptionSanitizer()

	// 3. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	discoverer := catalog.NewDiscoverer(ssrfGuard, cfg.CatalogFetchTimeout, cfg.CatalogFetchMaxSize)
	catalogService := catalog.NewService(productRepo, feedRepo, discoverer, sanitizer)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)

	// 4. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:          slog.Default(),
		HealthChecker:   db,
		MetricsHandler:  metrics.Handler(reg),
		MetricsRecorder: collector,

		SessionFinder:     sessionRepo,
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		UserService:         user.NewService(userRepo, sessionRepo, orderRepo),
		CatalogService:      catalogService,
		CartService:         cart.NewService(cartRepo),
		OrderService:        order.NewService(orderRepo, paymentRepo, cfg.Currency, collector),
		PaymentService:      payment.NewService(orderRepo, paymentRepo, cfg.PaymentProofMaxSize, collector),
		NotificationService: notification.NewService(notifRepo),
		PointsService:       points.NewService(pointsRepo, sanitizer, collector),
	}

	return handler.NewRouter(deps), rateLimiter
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg, collector := newRegistry()
	router, rateLimiter := buildRouter(cfg, db, reg, collector)
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// workerJobs はワーカーモードで動かすジョブ一式。
type workerJobs struct {
	relay     *outbox.Relay
	scheduler *fetchpkg.Scheduler
	cleanup   *cleanup.CleanupJob
}

// buildWorkerJobs はアウトボックスリレー、カタログ取込スケジューラ、クリーンアップジョブを構築する。
func buildWorkerJobs(cfg *config.Config, db *sql.DB, collector *metrics.Collector) *workerJobs {
	productRepo := repository.NewPostgresProductRepo(db)
	feedRepo := repository.NewPostgresCatalogFeedRepo(db)
	outboxRepo := repository.NewPostgresOutboxRepo(db)
	notifRepo := repository.NewPostgresNotificationRepo(db)
	pointsRepo := repository.NewPostgresPointsRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewDescriptionSanitizer()

	// アウトボックスのイベントを通知作成とポイント付与に配送する
	relayCfg := outbox.DefaultRelayConfig()
	relayCfg.Interval = cfg.OutboxInterval
	relayCfg.BatchSize = cfg.OutboxBatchSize
	relayCfg.MaxAttempts = cfg.OutboxMaxAttempts
	relay := outbox.NewRelay(outboxRepo, slog.Default(), relayCfg, collector)

	notifier := notification.NewNotifier(notifRepo, sanitizer)
	for _, eventType := range notifier.EventTypes() {
		relay.Register(eventType, notifier.HandleEvent)
	}
	awarder := points.NewAwarder(pointsRepo, collector)
	relay.Register(model.EventOrderCompleted, awarder.HandleOrderCompleted)

	fetcher := fetchpkg.NewFetcher(
		feedRepo, productRepo, ssrfGuard, sanitizer, collector, slog.Default(),
		fetchpkg.FetcherConfig{
			Timeout:      cfg.CatalogFetchTimeout,
			MaxBodySize:  cfg.CatalogFetchMaxSize,
			DefaultStock: cfg.CatalogDefaultStock,
			Currency:     cfg.Currency,
		},
	)
	scheduler := fetchpkg.NewScheduler(feedRepo, fetcher, slog.Default(), fetchpkg.SchedulerConfig{
		MaxConcurrency: cfg.CatalogFetchMaxConcurrent,
	})

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cleanup.Config{
		NotificationRetentionDays: cfg.NotificationRetentionDays,
		OutboxRetentionDays:       cfg.OutboxRetentionDays,
	})

	return &workerJobs{relay: relay, scheduler: scheduler, cleanup: cleanupJob}
}

// runWorker はワーカーモードで起動する。
// onceがtrueの場合は各ジョブを1回ずつ実行して終了する（cronからの起動用）。
// それ以外はSIGINTまたはSIGTERMシグナルを受信するまで実行を継続する。
func runWorker(cfg *config.Config, once bool) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg, collector := newRegistry()
	jobs := buildWorkerJobs(cfg, db, collector)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if once {
		return jobs.runOnce(ctx)
	}

	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer metricsServer.Close()
	}

	slog.Info("worker starting",
		slog.Duration("outbox_interval", cfg.OutboxInterval),
		slog.Duration("catalog_fetch_interval", cfg.CatalogFetchInterval),
		slog.Int("max_concurrent", cfg.CatalogFetchMaxConcurrent),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		jobs.relay.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		jobs.cleanup.Start(ctx, cleanupInterval)
	}()

	// カタログ取込スケジューラをメインgoroutineで実行（ブロッキング）
	jobs.scheduler.Start(ctx, cfg.CatalogFetchInterval)
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runOnce は各ジョブを1回ずつ実行する。1つが失敗しても残りは実行する。
func (j *workerJobs) runOnce(ctx context.Context) error {
	var errs []error

	delivered, err := j.relay.RunOnce(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("outbox relay: %w", err))
	}
	if err := j.scheduler.RunOnce(ctx); err != nil {
		errs = append(errs, fmt.Errorf("catalog fetch: %w", err))
	}
	if err := j.cleanup.Run(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}

	slog.Info("worker single run completed",
		slog.Int("outbox_delivered", delivered),
		slog.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

// migrateOptions はmigrateサブコマンドのフラグ。
type migrateOptions struct {
	// Down は取り消すマイグレーション件数。0の場合は未適用分をすべて適用する。
	Down int
	// Status はスキーマバージョンを表示するだけで変更しない。
	Status bool
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, w io.Writer, opts migrateOptions) error {
	logger := slog.With(slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))

	switch {
	case opts.Status:
		status, err := database.GetMigrationStatus(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		fmt.Fprintf(w, "version=%d dirty=%t\n", status.Version, status.Dirty)
		return nil
	case opts.Down > 0:
		logger.Warn("rolling back database migrations", slog.Int("steps", opts.Down))
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.Down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		return nil
	default:
		logger.Info("running database migrations")
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	}
}

// healthcheckURL はローカルのAPIサーバーのヘルスチェックURLを返す。
func healthcheckURL(port string) string {
	return fmt.Sprintf("http://localhost:%s/health", port)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、200以外はエラーとする。
func runHealthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
