package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/command"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/config"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/database"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/handler"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/logger"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/metrics"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/middleware"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/presence"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/realtime"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/repository"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/worker/reconcile"
)

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
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続とNATS接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. NATS接続（ブロードキャスト + 接続レジストリ）
	rt, err := realtime.Connect(realtime.Config{
		URL:        cfg.NATSURL,
		KVBucket:   cfg.ConnKVBucket,
		ConnTTL:    cfg.ConnTTL,
		ClientName: "presence-api",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer rt.Close()

	slog.Info("NATS connection established", slog.String("url", cfg.NATSURL))

	// 3. リポジトリの初期化
	empRepo := repository.NewPostgresEmployeeRepo(db)
	presRepo := repository.NewPostgresPresenceRepo(db)
	cmdRepo := repository.NewPostgresCommandRepo(db)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	presenceSvc := presence.NewService(
		empRepo, presRepo, rt, rt, cfg.PresenceGroup, collector, slog.Default(),
	)
	normalizer := presence.NewNormalizer(slog.Default())

	commandSvc := command.NewService(
		empRepo, presRepo, cmdRepo, rt, cfg.PendingCommandTTL, collector, slog.Default(),
	)

	reconcileJob := reconcile.NewJob(
		empRepo, presenceSvc, rt, cfg.PresenceGroup, collector, slog.Default(),
	)

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		Normalizer:      normalizer,
		PresenceService: presenceSvc,
		PresenceLister:  empRepo,

		CommandService: commandSvc,

		Reconciler: reconcileJob,

		MetricsGatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// コマンド発行要求のJetStreamコンシューマと照合スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. NATS接続
	rt, err := realtime.Connect(realtime.Config{
		URL:        cfg.NATSURL,
		KVBucket:   cfg.ConnKVBucket,
		ConnTTL:    cfg.ConnTTL,
		ClientName: "presence-worker",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer rt.Close()

	// 3. リポジトリとサービスの初期化
	empRepo := repository.NewPostgresEmployeeRepo(db)
	presRepo := repository.NewPostgresPresenceRepo(db)
	cmdRepo := repository.NewPostgresCommandRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	presenceSvc := presence.NewService(
		empRepo, presRepo, rt, rt, cfg.PresenceGroup, collector, slog.Default(),
	)
	commandSvc := command.NewService(
		empRepo, presRepo, cmdRepo, rt, cfg.PendingCommandTTL, collector, slog.Default(),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 4. コマンド発行要求のJetStreamコンシューマを起動
	consumer := command.NewConsumer(rt.Conn(), cfg.CommandSubject, commandSvc, slog.Default())
	stopConsumer, err := consumer.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start command consumer: %w", err)
	}
	defer stopConsumer()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.String("command_subject", cfg.CommandSubject),
	)

	// 5. 照合スケジューラをメインgoroutineで実行（ブロッキング）
	reconcileJob := reconcile.NewJob(
		empRepo, presenceSvc, rt, cfg.PresenceGroup, collector, slog.Default(),
	)
	scheduler := reconcile.NewScheduler(reconcileJob, slog.Default())
	scheduler.Start(ctx, cfg.ReconcileInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
