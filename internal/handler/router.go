package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/metrics"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/middleware"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DB を受け付けることができる。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// プレゼンス
	Normalizer      EventNormalizer
	PresenceService PresenceEventService
	PresenceLister  PresenceLister

	// コマンド配信
	CommandService CommandServiceInterface

	// 照合
	Reconciler Reconciler

	// メトリクス
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → CallerMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// イベントWebhook（/api/events）とヘルスチェック・メトリクスは
// 呼び出し元識別の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())

	eventHandler := NewEventHandler(deps.Normalizer, deps.PresenceService)
	presenceHandler := NewPresenceHandler(deps.PresenceLister)
	commandHandler := NewCommandHandler(deps.CommandService)
	adminHandler := NewAdminHandler(deps.Reconciler)

	// --- 呼び出し元識別が不要なルート ---

	// ヘルスチェック
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Prometheusメトリクス
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// 接続イベントWebhook（送信元はリアルタイムトランスポート）
	r.Post("/api/events", eventHandler.HandleEvent)

	// --- 呼び出し元識別が必要なルート ---
	// ミドルウェアスタック: Caller → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCallerMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プレゼンス読み取り
		r.Get("/api/presence", presenceHandler.ListPresence)

		// コマンド配信
		r.Route("/api/commands", func(r chi.Router) {
			// POST /api/commands - コマンド発行（発行専用レート制限を追加）
			r.With(deps.RateLimiter.CommandIssueMiddleware()).Post("/", commandHandler.IssueCommand)

			r.Get("/pending", commandHandler.FetchPending)
			r.Post("/ack", commandHandler.Acknowledge)
		})

		// 管理
		r.Post("/api/admin/reconcile", adminHandler.RunReconcile)
	})

	return r
}

// --- ヘルパー関数 ---

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeActorNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidCommand, model.ErrCodeInvalidEvent, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeCommandIDsMissing:
		return http.StatusConflict
	case model.ErrCodeNotAuthorizedAck:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
