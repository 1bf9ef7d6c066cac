// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// maxEventBodySize はイベントペイロードの最大サイズ。
const maxEventBodySize = 1 << 20 // 1MB

// EventNormalizer は接続イベントの正規化インターフェース。
type EventNormalizer interface {
	Normalize(payload []byte, headers http.Header, binding map[string]any) (*model.ConnectionEvent, error)
}

// PresenceEventService は正規化済みイベントの適用インターフェース。
type PresenceEventService interface {
	HandleEvent(ctx context.Context, event *model.ConnectionEvent) error
}

// EventHandler はリアルタイムトランスポートからの接続イベントWebhookを処理する。
type EventHandler struct {
	normalizer EventNormalizer
	service    PresenceEventService
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(normalizer EventNormalizer, service PresenceEventService) *EventHandler {
	return &EventHandler{
		normalizer: normalizer,
		service:    service,
	}
}

// HandleEvent は接続イベントを受け付ける。
// POST /api/events
// 解釈不能なイベントとアクター未解決は400、プレゼンスに影響しないイベントは204。
func (h *EventHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodySize))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの読み取りに失敗しました"))
		return
	}

	event, err := h.normalizer.Normalize(body, r.Header, nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// user/unknownフェーズはプレゼンスに影響しない
	if event.Phase == model.PhaseUser || event.Phase == model.PhaseUnknown {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.service.HandleEvent(r.Context(), event); err != nil {
		// Webhookの送信元にはリトライさせない。アクター未解決は400として返す
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeActorNotFound {
			slog.Warn("接続イベントのアクターを解決できませんでした",
				slog.String("actor_key", event.ActorKey),
				slog.String("phase", string(event.Phase)),
			)
			writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"phase":     string(event.Phase),
		"actor_key": event.ActorKey,
	})
}
