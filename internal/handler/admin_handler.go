package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/worker/reconcile"
)

// Reconciler はオンデマンド照合の実行インターフェース。
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconcile.Result, error)
}

// AdminHandler は管理用エンドポイントのHTTPハンドラー。
type AdminHandler struct {
	reconciler Reconciler
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(reconciler Reconciler) *AdminHandler {
	return &AdminHandler{reconciler: reconciler}
}

// RunReconcile は照合を1サイクル実行し、結果レポートを返す。
// POST /api/admin/reconcile
func (h *AdminHandler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
