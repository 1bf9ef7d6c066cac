package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/repository"
)

// PresenceLister はプレゼンス付き従業員一覧の取得インターフェース。
// repository.EmployeeRepositoryの部分集合として定義する。
type PresenceLister interface {
	ListActiveWithStatus(ctx context.Context) ([]repository.EmployeeWithStatus, error)
}

// PresenceHandler はプレゼンス読み取りのHTTPハンドラー。
type PresenceHandler struct {
	lister PresenceLister
}

// NewPresenceHandler はPresenceHandlerを生成する。
func NewPresenceHandler(lister PresenceLister) *PresenceHandler {
	return &PresenceHandler{lister: lister}
}

// presenceEntry は従業員プレゼンスのAPI表現。
type presenceEntry struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// listPresenceResponse はプレゼンス一覧レスポンス。
type listPresenceResponse struct {
	Employees []presenceEntry `json:"employees"`
}

// ListPresence は全アクティブ従業員の現在ステータスを返す。
// GET /api/presence
func (h *PresenceHandler) ListPresence(w http.ResponseWriter, r *http.Request) {
	employees, err := h.lister.ListActiveWithStatus(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listPresenceResponse{Employees: make([]presenceEntry, 0, len(employees))}
	for _, emp := range employees {
		resp.Employees = append(resp.Employees, presenceEntry{
			ID:     emp.ID,
			Email:  emp.Email,
			Name:   emp.Name,
			Role:   string(emp.Role),
			Status: string(emp.Status),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
