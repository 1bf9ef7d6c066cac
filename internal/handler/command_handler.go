package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/middleware"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// CommandServiceInterface はコマンドハンドラーが必要とするサービスインターフェース。
type CommandServiceInterface interface {
	// IssueCommand はコマンドを発行し、即時配信を試行したかを返す。
	IssueCommand(ctx context.Context, actorEmail string, commandType model.CommandType, issuedAt time.Time) (bool, error)
	// FetchForActor はアクターの最新の未ACKコマンドを返す。失効済みの場合はnil。
	FetchForActor(ctx context.Context, actorKey string) (*model.PendingCommand, error)
	// Acknowledge は指定IDのコマンドをACK済みにする。
	Acknowledge(ctx context.Context, actorKey string, commandIDs []string) (int, error)
}

// CommandHandler はコマンド配信のHTTPハンドラー。
type CommandHandler struct {
	service CommandServiceInterface
}

// NewCommandHandler はCommandHandlerを生成する。
func NewCommandHandler(service CommandServiceInterface) *CommandHandler {
	return &CommandHandler{service: service}
}

// issueCommandRequest はコマンド発行リクエストのボディ。
type issueCommandRequest struct {
	Command  string `json:"command"`
	Email    string `json:"employeeEmail"`
	IssuedAt string `json:"timestamp,omitempty"`
}

// issueCommandResponse はコマンド発行レスポンス。
type issueCommandResponse struct {
	Delivered bool `json:"delivered"`
}

// pendingCommandResponse は保留コマンド取得レスポンス。
type pendingCommandResponse struct {
	Pending *commandView `json:"pending"`
}

// commandView は保留コマンドのAPI表現。
type commandView struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	IssuedAt time.Time `json:"issued_at"`
}

// acknowledgeRequest はACKリクエストのボディ。
type acknowledgeRequest struct {
	IDs []string `json:"ids"`
}

// acknowledgeResponse はACKレスポンス。
type acknowledgeResponse struct {
	Updated int `json:"updated"`
}

// IssueCommand はコマンド発行を処理する。
// POST /api/commands
func (h *CommandHandler) IssueCommand(w http.ResponseWriter, r *http.Request) {
	var req issueCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.Email == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("employeeEmailが空です"))
		return
	}

	var issuedAt time.Time
	if req.IssuedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.IssuedAt)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("timestampはRFC3339形式で指定してください"))
			return
		}
		issuedAt = parsed
	}

	delivered, err := h.service.IssueCommand(r.Context(), req.Email, model.CommandType(req.Command), issuedAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issueCommandResponse{Delivered: delivered})
}

// FetchPending は呼び出し元アクターの保留コマンドを返す。
// GET /api/commands/pending
func (h *CommandHandler) FetchPending(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "呼び出し元が識別されていません。",
			Category: "auth",
			Action:   "X-Actor-Keyヘッダーを付与してください。",
		})
		return
	}

	cmd, err := h.service.FetchForActor(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := pendingCommandResponse{}
	if cmd != nil {
		resp.Pending = &commandView{
			ID:       cmd.ID,
			Command:  string(cmd.Command),
			IssuedAt: cmd.IssuedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Acknowledge はコマンドのACKを処理する。
// POST /api/commands/ack
func (h *CommandHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "UNAUTHORIZED",
			Message:  "呼び出し元が識別されていません。",
			Category: "auth",
			Action:   "X-Actor-Keyヘッダーを付与してください。",
		})
		return
	}

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	updated, err := h.service.Acknowledge(r.Context(), caller, req.IDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acknowledgeResponse{Updated: updated})
}
