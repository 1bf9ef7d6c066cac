// Package reconcile は接続レジストリと永続プレゼンスの照合ジョブを提供する。
// 取りこぼされた切断イベントや配信漏れによるずれを定期的に補正する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/realtime"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/repository"
)

// PresenceUpdater はプレゼンス補正の実行インターフェース。
type PresenceUpdater interface {
	SetOnline(ctx context.Context, actorKey string) error
	SetOffline(ctx context.Context, actorKey string) error
}

// Registry は接続レジストリのメンバー列挙インターフェース。
type Registry interface {
	ListGroupMembers(ctx context.Context, groupID string) ([]realtime.GroupMember, error)
}

// MetricsRecorder は照合ジョブのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordReconcileRun(corrected int)
	RecordReconcileError()
}

// Result は照合1サイクルの実行結果。
type Result struct {
	Corrected int      `json:"corrected"` // 補正した件数
	Warnings  []string `json:"warnings,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Job は接続レジストリを真実としてプレゼンスレコードを両方向に補正する照合ジョブ。
// レジストリに接続があるのにofflineならonlineへ、
// レジストリに接続がないのにonlineならofflineへ補正する。
// アクターごとの補正は独立しており、1件の失敗が他の補正を妨げない。
type Job struct {
	employees repository.EmployeeRepository
	presence  PresenceUpdater
	registry  Registry
	group     string
	metrics   MetricsRecorder
	logger    *slog.Logger

	mu sync.Mutex // 同時実行の抑止。実行中の場合は新しいサイクルをスキップする
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	employees repository.EmployeeRepository,
	presence PresenceUpdater,
	registry Registry,
	group string,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Job {
	return &Job{
		employees: employees,
		presence:  presence,
		registry:  registry,
		group:     group,
		metrics:   metrics,
		logger:    logger,
	}
}

// Reconcile は照合を1サイクル実行し、補正件数と警告・エラーを返す。
// 既に別のサイクルが実行中の場合は何もせずその旨を警告として返す。
func (j *Job) Reconcile(ctx context.Context) (*Result, error) {
	if !j.mu.TryLock() {
		j.logger.Warn("照合サイクルが既に実行中のためスキップします")
		return &Result{Warnings: []string{"前回の照合サイクルが実行中のためスキップしました"}}, nil
	}
	defer j.mu.Unlock()

	start := time.Now()
	result := &Result{}

	members, err := j.registry.ListGroupMembers(ctx, j.group)
	if err != nil {
		if j.metrics != nil {
			j.metrics.RecordReconcileError()
		}
		return nil, fmt.Errorf("接続レジストリの列挙に失敗しました: %w", err)
	}

	employees, err := j.employees.ListActiveWithStatus(ctx)
	if err != nil {
		if j.metrics != nil {
			j.metrics.RecordReconcileError()
		}
		return nil, fmt.Errorf("従業員一覧の取得に失敗しました: %w", err)
	}

	connected := j.resolveMembers(members, employees, result)

	for _, emp := range employees {
		inRegistry := connected[emp.ID]

		switch {
		case inRegistry && emp.Status != model.StatusOnline:
			// 接続があるのにofflineとして記録されている → online補正
			if err := j.presence.SetOnline(ctx, emp.ID); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s のonline補正に失敗: %v", emp.Email, err))
				continue
			}
			result.Corrected++

		case !inRegistry && emp.Status == model.StatusOnline:
			// onlineとして記録されているのに接続がない → offline補正
			if err := j.presence.SetOffline(ctx, emp.ID); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s のoffline補正に失敗: %v", emp.Email, err))
				continue
			}
			result.Corrected++
		}
	}

	if j.metrics != nil {
		j.metrics.RecordReconcileRun(result.Corrected)
		if len(result.Errors) > 0 {
			j.metrics.RecordReconcileError()
		}
	}

	duration := time.Since(start)
	j.logger.Info("照合サイクルが完了しました",
		slog.Int("corrected", result.Corrected),
		slog.Int("warnings", len(result.Warnings)),
		slog.Int("errors", len(result.Errors)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return result, nil
}

// resolveMembers はレジストリメンバーのアクターキーを従業員IDに解決し、
// 接続中の従業員IDの集合を返す。どの従業員にも対応しないキーは警告として記録する。
func (j *Job) resolveMembers(members []realtime.GroupMember, employees []repository.EmployeeWithStatus, result *Result) map[string]bool {
	byKey := make(map[string]string, len(employees)*3)
	for _, emp := range employees {
		byKey[emp.ID] = emp.ID
		if emp.AzureADID != "" {
			byKey[emp.AzureADID] = emp.ID
		}
		if emp.Email != "" {
			byKey[strings.ToLower(emp.Email)] = emp.ID
		}
	}

	connected := make(map[string]bool)
	for _, member := range members {
		key := strings.ToLower(strings.TrimSpace(member.ActorKey))
		if id, ok := byKey[key]; ok {
			connected[id] = true
			continue
		}
		if id, ok := byKey[member.ActorKey]; ok {
			connected[id] = true
			continue
		}
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("レジストリのキー %q はどの従業員にも対応しません", member.ActorKey))
	}
	return connected
}
