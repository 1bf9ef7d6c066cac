// Package presence はアクターのプレゼンス追跡のドメインロジックを提供する。
// プレゼンスレコードの更新・接続区間履歴・変更のリアルタイム配信を扱う。
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/repository"
)

// Broadcaster はプレゼンス変化のリアルタイム配信ポート。
type Broadcaster interface {
	PushToGroup(ctx context.Context, groupID string, payload any) error
}

// Registry は接続レジストリの登録・削除ポート。
type Registry interface {
	Register(ctx context.Context, groupID, actorKey, connectionID string) error
	Unregister(ctx context.Context, groupID, actorKey, connectionID string) error
}

// MetricsRecorder はプレゼンス関連メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordPresenceTransition(status model.PresenceStatus)
	RecordBroadcastFailure()
}

// Service はプレゼンス管理のサービス層。
// ステータス変更は永続化トランザクションのコミット後にブロードキャストされ、
// 配信失敗は記録されるのみで永続化された状態変更をロールバックしない。
type Service struct {
	employees   repository.EmployeeRepository
	presence    repository.PresenceRepository
	broadcaster Broadcaster
	registry    Registry
	group       string
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// groupはプレゼンス配信と接続レジストリに使用するグループ名。
func NewService(
	employees repository.EmployeeRepository,
	presenceRepo repository.PresenceRepository,
	broadcaster Broadcaster,
	registry Registry,
	group string,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		employees:   employees,
		presence:    presenceRepo,
		broadcaster: broadcaster,
		registry:    registry,
		group:       group,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// SetOnline はアクターをonlineにする。
// キー（内部ID / ディレクトリID / メールアドレス）が解決できない場合は
// ActorNotFoundエラーを返す。レコード更新と区間作成は単一トランザクション。
func (s *Service) SetOnline(ctx context.Context, actorKey string) error {
	emp, err := s.employees.Resolve(ctx, actorKey)
	if err != nil {
		return fmt.Errorf("アクターの解決に失敗しました: %w", err)
	}
	if emp == nil {
		return model.NewActorNotFoundError(actorKey)
	}

	at := s.now().UTC()
	if err := s.presence.SetOnline(ctx, emp.ID, at); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordPresenceTransition(model.StatusOnline)
	}
	s.broadcastChange(ctx, emp, model.StatusOnline, at)

	return nil
}

// SetOffline はアクターをofflineにする。
// 重複した切断イベントは履歴に対してno-opとなり、エラーにはならない。
func (s *Service) SetOffline(ctx context.Context, actorKey string) error {
	emp, err := s.employees.Resolve(ctx, actorKey)
	if err != nil {
		return fmt.Errorf("アクターの解決に失敗しました: %w", err)
	}
	if emp == nil {
		return model.NewActorNotFoundError(actorKey)
	}

	at := s.now().UTC()
	if err := s.presence.SetOffline(ctx, emp.ID, at); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordPresenceTransition(model.StatusOffline)
	}
	s.broadcastChange(ctx, emp, model.StatusOffline, at)

	return nil
}

// GetStatus はアクターの現在ステータスを返す。
// キーが解決できない場合もエラーにせずofflineを返す。
func (s *Service) GetStatus(ctx context.Context, actorKey string) (model.PresenceStatus, error) {
	emp, err := s.employees.Resolve(ctx, actorKey)
	if err != nil {
		return "", fmt.Errorf("アクターの解決に失敗しました: %w", err)
	}
	if emp == nil {
		return model.StatusOffline, nil
	}
	return s.presence.GetStatus(ctx, emp.ID)
}

// HandleEvent は正規化済みの接続イベントを適用する。
// connect/connected → online + レジストリ登録、disconnected → offline + レジストリ削除。
// user/unknownはプレゼンスに影響しない。
func (s *Service) HandleEvent(ctx context.Context, event *model.ConnectionEvent) error {
	switch event.Phase {
	case model.PhaseConnect, model.PhaseConnected:
		if err := s.SetOnline(ctx, event.ActorKey); err != nil {
			return err
		}
		if event.ConnectionID != "" {
			if err := s.registry.Register(ctx, s.group, event.ActorKey, event.ConnectionID); err != nil {
				// レジストリはTTL付きのベストエフォート。失敗は照合ジョブが補正する
				s.logger.Warn("接続レジストリへの登録に失敗しました",
					slog.String("actor_key", event.ActorKey),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil

	case model.PhaseDisconnected:
		if err := s.SetOffline(ctx, event.ActorKey); err != nil {
			return err
		}
		if event.ConnectionID != "" {
			if err := s.registry.Unregister(ctx, s.group, event.ActorKey, event.ConnectionID); err != nil {
				s.logger.Warn("接続レジストリからの削除に失敗しました",
					slog.String("actor_key", event.ActorKey),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil

	default:
		// user/unknownイベントはプレゼンスに影響しない
		return nil
	}
}

// broadcastChange はステータス変化をプレゼンスグループへ配信する。
// 永続化コミット後のfire-and-forget: 失敗はログとメトリクスに記録するのみ。
func (s *Service) broadcastChange(ctx context.Context, emp *model.Employee, status model.PresenceStatus, at time.Time) {
	change := model.PresenceChange{
		EmployeeID: emp.ID,
		Email:      emp.Email,
		Status:     status,
		Timestamp:  at,
	}
	if err := s.broadcaster.PushToGroup(ctx, s.group, change); err != nil {
		if s.metrics != nil {
			s.metrics.RecordBroadcastFailure()
		}
		s.logger.Warn("プレゼンス変化のブロードキャストに失敗しました",
			slog.String("employee_id", emp.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
