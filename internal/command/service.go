// Package command はコマンド配信のドメインロジックを提供する。
// 保留コマンドの発行・即時プッシュ・プル取得・ACKのオーケストレーションを行う。
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/repository"
)

// Broadcaster はコマンドのリアルタイム配信ポート。
type Broadcaster interface {
	PushToGroup(ctx context.Context, groupID string, payload any) error
}

// MetricsRecorder はコマンド関連メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordCommandIssued(command model.CommandType)
	RecordCommandDelivered()
	RecordCommandExpired()
	RecordCommandsAcknowledged(count int)
}

// Service はコマンド配信のサービス層。状態は持たず、オーケストレーションのみ行う。
// 配信はプッシュ1回のみで、リトライループは意図的に持たない:
// オフラインの宛先へのコマンドは保留され、クライアントのプル取得に委ねる。
type Service struct {
	employees   repository.EmployeeRepository
	presence    repository.PresenceRepository
	commands    repository.CommandRepository
	broadcaster Broadcaster
	ttl         time.Duration
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// ttlは未ACKコマンドの失効ウィンドウ。
func NewService(
	employees repository.EmployeeRepository,
	presence repository.PresenceRepository,
	commands repository.CommandRepository,
	broadcaster Broadcaster,
	ttl time.Duration,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		employees:   employees,
		presence:    presence,
		commands:    commands,
		broadcaster: broadcaster,
		ttl:         ttl,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// IssueCommand はコマンドを発行する。
// 既存の保留コマンドは置き換えられ、従業員ごとに残るコマンドは常に1件。
// 宛先がonlineの場合は専用グループへ即時プッシュし、配信を試行したかを返す。
// offlineの場合はプッシュせず、クライアントのプル取得に委ねる。
// アクター未解決はハードエラーとして呼び出し元へ伝播する
// （メッセージキュー経由の場合は再配送/デッドレターに乗せるため、握りつぶさない）。
func (s *Service) IssueCommand(ctx context.Context, actorEmail string, commandType model.CommandType, issuedAt time.Time) (bool, error) {
	if !commandType.IsValid() {
		return false, model.NewInvalidCommandError(string(commandType))
	}

	emp, err := s.employees.FindByEmail(ctx, actorEmail)
	if err != nil {
		return false, fmt.Errorf("アクターの解決に失敗しました: %w", err)
	}
	if emp == nil {
		return false, model.NewActorNotFoundError(actorEmail)
	}

	if issuedAt.IsZero() {
		issuedAt = s.now()
	}

	cmd := &model.PendingCommand{
		ID:         uuid.New().String(),
		EmployeeID: emp.ID,
		Command:    commandType,
		IssuedAt:   issuedAt.UTC(),
	}
	if err := s.commands.Replace(ctx, cmd); err != nil {
		return false, err
	}

	if s.metrics != nil {
		s.metrics.RecordCommandIssued(commandType)
	}

	status, err := s.presence.GetStatus(ctx, emp.ID)
	if err != nil {
		return false, err
	}
	if status != model.StatusOnline {
		s.logger.Info("宛先がofflineのためコマンドを保留します",
			slog.String("employee_id", emp.ID),
			slog.String("command", string(commandType)),
		)
		return false, nil
	}

	payload := model.CommandPayload{
		ID:       cmd.ID,
		Command:  cmd.Command,
		IssuedAt: cmd.IssuedAt,
	}
	if err := s.broadcaster.PushToGroup(ctx, CommandGroup(emp.ID), payload); err != nil {
		// 配信はベストエフォート。保留レコードが真実であり、プルで回収される
		s.logger.Warn("コマンドの即時プッシュに失敗しました",
			slog.String("employee_id", emp.ID),
			slog.String("command_id", cmd.ID),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	if err := s.commands.MarkPublished(ctx, cmd.ID, s.now().UTC()); err != nil {
		return false, err
	}

	if s.metrics != nil {
		s.metrics.RecordCommandDelivered()
	}

	return true, nil
}

// FetchForActor はアクターの最新の未ACKコマンドを返す。
// コマンドが存在しない場合、またはTTLを超過して失効している場合はnilを返す。
// 失効判定は常に読み取り時点の現在時刻に対して行う。
func (s *Service) FetchForActor(ctx context.Context, actorKey string) (*model.PendingCommand, error) {
	emp, err := s.employees.Resolve(ctx, actorKey)
	if err != nil {
		return nil, fmt.Errorf("アクターの解決に失敗しました: %w", err)
	}
	if emp == nil {
		return nil, model.NewActorNotFoundError(actorKey)
	}

	cmd, err := s.commands.FindLatestUnacknowledged(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, nil
	}

	if cmd.ExpiredAt(s.now(), s.ttl) {
		// レコードは削除しない。論理的に無効となるだけ
		if s.metrics != nil {
			s.metrics.RecordCommandExpired()
		}
		s.logger.Info("保留コマンドがTTLを超過しているため失効扱いにします",
			slog.String("command_id", cmd.ID),
			slog.Time("issued_at", cmd.IssuedAt),
		)
		return nil, nil
	}

	return cmd, nil
}

// Acknowledge は指定IDのコマンドをACK済みにし、更新件数を返す。
// 要求元はEmployeeロールのアクターでなければならない。
// 存在しないIDが1つでも含まれる場合はバッチ全体を拒否し、欠落IDを明示する。
func (s *Service) Acknowledge(ctx context.Context, actorKey string, commandIDs []string) (int, error) {
	emp, err := s.employees.Resolve(ctx, actorKey)
	if err != nil {
		return 0, fmt.Errorf("アクターの解決に失敗しました: %w", err)
	}
	if emp == nil {
		return 0, model.NewActorNotFoundError(actorKey)
	}
	if emp.Role != model.RoleEmployee {
		return 0, model.NewNotAuthorizedForAckError()
	}
	if len(commandIDs) == 0 {
		return 0, model.NewInvalidRequestError("コマンドIDが指定されていません")
	}

	updated, missing, err := s.commands.AcknowledgeBatch(ctx, commandIDs, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		return 0, model.NewCommandIDsNotFoundError(missing)
	}

	if s.metrics != nil {
		s.metrics.RecordCommandsAcknowledged(updated)
	}

	return updated, nil
}

// CommandGroup は従業員専用のコマンド配信グループ名を導出する。
func CommandGroup(employeeID string) string {
	return "commands." + employeeID
}
