package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler は照合ジョブを固定間隔で実行するスケジューラ。
type Scheduler struct {
	job    *Job
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(job *Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		job:    job,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("照合スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if _, err := s.job.Reconcile(ctx); err != nil {
		s.logger.Error("照合サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("照合スケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.job.Reconcile(ctx); err != nil {
				s.logger.Error("照合サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
