package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// PostgresPresenceRepo はPostgreSQLを使用したプレゼンスリポジトリ。
// presence_records（現在ステータス）とpresence_intervals（接続区間履歴）を管理する。
type PostgresPresenceRepo struct {
	db *sql.DB
}

// NewPostgresPresenceRepo はPostgresPresenceRepoを生成する。
func NewPostgresPresenceRepo(db *sql.DB) *PostgresPresenceRepo {
	return &PostgresPresenceRepo{db: db}
}

// SetOnline はプレゼンスレコードをonlineにUPSERTし、新しい接続区間を開く。
// レコード更新と区間操作は同一トランザクションで実行され、
// 「onlineなのに開いた区間がない」状態を読み取りが観測することはない。
// 開いたままの古い区間が残っていた場合は防御的に閉じてから新しい区間を開く。
func (r *PostgresPresenceRepo) SetOnline(ctx context.Context, employeeID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO presence_records (employee_id, status, last_seen_at, updated_at)
		 VALUES ($1, 'online', $2, $2)
		 ON CONFLICT (employee_id) DO UPDATE SET
		     status = 'online',
		     last_seen_at = EXCLUDED.last_seen_at,
		     updated_at = EXCLUDED.updated_at`,
		employeeID, at,
	)
	if err != nil {
		return fmt.Errorf("プレゼンスレコードの更新に失敗しました: %w", err)
	}

	// 取りこぼした切断イベントで開いたままの区間が残っていれば閉じる
	_, err = tx.ExecContext(ctx,
		`UPDATE presence_intervals SET disconnected_at = $2
		 WHERE employee_id = $1 AND disconnected_at IS NULL`,
		employeeID, at,
	)
	if err != nil {
		return fmt.Errorf("残存区間のクローズに失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO presence_intervals (id, employee_id, connected_at)
		 VALUES ($1, $2, $3)`,
		uuid.New().String(), employeeID, at,
	)
	if err != nil {
		return fmt.Errorf("接続区間の作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SetOffline はプレゼンスレコードをofflineにUPSERTし、開いている区間を閉じる。
// 開いている区間がない場合、履歴への操作はno-op。
// 重複した切断イベントでもエラーにならない（冪等）。
func (r *PostgresPresenceRepo) SetOffline(ctx context.Context, employeeID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO presence_records (employee_id, status, last_seen_at, updated_at)
		 VALUES ($1, 'offline', $2, $2)
		 ON CONFLICT (employee_id) DO UPDATE SET
		     status = 'offline',
		     last_seen_at = EXCLUDED.last_seen_at,
		     updated_at = EXCLUDED.updated_at`,
		employeeID, at,
	)
	if err != nil {
		return fmt.Errorf("プレゼンスレコードの更新に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE presence_intervals SET disconnected_at = $2
		 WHERE employee_id = $1 AND disconnected_at IS NULL`,
		employeeID, at,
	)
	if err != nil {
		return fmt.Errorf("接続区間のクローズに失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetStatus は従業員の現在ステータスを返す。
// プレゼンスレコードが存在しない場合はofflineを返す（エラーにしない）。
func (r *PostgresPresenceRepo) GetStatus(ctx context.Context, employeeID string) (model.PresenceStatus, error) {
	var status model.PresenceStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM presence_records WHERE employee_id = $1`,
		employeeID,
	).Scan(&status)

	if err == sql.ErrNoRows {
		return model.StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("プレゼンスステータスの取得に失敗しました: %w", err)
	}

	return status, nil
}

// compile-time interface check
var _ PresenceRepository = (*PostgresPresenceRepo)(nil)
