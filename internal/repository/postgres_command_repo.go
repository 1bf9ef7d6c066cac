package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// PostgresCommandRepo はPostgreSQLを使用した保留コマンドリポジトリ。
// pending_commandsはemployee_idにUNIQUE制約を持ち、従業員ごとに1スロットのみ。
type PostgresCommandRepo struct {
	db *sql.DB
}

// NewPostgresCommandRepo はPostgresCommandRepoを生成する。
func NewPostgresCommandRepo(db *sql.DB) *PostgresCommandRepo {
	return &PostgresCommandRepo{db: db}
}

// Replace は既存の保留コマンドを削除して新しいコマンドを挿入する。
// DELETEとINSERTは同一トランザクションで実行され、並行する読み取りが
// スロット0件や2件の状態を観測することはない。
// 先にSTARTを受けていた従業員が再接続前にSTOPを受けた場合、残るのはSTOPのみ。
func (r *PostgresCommandRepo) Replace(ctx context.Context, command *model.PendingCommand) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM pending_commands WHERE employee_id = $1`,
		command.EmployeeID,
	)
	if err != nil {
		return fmt.Errorf("既存コマンドの削除に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending_commands
		     (id, employee_id, command, issued_at, published, acknowledged, attempt_count)
		 VALUES ($1, $2, $3, $4, false, false, 0)`,
		command.ID, command.EmployeeID, command.Command, command.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("コマンドの挿入に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkPublished はコマンドを配信済みにし、配信試行回数を加算する。
func (r *PostgresCommandRepo) MarkPublished(ctx context.Context, commandID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_commands
		 SET published = true, published_at = $2, attempt_count = attempt_count + 1
		 WHERE id = $1`,
		commandID, at,
	)
	if err != nil {
		return fmt.Errorf("コマンドの配信済み更新に失敗しました: %w", err)
	}
	return nil
}

// AcknowledgeBatch は指定IDのコマンドを一括でACK済みにする。
// 存在しないIDが1つでも含まれる場合は1件も更新せず、欠落IDの一覧を返す。
// 存在確認と更新は同一トランザクションで実行する。
func (r *PostgresCommandRepo) AcknowledgeBatch(ctx context.Context, commandIDs []string, at time.Time) (int, []string, error) {
	if len(commandIDs) == 0 {
		return 0, nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM pending_commands WHERE id = ANY($1)`,
		pq.Array(commandIDs),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("コマンドIDの存在確認に失敗しました: %w", err)
	}

	existing := make(map[string]bool, len(commandIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("コマンドIDの読み込みに失敗しました: %w", err)
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("コマンドIDの走査に失敗しました: %w", err)
	}

	var missing []string
	for _, id := range commandIDs {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		// all-or-nothing: 1件でも欠落があれば更新しない
		return 0, missing, nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE pending_commands
		 SET acknowledged = true, acknowledged_at = $2
		 WHERE id = ANY($1)`,
		pq.Array(commandIDs), at,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("コマンドのACK更新に失敗しました: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return int(updated), nil, nil
}

// FindLatestUnacknowledged は従業員の最新の未ACKコマンドを返す。
// 存在しない場合はnilを返す。TTLによる失効判定は呼び出し側が行う。
func (r *PostgresCommandRepo) FindLatestUnacknowledged(ctx context.Context, employeeID string) (*model.PendingCommand, error) {
	cmd := &model.PendingCommand{}
	var publishedAt, acknowledgedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, employee_id, command, issued_at,
		        published, published_at, acknowledged, acknowledged_at, attempt_count
		 FROM pending_commands
		 WHERE employee_id = $1 AND acknowledged = false
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		employeeID,
	).Scan(
		&cmd.ID, &cmd.EmployeeID, &cmd.Command, &cmd.IssuedAt,
		&cmd.Published, &publishedAt, &cmd.Acknowledged, &acknowledgedAt, &cmd.AttemptCount,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("未ACKコマンドの取得に失敗しました: %w", err)
	}

	if publishedAt.Valid {
		cmd.PublishedAt = &publishedAt.Time
	}
	if acknowledgedAt.Valid {
		cmd.AcknowledgedAt = &acknowledgedAt.Time
	}

	return cmd, nil
}

// compile-time interface check
var _ CommandRepository = (*PostgresCommandRepo)(nil)
