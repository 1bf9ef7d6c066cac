// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// EmployeeRepository は従業員ディレクトリの永続化インターフェース。
// 内部ID・外部ディレクトリID・メールアドレスのいずれでも解決でき、
// 論理削除済みレコードは常に除外される。
type EmployeeRepository interface {
	// Resolve はキー（内部ID / Azure AD ID / メールアドレス）で従業員を検索する。
	// 優先順位は 内部ID → Azure AD ID → メールアドレス（大文字小文字無視）。
	// 見つからない場合はnilを返す。論理削除済みは対象外。
	Resolve(ctx context.Context, key string) (*model.Employee, error)

	// FindByEmail はメールアドレス（大文字小文字無視）で従業員を検索する。
	// 見つからない場合はnilを返す。論理削除済みは対象外。
	FindByEmail(ctx context.Context, email string) (*model.Employee, error)

	// ListActiveWithStatus は論理削除されていない全従業員を
	// 現在のプレゼンスステータス付きで返す。
	// プレゼンスレコードが存在しない従業員はofflineとして扱う。
	ListActiveWithStatus(ctx context.Context) ([]EmployeeWithStatus, error)

	// Create は従業員を作成する。メールアドレスは小文字に正規化して保存する。
	Create(ctx context.Context, employee *model.Employee) error
}

// PresenceRepository はプレゼンスレコードと接続区間履歴の永続化インターフェース。
type PresenceRepository interface {
	// SetOnline はプレゼンスレコードをonlineにUPSERTし、新しい接続区間を開く。
	// 開いたままの古い区間が残っていた場合は同一トランザクション内で防御的に閉じる。
	SetOnline(ctx context.Context, employeeID string, at time.Time) error

	// SetOffline はプレゼンスレコードをofflineにUPSERTし、開いている区間を閉じる。
	// 開いている区間が存在しない場合、履歴への操作はno-op（冪等）。
	SetOffline(ctx context.Context, employeeID string, at time.Time) error

	// GetStatus は従業員の現在ステータスを返す。
	// プレゼンスレコードが存在しない場合はofflineを返す（エラーにしない）。
	GetStatus(ctx context.Context, employeeID string) (model.PresenceStatus, error)
}

// CommandRepository は保留コマンドの永続化インターフェース。
// 従業員ごとに1スロットのみが保たれる。
type CommandRepository interface {
	// Replace は既存の保留コマンドを削除して新しいコマンドを挿入する。
	// 削除と挿入は同一トランザクションで実行され、
	// 並行する読み取りがスロット0件や2件の状態を観測することはない。
	Replace(ctx context.Context, command *model.PendingCommand) error

	// MarkPublished はコマンドを配信済みにし、配信試行回数を加算する。
	MarkPublished(ctx context.Context, commandID string, at time.Time) error

	// AcknowledgeBatch は指定IDのコマンドを一括でACK済みにする。
	// 存在しないIDが1つでも含まれる場合は全件を拒否し（all-or-nothing）、
	// 欠落しているIDの一覧を返す。
	AcknowledgeBatch(ctx context.Context, commandIDs []string, at time.Time) (updated int, missing []string, err error)

	// FindLatestUnacknowledged は従業員の最新の未ACKコマンドを返す。
	// 存在しない場合はnilを返す。TTLによる失効判定は呼び出し側が行う。
	FindLatestUnacknowledged(ctx context.Context, employeeID string) (*model.PendingCommand, error)
}

// EmployeeWithStatus は従業員と現在のプレゼンスステータスを結合した構造体。
type EmployeeWithStatus struct {
	model.Employee
	Status model.PresenceStatus
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
