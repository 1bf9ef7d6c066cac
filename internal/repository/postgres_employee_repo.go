package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// PostgresEmployeeRepo はPostgreSQLを使用した従業員ディレクトリ。
type PostgresEmployeeRepo struct {
	db *sql.DB
}

// NewPostgresEmployeeRepo はPostgresEmployeeRepoを生成する。
func NewPostgresEmployeeRepo(db *sql.DB) *PostgresEmployeeRepo {
	return &PostgresEmployeeRepo{db: db}
}

const employeeColumns = `id, azure_ad_id, email, name, role, deleted_at, created_at, updated_at`

// scanEmployee は1行を*model.Employeeに読み込む。
func scanEmployee(row *sql.Row) (*model.Employee, error) {
	e := &model.Employee{}
	var deletedAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.AzureADID, &e.Email, &e.Name, &e.Role,
		&deletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("従業員の取得に失敗しました: %w", err)
	}
	if deletedAt.Valid {
		e.DeletedAt = &deletedAt.Time
	}
	return e, nil
}

// Resolve はキー（内部ID / Azure AD ID / メールアドレス）で従業員を検索する。
// 優先順位は 内部ID → Azure AD ID → メールアドレス。論理削除済みは対象外。
// 見つからない場合はnilを返す。
func (r *PostgresEmployeeRepo) Resolve(ctx context.Context, key string) (*model.Employee, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}

	// id::textとの比較で非UUIDキーでもエラーにならない
	row := r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+`
		 FROM employees
		 WHERE deleted_at IS NULL
		   AND (id::text = $1 OR azure_ad_id = $1 OR lower(email) = lower($1))
		 ORDER BY (id::text = $1) DESC, (azure_ad_id = $1) DESC
		 LIMIT 1`,
		key,
	)
	return scanEmployee(row)
}

// FindByEmail はメールアドレス（大文字小文字無視）で従業員を検索する。
// 見つからない場合はnilを返す。論理削除済みは対象外。
func (r *PostgresEmployeeRepo) FindByEmail(ctx context.Context, email string) (*model.Employee, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+`
		 FROM employees
		 WHERE deleted_at IS NULL AND lower(email) = lower($1)`,
		strings.TrimSpace(email),
	)
	return scanEmployee(row)
}

// ListActiveWithStatus は論理削除されていない全従業員を現在ステータス付きで返す。
// presence_recordsが存在しない従業員はofflineとして返す。
func (r *PostgresEmployeeRepo) ListActiveWithStatus(ctx context.Context) ([]EmployeeWithStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.azure_ad_id, e.email, e.name, e.role, e.deleted_at, e.created_at, e.updated_at,
		        COALESCE(p.status, 'offline') AS status
		 FROM employees e
		 LEFT JOIN presence_records p ON p.employee_id = e.id
		 WHERE e.deleted_at IS NULL
		 ORDER BY e.email`,
	)
	if err != nil {
		return nil, fmt.Errorf("従業員一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []EmployeeWithStatus
	for rows.Next() {
		var ews EmployeeWithStatus
		var deletedAt sql.NullTime
		if err := rows.Scan(
			&ews.ID, &ews.AzureADID, &ews.Email, &ews.Name, &ews.Role,
			&deletedAt, &ews.CreatedAt, &ews.UpdatedAt, &ews.Status,
		); err != nil {
			return nil, fmt.Errorf("従業員行の読み込みに失敗しました: %w", err)
		}
		if deletedAt.Valid {
			ews.DeletedAt = &deletedAt.Time
		}
		result = append(result, ews)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("従業員一覧の走査に失敗しました: %w", err)
	}

	return result, nil
}

// Create は従業員を作成する。メールアドレスは小文字に正規化して保存する。
func (r *PostgresEmployeeRepo) Create(ctx context.Context, employee *model.Employee) error {
	now := time.Now().UTC()
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = now
	}
	if employee.UpdatedAt.IsZero() {
		employee.UpdatedAt = now
	}
	employee.Email = strings.ToLower(strings.TrimSpace(employee.Email))

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO employees (id, azure_ad_id, email, name, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		employee.ID, employee.AzureADID, employee.Email, employee.Name, employee.Role,
		employee.CreatedAt, employee.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("従業員の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EmployeeRepository = (*PostgresEmployeeRepo)(nil)
