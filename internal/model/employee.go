// Package model はドメインモデルを定義する。
package model

import "time"

// EmployeeRole は従業員の権限種別を表す。
type EmployeeRole string

const (
	// RoleEmployee は監視対象の一般従業員。コマンドの受信とACKのみ可能。
	RoleEmployee EmployeeRole = "Employee"
	// RoleSupervisor は監督者。コマンドの発行が可能。
	RoleSupervisor EmployeeRole = "Supervisor"
	// RoleAdmin は管理者。
	RoleAdmin EmployeeRole = "Admin"
)

// Employee はプレゼンス追跡とコマンド配信の対象となるアクターを表す。
// 内部ID・外部ディレクトリID（Azure AD）・メールアドレスの
// 3種類のキーのいずれでも同一レコードに解決される。
type Employee struct {
	ID        string
	AzureADID string
	Email     string // 小文字に正規化して保存する
	Name      string
	Role      EmployeeRole
	DeletedAt *time.Time // 論理削除。非nilの場合は全操作から除外される
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted は論理削除済みかどうかを返す。
func (e *Employee) IsDeleted() bool {
	return e.DeletedAt != nil
}
