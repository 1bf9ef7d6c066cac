package model

import "time"

// PresenceStatus はアクターの接続状態を表す。
type PresenceStatus string

const (
	// StatusOnline はライブ接続が存在する状態。
	StatusOnline PresenceStatus = "online"
	// StatusOffline は接続が存在しない状態。
	StatusOffline PresenceStatus = "offline"
)

// IsValid はステータス値が定義済みのいずれかであることを検証する。
func (s PresenceStatus) IsValid() bool {
	return s == StatusOnline || s == StatusOffline
}

// PresenceRecord はアクターごとの現在ステータスを保持する。
// アクターにつき最大1件。UPSERTで更新され、重複は作られない。
type PresenceRecord struct {
	EmployeeID string
	Status     PresenceStatus
	LastSeenAt time.Time // 最後にステータスが変化した時刻
	UpdatedAt  time.Time
}

// PresenceInterval は接続区間の履歴を表す。追記専用。
// DisconnectedAtがnilの区間が「現在開いている区間」であり、
// アクターごとに同時に最大1件しか存在してはならない。
type PresenceInterval struct {
	ID             string
	EmployeeID     string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
}

// PresenceChange はステータス変化のブロードキャストペイロード。
// 永続化トランザクションのコミット後にリアルタイム配信される。
type PresenceChange struct {
	EmployeeID string         `json:"employee_id"`
	Email      string         `json:"email"`
	Status     PresenceStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}
