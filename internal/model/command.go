package model

import "time"

// CommandType は配信コマンドの種別を表す。
type CommandType string

const (
	// CommandStart はカメラ/ストリーム開始の指示。
	CommandStart CommandType = "START"
	// CommandStop はカメラ/ストリーム停止の指示。
	CommandStop CommandType = "STOP"
)

// IsValid はコマンド種別が定義済みのいずれかであることを検証する。
func (c CommandType) IsValid() bool {
	return c == CommandStart || c == CommandStop
}

// PendingCommand はアクターへの未配信コマンドを表す。
// アクターにつき論理的に1スロットのみ: 新しいコマンドの登録は
// 既存コマンドを同一トランザクションで削除して置き換える。
type PendingCommand struct {
	ID             string
	EmployeeID     string
	Command        CommandType
	IssuedAt       time.Time
	Published      bool
	PublishedAt    *time.Time
	Acknowledged   bool
	AcknowledgedAt *time.Time
	AttemptCount   int
}

// ExpiredAt はTTLを基準にコマンドが失効しているかを判定する。
// 失効判定は読み取り時に行う。レコード自体は削除されず、論理的に無効となる。
func (c *PendingCommand) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.IssuedAt) > ttl
}

// CommandPayload はリアルタイムチャネルで配信するコマンドのペイロード。
type CommandPayload struct {
	ID       string      `json:"id"`
	Command  CommandType `json:"command"`
	IssuedAt time.Time   `json:"issued_at"`
}

// CommandRequest はメッセージキュー経由で届くコマンド発行要求。
type CommandRequest struct {
	Command  CommandType `json:"command"`
	Email    string      `json:"employeeEmail"`
	IssuedAt time.Time   `json:"timestamp"`
}
