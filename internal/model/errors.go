// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, presence, command, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeActorNotFound     = "ACTOR_NOT_FOUND"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeCommandIDsMissing = "COMMAND_IDS_NOT_FOUND"
	ErrCodeNotAuthorizedAck  = "NOT_AUTHORIZED_FOR_ACK"
	ErrCodeInvalidEvent      = "INVALID_EVENT"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
)

// NewActorNotFoundError はアクター未解決エラーを生成する。
// 論理削除済みアクターも未解決として同一に扱う。
func NewActorNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeActorNotFound,
		Message:  fmt.Sprintf("指定されたアクターが見つかりません: %s", key),
		Category: "presence",
		Action:   "ID・ディレクトリID・メールアドレスのいずれかが正しいか確認してください。",
	}
}

// NewInvalidCommandError は無効なコマンド種別エラーを生成する。
func NewInvalidCommandError(command string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCommand,
		Message:  fmt.Sprintf("無効なコマンドです: %s", command),
		Category: "validation",
		Action:   "コマンドには START または STOP を指定してください。",
	}
}

// NewCommandIDsNotFoundError はACK対象のコマンドIDが存在しない場合のエラーを生成する。
// バッチ全体が拒否され、部分的なACKは行われない。
func NewCommandIDsNotFoundError(missing []string) *APIError {
	return &APIError{
		Code:     ErrCodeCommandIDsMissing,
		Message:  fmt.Sprintf("存在しないコマンドIDが含まれています: %s", strings.Join(missing, ", ")),
		Category: "command",
		Action:   "保留中のコマンドを再取得してから、存在するIDのみでACKしてください。",
	}
}

// NewNotAuthorizedForAckError はEmployee以外のアクターがACKを試みた場合のエラーを生成する。
func NewNotAuthorizedForAckError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorizedAck,
		Message:  "このアクターにはコマンドのACK権限がありません。",
		Category: "auth",
		Action:   "ACKはEmployeeロールのアクターのみ実行できます。",
	}
}

// NewInvalidEventError は接続イベントが解釈不能な場合のエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("接続イベントを解釈できません: %s", reason),
		Category: "validation",
		Action:   "リアルタイムトランスポートのイベント設定を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディの形式を確認してください。",
	}
}
