package model

// EventPhase はリアルタイムトランスポートから届く接続イベントの種別を表す。
type EventPhase string

const (
	// PhaseConnect は接続ハンドシェイク。グループ情報のみでイベント種別が
	// 特定できない場合も暗黙のconnectとして扱う。
	PhaseConnect EventPhase = "connect"
	// PhaseConnected は接続確立通知。
	PhaseConnected EventPhase = "connected"
	// PhaseDisconnected は切断通知。
	PhaseDisconnected EventPhase = "disconnected"
	// PhaseUser はユーザー定義イベント。プレゼンスには影響しない。
	PhaseUser EventPhase = "user"
	// PhaseUnknown は判別不能なイベント。
	PhaseUnknown EventPhase = "unknown"
)

// ConnectionEvent は配信経路・プロトコル世代ごとに形の異なる接続通知を
// 正規化した一時的なイベント。永続化はされない。
type ConnectionEvent struct {
	ActorKey     string // 小文字化・トリム済みのアクターキー
	ConnectionID string
	GroupID      string
	Phase        EventPhase
}
