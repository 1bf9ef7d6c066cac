package presence

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// systemEventSentinel はイベント種別フィールドの汎用センチネル値。
// この値の場合は種別として扱わず、イベント名フィールドにフォールバックする。
const systemEventSentinel = "system"

// Normalizer はリアルタイムトランスポートから届く接続通知を
// 正規化されたConnectionEventに変換する。
// 通知の形はプロトコル世代・配信経路によって少なくとも3種類ある:
//  1. 構造化されたバインディングメタデータ
//  2. ペイロードに埋め込まれたcontextオブジェクト（JSON文字列の場合もある）
//  3. ce-プレフィックス付きヘッダー
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer はNormalizerを生成する。
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// rawEvent は各ソースから集めた未解釈のフィールド。
type rawEvent struct {
	userID       string
	connectionID string
	hub          string
	eventType    string
	eventName    string
}

// fillFrom は未設定のフィールドのみをsrcから補完する。
// 先に埋まったソース（優先度の高いソース）の値が常に勝つ。
func (r *rawEvent) fillFrom(src rawEvent) {
	if r.userID == "" {
		r.userID = src.userID
	}
	if r.connectionID == "" {
		r.connectionID = src.connectionID
	}
	if r.hub == "" {
		r.hub = src.hub
	}
	if r.eventType == "" {
		r.eventType = src.eventType
	}
	if r.eventName == "" {
		r.eventName = src.eventName
	}
}

// Normalize は生の通知をConnectionEventに正規化する。
// 優先順位: バインディングメタデータ → ペイロード内のcontext → ce-*ヘッダー。
// アクターキーが解決できない場合はInvalidEventエラーを返す。
// 空のアクターキーがこの先へ進むことはない。
func (n *Normalizer) Normalize(payload []byte, headers http.Header, binding map[string]any) (*model.ConnectionEvent, error) {
	var raw rawEvent

	// (1) 構造化バインディングメタデータ
	if len(binding) > 0 {
		raw.fillFrom(rawFromMap(binding))
	}

	// (2) ペイロードに埋め込まれたcontext
	if ctx := n.extractContext(payload); ctx != nil {
		raw.fillFrom(rawFromMap(ctx))
	}

	// (3) ce-*ヘッダー
	if headers != nil {
		raw.fillFrom(rawEvent{
			userID:       headers.Get("ce-userid"),
			connectionID: headers.Get("ce-connectionid"),
			hub:          headers.Get("ce-hub"),
			eventType:    headers.Get("ce-type"),
			eventName:    headers.Get("ce-eventname"),
		})
	}

	event := &model.ConnectionEvent{
		ActorKey:     normalizeIdentifier(raw.userID),
		ConnectionID: normalizeIdentifier(raw.connectionID),
		GroupID:      normalizeIdentifier(raw.hub),
		Phase:        resolvePhase(raw.eventType, raw.eventName),
	}

	// グループ情報だけ届いた素のハンドシェイクは暗黙のconnectとして扱う
	if event.Phase == model.PhaseUnknown && event.GroupID != "" {
		event.Phase = model.PhaseConnect
	}

	if event.ActorKey == "" {
		return nil, model.NewInvalidEventError("アクターキーが含まれていません")
	}

	return event, nil
}

// extractContext はペイロードからcontextオブジェクトを取り出す。
// contextはオブジェクトの場合とJSON文字列の場合がある。
// パース失敗は致命的ではなく、ログに記録してスキップする。
func (n *Normalizer) extractContext(payload []byte) map[string]any {
	if len(payload) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		n.logger.Warn("接続イベントペイロードのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil
	}

	ctxVal, ok := body["context"]
	if !ok {
		return nil
	}

	switch v := ctxVal.(type) {
	case map[string]any:
		return v
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			n.logger.Warn("context文字列のパースに失敗しました",
				slog.String("error", err.Error()),
			)
			return nil
		}
		return parsed
	default:
		return nil
	}
}

// rawFromMap はマップ形式のソースからフィールドを取り出す。
func rawFromMap(m map[string]any) rawEvent {
	return rawEvent{
		userID:       stringField(m, "userId", "userid", "user_id"),
		connectionID: stringField(m, "connectionId", "connectionid", "connection_id"),
		hub:          stringField(m, "hub", "group"),
		eventType:    stringField(m, "eventType", "type"),
		eventName:    stringField(m, "eventName", "event"),
	}
}

// stringField は候補キーのうち最初に見つかった文字列値を返す。
func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// resolvePhase はイベント種別とイベント名からフェーズを決定する。
// 種別フィールドはセンチネル値"system"でない限り優先される。
func resolvePhase(eventType, eventName string) model.EventPhase {
	if t := phaseToken(eventType); t != "" && t != systemEventSentinel {
		return parsePhase(t)
	}
	if name := phaseToken(eventName); name != "" {
		return parsePhase(name)
	}
	return model.PhaseUnknown
}

// phaseToken は"azure.webpubsub.sys.connected"のような修飾名から
// 末尾のトークンを取り出し、小文字化する。
func phaseToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	return s
}

// parsePhase はトークンをEventPhaseに変換する。
func parsePhase(token string) model.EventPhase {
	switch token {
	case "connect":
		return model.PhaseConnect
	case "connected":
		return model.PhaseConnected
	case "disconnect", "disconnected":
		return model.PhaseDisconnected
	case "user", "message":
		return model.PhaseUser
	default:
		return model.PhaseUnknown
	}
}

// normalizeIdentifier は識別子フィールドをトリムして小文字化する。
func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
