// Package realtime はNATSによるリアルタイム配信アダプタを提供する。
// グループへのベストエフォート配信と、JetStream KVバケットを使った
// 接続レジストリ（どのアクターがどのグループに接続中か）を実装する。
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// GroupMember は接続レジストリ上の1接続を表す。
type GroupMember struct {
	ConnectionID string
	ActorKey     string
}

// Client はNATS接続の上にブロードキャストポートとレジストリポートを実装する。
type Client struct {
	nc     *nats.Conn
	kv     nats.KeyValue
	logger *slog.Logger
}

// Config はClientの接続設定。
type Config struct {
	URL        string
	KVBucket   string        // 接続レジストリのバケット名
	ConnTTL    time.Duration // バケットTTL。切断イベントを取りこぼした接続はこれで失効する
	ClientName string
}

// Connect はNATSに接続し、接続レジストリ用のKVバケットを確保してClientを返す。
// バケットが存在しない場合は作成する。
func Connect(cfg Config) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client, err := NewClient(nc, cfg.KVBucket, cfg.ConnTTL)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return client, nil
}

// NewClient は既存のNATS接続からClientを生成する。
func NewClient(nc *nats.Conn, bucket string, connTTL time.Duration) (*Client, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
			TTL:     connTTL,
			Storage: nats.MemoryStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
		}
	}

	return &Client{
		nc:     nc,
		kv:     kv,
		logger: slog.Default(),
	}, nil
}

// Conn は下位のNATS接続を返す。JetStreamコンシューマの構築に使用する。
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// Close はNATS接続を閉じる。
func (c *Client) Close() {
	c.nc.Close()
}

// PushToGroup は指定グループのサブジェクトへペイロードをJSONで配信する。
// ベストエフォート: 配信保証はNATSのat-most-onceに従う。
func (c *Client) PushToGroup(ctx context.Context, groupID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal group payload: %w", err)
	}
	if err := c.nc.Publish(groupSubject(groupID), data); err != nil {
		return fmt.Errorf("failed to publish to group %s: %w", groupID, err)
	}
	return nil
}

// Register は接続をレジストリに登録する。
// バケットTTL内に再登録（クライアントのハートビート）がなければ自動失効する。
func (c *Client) Register(ctx context.Context, groupID, actorKey, connectionID string) error {
	if _, err := c.kv.Put(connKey(groupID, actorKey, connectionID), []byte(actorKey)); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}
	return nil
}

// Unregister は接続をレジストリから削除する。
// 既に存在しない場合もエラーにしない（冪等）。
func (c *Client) Unregister(ctx context.Context, groupID, actorKey, connectionID string) error {
	err := c.kv.Delete(connKey(groupID, actorKey, connectionID))
	if err != nil && err != nats.ErrKeyNotFound {
		return fmt.Errorf("failed to unregister connection: %w", err)
	}
	return nil
}

// ListGroupMembers は指定グループに現在登録されている接続を列挙する。
// 登録が1件もない場合は空スライスを返す。
func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	keys, err := c.kv.Keys()
	if err != nil {
		if err == nats.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list registry keys: %w", err)
	}

	prefix := encodeKeyPart(groupID) + "."
	var members []GroupMember
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		member, ok := parseConnKey(key)
		if !ok {
			c.logger.Warn("接続レジストリに不正なキーがあります", slog.String("key", key))
			continue
		}
		members = append(members, member)
	}
	return members, nil
}

// groupSubject はグループ名からNATSサブジェクトを導出する。
func groupSubject(groupID string) string {
	return "rt." + groupID
}

// connKey はレジストリのKVキーを組み立てる。
// 形式: <group>.<actorKey>.<connId>（各要素はbase64urlエンコード。
// メールアドレス等、KVキーに使用できない文字を含むため）。
func connKey(groupID, actorKey, connectionID string) string {
	return encodeKeyPart(groupID) + "." + encodeKeyPart(actorKey) + "." + encodeKeyPart(connectionID)
}

// parseConnKey はKVキーをGroupMemberに復元する。
func parseConnKey(key string) (GroupMember, bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 {
		return GroupMember{}, false
	}
	actorKey, err := decodeKeyPart(parts[1])
	if err != nil {
		return GroupMember{}, false
	}
	connID, err := decodeKeyPart(parts[2])
	if err != nil {
		return GroupMember{}, false
	}
	return GroupMember{ConnectionID: connID, ActorKey: actorKey}, true
}

func encodeKeyPart(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeKeyPart(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
