package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// NATS（リアルタイムトランスポート）
	NATSURL        string
	PresenceGroup  string // プレゼンス配信と接続レジストリのグループ名
	CommandSubject string // コマンド発行要求を受け取るJetStreamサブジェクト
	ConnKVBucket   string // 接続レジストリのKVバケット名
	ConnTTL        time.Duration

	// Command
	PendingCommandTTL time.Duration // 未ACKコマンドの失効ウィンドウ

	// Reconciliation
	ReconcileInterval time.Duration

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// defaultPendingCommandTTLMinutes は保留コマンドTTLのデフォルト値（分）。
const defaultPendingCommandTTLMinutes = 5

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// PENDING_COMMAND_TTL_MINUTESは正の整数の分数で指定する。
// 非数値または未設定の場合はエラーにせずデフォルト値（5分）を使用する。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.NATSURL = getEnvString("NATS_URL", "nats://localhost:4222")
	cfg.PresenceGroup = getEnvString("PRESENCE_GROUP", "presence")
	cfg.CommandSubject = getEnvString("COMMAND_SUBJECT", "commands.issue")
	cfg.ConnKVBucket = getEnvString("CONN_KV_BUCKET", "PRESENCE_CONN")
	cfg.ConnTTL = getEnvDuration("CONN_TTL", 45*time.Second)

	ttlMinutes := getEnvInt("PENDING_COMMAND_TTL_MINUTES", defaultPendingCommandTTLMinutes)
	if ttlMinutes <= 0 {
		ttlMinutes = defaultPendingCommandTTLMinutes
	}
	cfg.PendingCommandTTL = time.Duration(ttlMinutes) * time.Minute

	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 2*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
