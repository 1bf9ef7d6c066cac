// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// callerHeaderName は呼び出し元アクターを識別するHTTPヘッダー名。
// 値は内部ID・ディレクトリID・メールアドレスのいずれでもよい。
const callerHeaderName = "X-Actor-Key"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元キーを格納するためのキー。
var callerContextKey = contextKey("caller_key")

// NewCallerMiddleware はX-Actor-Keyヘッダーから呼び出し元アクターキーを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーがないリクエストには401 Unauthorizedを返す。
// キーの実在検証はここでは行わず、サービス層のアクター解決に委ねる。
func NewCallerMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(callerHeaderName))
			if key == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext はリクエストコンテキストから呼び出し元アクターキーを取得する。
// コーラーミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (string, error) {
	key, ok := ctx.Value(callerContextKey).(string)
	if !ok || key == "" {
		return "", fmt.Errorf("caller key not found in context")
	}
	return key, nil
}

// ContextWithCaller はコンテキストに呼び出し元アクターキーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, callerContextKey, key)
}
