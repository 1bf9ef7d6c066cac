package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// testRateLimiterConfig はテスト用の小さなレート制限設定を返す。
func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1), // 1 req/sec
		GeneralBurst:    3,
		CommandRate:     rate.Limit(1),
		CommandBurst:    2,
		CleanupInterval: time.Hour, // テスト中にクリーンアップが走らないように
	}
}

func callerRequest(caller string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	return req.WithContext(ContextWithCaller(req.Context(), caller))
}

// TestGeneralMiddleware_AllowsWithinBurst はバースト以内のリクエストが通過することを検証する。
func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, callerRequest("alice@example.com"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

// TestGeneralMiddleware_RejectsOverBurst はバースト超過で429が返ることを検証する。
func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, callerRequest("alice@example.com"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, callerRequest("alice@example.com"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

// TestGeneralMiddleware_IsolatesCallers は呼び出し元ごとに独立して制限されることを検証する。
func TestGeneralMiddleware_IsolatesCallers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// aliceのバーストを使い切る
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, callerRequest("alice@example.com"))
	}

	// bobには影響しない
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, callerRequest("bob@example.com"))
	if w.Code != http.StatusOK {
		t.Errorf("bob status = %d, want 200", w.Code)
	}
}

// TestGeneralMiddleware_RequiresCaller は呼び出し元キーがない場合に401が返ることを検証する。
func TestGeneralMiddleware_RequiresCaller(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/presence", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// TestCommandIssueMiddleware_IndependentOfGeneral はコマンド発行の制限が
// API全般の制限と独立に動作することを検証する。
func TestCommandIssueMiddleware_IndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	command := rl.CommandIssueMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// コマンド発行のバースト(2)を使い切る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		command.ServeHTTP(w, callerRequest("alice@example.com"))
		if w.Code != http.StatusOK {
			t.Fatalf("command request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	command.ServeHTTP(w, callerRequest("alice@example.com"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("command status = %d, want 429", w.Code)
	}

	// API全般はまだ通過できる
	w = httptest.NewRecorder()
	general.ServeHTTP(w, callerRequest("alice@example.com"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
}

// TestRateLimiter_Cleanup は期限切れエントリがクリーンアップで削除されることを検証する。
func TestRateLimiter_Cleanup(t *testing.T) {
	config := testRateLimiterConfig()
	config.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(config)
	defer rl.Stop()

	rl.getOrCreateGeneralLimiter("alice@example.com")
	rl.getOrCreateCommandLimiter("alice@example.com")

	if rl.GeneralLimiterCount() != 1 || rl.CommandLimiterCount() != 1 {
		t.Fatalf("limiter counts = %d/%d, want 1/1",
			rl.GeneralLimiterCount(), rl.CommandLimiterCount())
	}

	// lastAccessを過去に偽装してクリーンアップ対象にする
	rl.generalMu.Lock()
	rl.generalLimiters["alice@example.com"].lastAccess = time.Now().Add(-time.Hour)
	rl.generalMu.Unlock()
	rl.commandMu.Lock()
	rl.commandLimiters["alice@example.com"].lastAccess = time.Now().Add(-time.Hour)
	rl.commandMu.Unlock()

	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 || rl.CommandLimiterCount() != 0 {
		t.Errorf("limiter counts after cleanup = %d/%d, want 0/0",
			rl.GeneralLimiterCount(), rl.CommandLimiterCount())
	}
}
