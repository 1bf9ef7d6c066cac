package command

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/repository"
)

// --- モック ---

type mockEmployeeRepo struct {
	employees map[string]*model.Employee // キー → 従業員
}

func (m *mockEmployeeRepo) lookup(key string) *model.Employee {
	if emp, ok := m.employees[key]; ok {
		return emp
	}
	return nil
}

func (m *mockEmployeeRepo) Resolve(ctx context.Context, key string) (*model.Employee, error) {
	return m.lookup(key), nil
}
func (m *mockEmployeeRepo) FindByEmail(ctx context.Context, email string) (*model.Employee, error) {
	return m.lookup(email), nil
}
func (m *mockEmployeeRepo) ListActiveWithStatus(ctx context.Context) ([]repository.EmployeeWithStatus, error) {
	return nil, nil
}
func (m *mockEmployeeRepo) Create(ctx context.Context, employee *model.Employee) error {
	return nil
}

type mockPresenceRepo struct {
	statuses map[string]model.PresenceStatus // 従業員ID → ステータス
}

func (m *mockPresenceRepo) SetOnline(ctx context.Context, employeeID string, at time.Time) error {
	m.statuses[employeeID] = model.StatusOnline
	return nil
}
func (m *mockPresenceRepo) SetOffline(ctx context.Context, employeeID string, at time.Time) error {
	m.statuses[employeeID] = model.StatusOffline
	return nil
}
func (m *mockPresenceRepo) GetStatus(ctx context.Context, employeeID string) (model.PresenceStatus, error) {
	if s, ok := m.statuses[employeeID]; ok {
		return s, nil
	}
	return model.StatusOffline, nil
}

// memCommandRepo は置き換えセマンティクスを再現するインメモリ実装。
type memCommandRepo struct {
	slots map[string]*model.PendingCommand // 従業員ID → スロット
}

func newMemCommandRepo() *memCommandRepo {
	return &memCommandRepo{slots: make(map[string]*model.PendingCommand)}
}

func (m *memCommandRepo) Replace(ctx context.Context, command *model.PendingCommand) error {
	cp := *command
	m.slots[command.EmployeeID] = &cp
	return nil
}

func (m *memCommandRepo) MarkPublished(ctx context.Context, commandID string, at time.Time) error {
	for _, cmd := range m.slots {
		if cmd.ID == commandID {
			cmd.Published = true
			cmd.PublishedAt = &at
			cmd.AttemptCount++
		}
	}
	return nil
}

func (m *memCommandRepo) AcknowledgeBatch(ctx context.Context, commandIDs []string, at time.Time) (int, []string, error) {
	existing := make(map[string]*model.PendingCommand)
	for _, cmd := range m.slots {
		existing[cmd.ID] = cmd
	}

	var missing []string
	for _, id := range commandIDs {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return 0, missing, nil
	}

	for _, id := range commandIDs {
		cmd := existing[id]
		cmd.Acknowledged = true
		cmd.AcknowledgedAt = &at
	}
	return len(commandIDs), nil, nil
}

func (m *memCommandRepo) FindLatestUnacknowledged(ctx context.Context, employeeID string) (*model.PendingCommand, error) {
	cmd, ok := m.slots[employeeID]
	if !ok || cmd.Acknowledged {
		return nil, nil
	}
	cp := *cmd
	return &cp, nil
}

type mockBroadcaster struct {
	pushFn func(ctx context.Context, groupID string, payload any) error
	groups []string
}

func (m *mockBroadcaster) PushToGroup(ctx context.Context, groupID string, payload any) error {
	m.groups = append(m.groups, groupID)
	if m.pushFn != nil {
		return m.pushFn(ctx, groupID, payload)
	}
	return nil
}

const testTTL = 5 * time.Minute

type fixture struct {
	svc      *Service
	empRepo  *mockEmployeeRepo
	presRepo *mockPresenceRepo
	cmdRepo  *memCommandRepo
	bc       *mockBroadcaster
	clock    *time.Time
}

func newFixture() *fixture {
	alice := &model.Employee{
		ID:    "emp-alice",
		Email: "alice@example.com",
		Role:  model.RoleEmployee,
	}
	boss := &model.Employee{
		ID:    "emp-boss",
		Email: "boss@example.com",
		Role:  model.RoleSupervisor,
	}
	empRepo := &mockEmployeeRepo{employees: map[string]*model.Employee{
		"alice@example.com": alice,
		"emp-alice":         alice,
		"boss@example.com":  boss,
		"emp-boss":          boss,
	}}
	presRepo := &mockPresenceRepo{statuses: make(map[string]model.PresenceStatus)}
	cmdRepo := newMemCommandRepo()
	bc := &mockBroadcaster{}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		svc:      NewService(empRepo, presRepo, cmdRepo, bc, testTTL, nil, slog.Default()),
		empRepo:  empRepo,
		presRepo: presRepo,
		cmdRepo:  cmdRepo,
		bc:       bc,
		clock:    &now,
	}
	f.svc.now = func() time.Time { return *f.clock }
	return f
}

// --- テスト ---

// TestIssueCommand_OfflineQueues はoffline宛先へのコマンドが
// プッシュされずに保留されることを検証する。
func TestIssueCommand_OfflineQueues(t *testing.T) {
	f := newFixture()

	delivered, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStart, *f.clock)
	if err != nil {
		t.Fatalf("IssueCommand returned error: %v", err)
	}
	if delivered {
		t.Error("delivered = true, want false for offline actor")
	}
	if len(f.bc.groups) != 0 {
		t.Errorf("expected no push, got %v", f.bc.groups)
	}
	cmd, _ := f.cmdRepo.FindLatestUnacknowledged(context.Background(), "emp-alice")
	if cmd == nil || cmd.Command != model.CommandStart {
		t.Errorf("expected queued START command, got %+v", cmd)
	}
}

// TestIssueCommand_OnlinePushesAndMarksPublished はonline宛先への
// コマンドが専用グループへプッシュされ配信済みになることを検証する。
func TestIssueCommand_OnlinePushesAndMarksPublished(t *testing.T) {
	f := newFixture()
	f.presRepo.statuses["emp-alice"] = model.StatusOnline

	delivered, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStart, *f.clock)
	if err != nil {
		t.Fatalf("IssueCommand returned error: %v", err)
	}
	if !delivered {
		t.Error("delivered = false, want true for online actor")
	}
	if len(f.bc.groups) != 1 || f.bc.groups[0] != CommandGroup("emp-alice") {
		t.Errorf("push groups = %v, want [%s]", f.bc.groups, CommandGroup("emp-alice"))
	}
	cmd, _ := f.cmdRepo.FindLatestUnacknowledged(context.Background(), "emp-alice")
	if cmd == nil || !cmd.Published || cmd.AttemptCount != 1 {
		t.Errorf("expected published command with attempt_count=1, got %+v", cmd)
	}
}

// TestIssueCommand_ReplaceInvariant は未ACKのSTARTがある状態でSTOPを発行すると
// スロットにSTOPのみが残ることを検証する。
func TestIssueCommand_ReplaceInvariant(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStart, *f.clock); err != nil {
		t.Fatalf("START issue failed: %v", err)
	}
	if _, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStop, *f.clock); err != nil {
		t.Fatalf("STOP issue failed: %v", err)
	}

	if len(f.cmdRepo.slots) != 1 {
		t.Fatalf("slot count = %d, want 1", len(f.cmdRepo.slots))
	}
	cmd, _ := f.cmdRepo.FindLatestUnacknowledged(context.Background(), "emp-alice")
	if cmd == nil || cmd.Command != model.CommandStop {
		t.Errorf("surviving command = %+v, want STOP", cmd)
	}
}

// TestIssueCommand_ActorNotFoundPropagates はアクター未解決が
// 握りつぶされずエラーとして伝播することを検証する。
func TestIssueCommand_ActorNotFoundPropagates(t *testing.T) {
	f := newFixture()

	_, err := f.svc.IssueCommand(context.Background(), "ghost@example.com", model.CommandStart, *f.clock)
	if err == nil {
		t.Fatal("expected error for unknown actor")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeActorNotFound {
		t.Errorf("expected ACTOR_NOT_FOUND, got %v", err)
	}
}

// TestIssueCommand_InvalidCommandRejected は未定義のコマンド種別が拒否されることを検証する。
func TestIssueCommand_InvalidCommandRejected(t *testing.T) {
	f := newFixture()

	_, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandType("RESTART"), *f.clock)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCommand {
		t.Errorf("expected INVALID_COMMAND, got %v", err)
	}
}

// TestIssueCommand_PushFailureAbsorbed はプッシュ失敗が発行自体を
// 失敗させず、コマンドが保留のまま残ることを検証する。
func TestIssueCommand_PushFailureAbsorbed(t *testing.T) {
	f := newFixture()
	f.presRepo.statuses["emp-alice"] = model.StatusOnline
	f.bc.pushFn = func(ctx context.Context, groupID string, payload any) error {
		return errors.New("nats down")
	}

	delivered, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStart, *f.clock)
	if err != nil {
		t.Fatalf("IssueCommand should absorb push failure, got: %v", err)
	}
	if delivered {
		t.Error("delivered = true, want false when push fails")
	}
	cmd, _ := f.cmdRepo.FindLatestUnacknowledged(context.Background(), "emp-alice")
	if cmd == nil || cmd.Published {
		t.Errorf("command should remain unpublished, got %+v", cmd)
	}
}

// TestFetchForActor_TTLWindow はTTL境界の前後で取得結果が変わることを検証する。
// issuedAt + TTL - ε では返却され、issuedAt + TTL + ε ではnilになる。
func TestFetchForActor_TTLWindow(t *testing.T) {
	f := newFixture()
	issuedAt := *f.clock

	if _, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStart, issuedAt); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// TTL - ε: まだ有効
	*f.clock = issuedAt.Add(testTTL - time.Second)
	cmd, err := f.svc.FetchForActor(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FetchForActor returned error: %v", err)
	}
	if cmd == nil {
		t.Fatal("expected command within TTL window, got nil")
	}

	// TTL + ε: 失効
	*f.clock = issuedAt.Add(testTTL + time.Second)
	cmd, err = f.svc.FetchForActor(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FetchForActor returned error: %v", err)
	}
	if cmd != nil {
		t.Errorf("expected nil after TTL, got %+v", cmd)
	}

	// 失効してもレコード自体は削除されない
	if len(f.cmdRepo.slots) != 1 {
		t.Errorf("expired command should not be deleted, slots = %d", len(f.cmdRepo.slots))
	}
}

// TestFetchForActor_NoCommand はコマンドがない場合にnilが返ることを検証する。
func TestFetchForActor_NoCommand(t *testing.T) {
	f := newFixture()

	cmd, err := f.svc.FetchForActor(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FetchForActor returned error: %v", err)
	}
	if cmd != nil {
		t.Errorf("expected nil, got %+v", cmd)
	}
}

// TestAcknowledge_AllOrNothing は存在しないIDを含むバッチが
// 1件も更新されず、欠落IDが報告されることを検証する。
func TestAcknowledge_AllOrNothing(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.IssueCommand(context.Background(), "alice@example.com", model.CommandStart, *f.clock); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	existing, _ := f.cmdRepo.FindLatestUnacknowledged(context.Background(), "emp-alice")

	_, err := f.svc.Acknowledge(context.Background(), "emp-alice", []string{existing.ID, "missing-id"})
	if err == nil {
		t.Fatal("expected error for batch with missing id")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCommandIDsMissing {
		t.Fatalf("expected COMMAND_IDS_NOT_FOUND, got %v", err)
	}

	// 存在するIDも含めて1件も更新されていないこと
	cmd, _ := f.cmdRepo.FindLatestUnacknowledged(context.Background(), "emp-alice")
	if cmd == nil || cmd.Acknowledged {
		t.Errorf("existing command must remain unacknowledged, got %+v", cmd)
	}
}

// TestAcknowledge_RequiresEmployeeRole はEmployee以外のロールによる
// ACKが拒否されることを検証する。
func TestAcknowledge_RequiresEmployeeRole(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Acknowledge(context.Background(), "boss@example.com", []string{"any-id"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotAuthorizedAck {
		t.Errorf("expected NOT_AUTHORIZED_FOR_ACK, got %v", err)
	}
}

// TestCommandLifecycle_EndToEnd はオフライン発行→オンライン化→プル取得→ACK→
// 再取得nilのエンドツーエンドの流れを検証する。
func TestCommandLifecycle_EndToEnd(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// offlineで発行 → delivered=false
	delivered, err := f.svc.IssueCommand(ctx, "alice@example.com", model.CommandStart, *f.clock)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if delivered {
		t.Error("delivered = true, want false while offline")
	}

	// onlineに遷移
	f.presRepo.statuses["emp-alice"] = model.StatusOnline

	// プル取得でSTARTを受信
	cmd, err := f.svc.FetchForActor(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if cmd == nil || cmd.Command != model.CommandStart {
		t.Fatalf("fetched command = %+v, want START", cmd)
	}

	// ACK
	updated, err := f.svc.Acknowledge(ctx, "emp-alice", []string{cmd.ID})
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	// 再取得はnil
	cmd, err = f.svc.FetchForActor(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	if cmd != nil {
		t.Errorf("expected nil after acknowledgment, got %+v", cmd)
	}
}
