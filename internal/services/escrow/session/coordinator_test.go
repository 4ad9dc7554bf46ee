package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/program"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/memory"
)

type wallet struct {
	key  ed25519.PrivateKey
	addr address.Address
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w := wallet{key: key}
	copy(w.addr[:], pub)
	return w
}

func newLedger(t *testing.T, store *memory.Store, rent account.Rent, session bool) *runtime.Ledger {
	t.Helper()
	prog, err := program.New(program.Config{Fee: fee.Free, Session: session})
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	ledger, err := runtime.New(context.Background(), runtime.Config{
		Name:     t.Name(),
		Store:    store,
		Programs: []runtime.Program{prog},
		Rent:     rent,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

// flakyBase fails reconciliation while down is set.
type flakyBase struct {
	BaseLedger
	mu   sync.Mutex
	down bool
}

func (b *flakyBase) Process(ctx context.Context, tx *transaction.Transaction, requestID string) (runtime.Receipt, error) {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()
	if down {
		return runtime.Receipt{}, errors.New("base unavailable")
	}
	return b.BaseLedger.Process(ctx, tx, requestID)
}

func (b *flakyBase) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

type fixture struct {
	t            *testing.T
	base         *runtime.Ledger
	baseStore    *memory.Store
	session      *runtime.Ledger
	sessionStore *memory.Store
	flaky        *flakyBase
	coord        *Coordinator
	creator      wallet
	task         address.Address
	nonce        uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{t: t, baseStore: memory.New(), sessionStore: memory.New()}
	f.base = newLedger(t, f.baseStore, account.Rent{LamportsPerByte: 10}, false)
	f.session = newLedger(t, f.sessionStore, account.Rent{}, true)
	f.flaky = &flakyBase{BaseLedger: f.base}

	authority := newWallet(t)
	coord, err := New(Config{
		Base:         f.flaky,
		Session:      f.session,
		SessionStore: f.sessionStore,
		Authority:    authority.key,
		Logf:         t.Logf,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	f.coord = coord

	admin := newWallet(t)
	f.creator = newWallet(t)
	for _, w := range []wallet{admin, f.creator, authority} {
		if _, err := f.base.Airdrop(ctx, w.addr, 10_000_000, "airdrop"); err != nil {
			t.Fatalf("airdrop: %v", err)
		}
	}
	f.runBase(admin, instruction.NewInitAdmin(admin.addr))
	f.runBase(f.creator, instruction.NewCreateTask(f.creator.addr, instruction.TaskFields{
		TaskID:            1,
		RewardPerResponse: 100_000,
		MaxResponses:      3,
		Deadline:          time.Now().Add(time.Hour).Unix(),
		ContentReference:  "ipfs://task",
	}))
	f.runBase(f.creator, instruction.NewDepositFunds(f.creator.addr, admin.addr, 1, 300_000))
	f.runBase(f.creator, instruction.NewDelegateTaskAccount(f.creator.addr, coord.Authority(), 1))
	f.task, _ = account.TaskAddress(instruction.EscrowProgramID, f.creator.addr, 1)
	return f
}

func (f *fixture) sign(signer wallet, ixs ...instruction.Instruction) *transaction.Transaction {
	f.nonce++
	tx := transaction.New(f.nonce, ixs...)
	tx.Sign(signer.key)
	return tx
}

func (f *fixture) runBase(signer wallet, ixs ...instruction.Instruction) {
	f.t.Helper()
	if _, err := f.base.Process(context.Background(), f.sign(signer, ixs...), "base"); err != nil {
		f.t.Fatalf("base: %v", err)
	}
}

func (f *fixture) runSession(signer wallet, ixs ...instruction.Instruction) (runtime.Receipt, error) {
	return f.coord.Process(context.Background(), f.sign(signer, ixs...), "session")
}

func (f *fixture) respond(cid string) wallet {
	f.t.Helper()
	responder := newWallet(f.t)
	if _, err := f.runSession(responder, instruction.NewSubmitResponse(responder.addr, f.task, cid)); err != nil {
		f.t.Fatalf("submit: %v", err)
	}
	return responder
}

func decodeTask(t *testing.T, store storage.AccountStore, addr address.Address) (account.Account, account.Task) {
	t.Helper()
	acct, err := store.GetAccount(context.Background(), addr)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	var task account.Task
	if err := account.Decode(acct.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return acct, task
}

func TestNewValidatesConfig(t *testing.T) {
	store := memory.New()
	session := newLedger(t, store, account.Rent{}, true)
	key := newWallet(t).key
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base", Config{Session: session, SessionStore: store, Authority: key}},
		{"missing session", Config{Base: session, SessionStore: store, Authority: key}},
		{"missing store", Config{Base: session, Session: session, Authority: key}},
		{"missing key", Config{Base: session, Session: session, SessionStore: store}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProcessClonesDelegatedTaskOnDemand(t *testing.T) {
	f := newFixture(t)
	f.respond("ipfs://a")

	acct, task := decodeTask(t, f.sessionStore, f.task)
	if acct.Owner != instruction.EscrowProgramID || acct.Lamports != 0 {
		t.Fatalf("session task = owner %s lamports %d", acct.Owner, acct.Lamports)
	}
	if task.ResponsesReceived != 1 || task.Delegation != account.Delegated {
		t.Fatalf("session task = %+v", task)
	}
	baseAcct, baseTask := decodeTask(t, f.baseStore, f.task)
	if baseAcct.Owner != instruction.DelegationProgramID || baseTask.ResponsesReceived != 0 {
		t.Fatalf("base task changed: owner %s %+v", baseAcct.Owner, baseTask)
	}
}

func TestUndelegateCommitsToBase(t *testing.T) {
	f := newFixture(t)
	a := f.respond("ipfs://a")
	b := f.respond("ipfs://b")

	if _, err := f.runSession(f.creator, instruction.NewUndelegateTaskAccount(f.creator.addr, f.task)); err != nil {
		t.Fatalf("undelegate: %v", err)
	}

	acct, task := decodeTask(t, f.baseStore, f.task)
	if acct.Owner != instruction.EscrowProgramID {
		t.Fatalf("base task owner = %s", acct.Owner)
	}
	if task.ResponsesReceived != 2 || task.Delegation != account.Local {
		t.Fatalf("base task = %+v", task)
	}
	for _, responder := range []wallet{a, b} {
		addr, _ := account.ResponseAddress(instruction.EscrowProgramID, f.task, responder.addr)
		if _, err := f.baseStore.GetAccount(context.Background(), addr); err != nil {
			t.Fatalf("base response %s: %v", addr, err)
		}
		if _, err := f.sessionStore.GetAccount(context.Background(), addr); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("session response not evicted: %v", err)
		}
	}
	if _, err := f.sessionStore.GetAccount(context.Background(), f.task); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("session task not evicted: %v", err)
	}
	accts := instruction.DelegationAccountsFor(f.task)
	if _, err := f.baseStore.GetAccount(context.Background(), accts.Record); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delegation record not closed: %v", err)
	}
	if len(f.coord.Pending()) != 0 {
		t.Fatalf("pending = %v", f.coord.Pending())
	}
}

func TestFailedCommitStaysPending(t *testing.T) {
	f := newFixture(t)
	f.respond("ipfs://a")
	f.flaky.setDown(true)

	if _, err := f.runSession(f.creator, instruction.NewUndelegateTaskAccount(f.creator.addr, f.task)); err != nil {
		t.Fatalf("undelegate: %v", err)
	}
	pending := f.coord.Pending()
	if len(pending) != 1 || pending[0] != f.task {
		t.Fatalf("pending = %v", pending)
	}

	late := newWallet(t)
	_, err := f.runSession(late, instruction.NewSubmitResponse(late.addr, f.task, "ipfs://late"))
	if apperrors.CodeOf(err) != apperrors.CodeAccountLocked {
		t.Fatalf("submit while committing: %v", err)
	}

	f.flaky.setDown(false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx, 10*time.Millisecond) }()
	deadline := time.After(2 * time.Second)
	for len(f.coord.Pending()) > 0 {
		select {
		case <-deadline:
			t.Fatal("commit was not retried")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, task := decodeTask(t, f.baseStore, f.task); task.ResponsesReceived != 1 || task.Delegation != account.Local {
		t.Fatalf("base task = %+v", task)
	}
}

func TestCloneRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.Clone(ctx, newWallet(t).addr); apperrors.CodeOf(err) != apperrors.CodeTaskNotDelegated {
		t.Fatalf("missing task: %v", err)
	}

	f.runBase(f.creator, instruction.NewCreateTask(f.creator.addr, instruction.TaskFields{
		TaskID:            2,
		RewardPerResponse: 1,
		MaxResponses:      1,
		Deadline:          time.Now().Add(time.Hour).Unix(),
		ContentReference:  "ipfs://local",
	}))
	local, _ := account.TaskAddress(instruction.EscrowProgramID, f.creator.addr, 2)
	if _, err := f.coord.Clone(ctx, local); apperrors.CodeOf(err) != apperrors.CodeTaskNotDelegated {
		t.Fatalf("local task: %v", err)
	}

	f.runBase(f.creator, instruction.NewDelegateTaskAccount(f.creator.addr, newWallet(t).addr, 2))
	if _, err := f.coord.Clone(ctx, local); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("foreign authority: %v", err)
	}

	slot, err := f.coord.Clone(ctx, f.task)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	var record account.DelegationRecord
	acct, _ := f.baseStore.GetAccount(ctx, instruction.DelegationAccountsFor(f.task).Record)
	if err := account.Decode(acct.Data, &record); err != nil || record.DelegationSlot != slot {
		t.Fatalf("slot = %d, record %+v (%v)", slot, record, err)
	}
}

func TestCommitRequiresClone(t *testing.T) {
	f := newFixture(t)
	if err := f.coord.Commit(context.Background(), f.task); apperrors.CodeOf(err) != apperrors.CodeTaskNotDelegated {
		t.Fatalf("commit = %v", err)
	}
}
