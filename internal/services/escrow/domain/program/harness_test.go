package program

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/memory"
)

var testRent = account.Rent{LamportsPerByte: 10}

type wallet struct {
	key  ed25519.PrivateKey
	addr address.Address
}

type harness struct {
	t      *testing.T
	store  *memory.Store
	ledger *runtime.Ledger
	now    time.Time
	nonce  uint64
}

func newHarness(t *testing.T, cfg Config, rent account.Rent) *harness {
	t.Helper()
	prog, err := New(cfg)
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	h := &harness{t: t, store: memory.New(), now: time.Unix(1_700_000_000, 0)}
	h.ledger, err = runtime.New(context.Background(), runtime.Config{
		Name:     t.Name(),
		Store:    h.store,
		Programs: []runtime.Program{prog},
		Rent:     rent,
		Now:      func() time.Time { return h.now },
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return h
}

// newBase is a fee-free base ledger with rent.
func newBase(t *testing.T) *harness {
	return newHarness(t, Config{Fee: fee.Free}, testRent)
}

func (h *harness) wallet(lamports uint64) wallet {
	h.t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	var w wallet
	w.key = key
	copy(w.addr[:], pub)
	if lamports > 0 {
		if _, err := h.ledger.Airdrop(context.Background(), w.addr, lamports, "airdrop"); err != nil {
			h.t.Fatalf("airdrop: %v", err)
		}
	}
	return w
}

func (h *harness) run(signers []wallet, ixs ...instruction.Instruction) (runtime.Receipt, error) {
	h.nonce++
	tx := transaction.New(h.nonce, ixs...)
	for _, s := range signers {
		tx.Sign(s.key)
	}
	return h.ledger.Process(context.Background(), tx, "test")
}

func (h *harness) mustRun(signers []wallet, ixs ...instruction.Instruction) runtime.Receipt {
	h.t.Helper()
	receipt, err := h.run(signers, ixs...)
	if err != nil {
		h.t.Fatalf("run: %v", err)
	}
	return receipt
}

func (h *harness) account(addr address.Address) (account.Account, bool) {
	h.t.Helper()
	acct, err := h.store.GetAccount(context.Background(), addr)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, false
	}
	if err != nil {
		h.t.Fatalf("get %s: %v", addr, err)
	}
	return acct, true
}

func (h *harness) lamports(addr address.Address) uint64 {
	acct, _ := h.account(addr)
	return acct.Lamports
}

func (h *harness) decode(addr address.Address, rec account.Record) {
	h.t.Helper()
	acct, ok := h.account(addr)
	if !ok {
		h.t.Fatalf("%s %s does not exist", rec.Kind(), addr)
	}
	if err := account.Decode(acct.Data, rec); err != nil {
		h.t.Fatalf("decode %s: %v", rec.Kind(), err)
	}
}

func (h *harness) task(addr address.Address) account.Task {
	var task account.Task
	h.decode(addr, &task)
	return task
}

func (h *harness) vault(task address.Address) account.RewardVault {
	var vault account.RewardVault
	addr, _ := account.VaultAddress(instruction.EscrowProgramID, task)
	h.decode(addr, &vault)
	return vault
}

func (h *harness) response(task, responder address.Address) account.Response {
	var response account.Response
	addr, _ := account.ResponseAddress(instruction.EscrowProgramID, task, responder)
	h.decode(addr, &response)
	return response
}

// totalLamports sums every account the ledger holds.
func (h *harness) totalLamports() uint64 {
	h.t.Helper()
	var total uint64
	for _, owner := range []address.Address{instruction.SystemProgramID, instruction.EscrowProgramID, instruction.DelegationProgramID} {
		err := h.store.ScanAccounts(context.Background(), owner, func(_ address.Address, acct account.Account) error {
			total += acct.Lamports
			return nil
		})
		if err != nil {
			h.t.Fatalf("scan: %v", err)
		}
	}
	return total
}

func (h *harness) fields(taskID uint64) instruction.TaskFields {
	return instruction.TaskFields{
		TaskID:            taskID,
		RewardPerResponse: 100_000,
		MaxResponses:      2,
		Deadline:          h.now.Add(time.Hour).Unix(),
		ContentReference:  "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
	}
}

// createTask opens a task and returns its address.
func (h *harness) createTask(creator wallet, f instruction.TaskFields) address.Address {
	h.t.Helper()
	h.mustRun([]wallet{creator}, instruction.NewCreateTask(creator.addr, f))
	addr, _ := account.TaskAddress(instruction.EscrowProgramID, creator.addr, f.TaskID)
	return addr
}

func requireCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got success", want.Name())
	}
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("code = %s, want %s (err %v)", got.Name(), want.Name(), err)
	}
}
