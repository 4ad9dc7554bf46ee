// Package session runs delegated tasks on a session ledger and commits them
// back to the base ledger once their creator undelegates.
package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/platform/id"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
)

// BaseLedger is the ledger tasks are delegated from.
type BaseLedger interface {
	Process(ctx context.Context, tx *transaction.Transaction, requestID string) (runtime.Receipt, error)
	GetAccount(ctx context.Context, addr address.Address) (account.Account, error)
}

// Config wires a Coordinator.
type Config struct {
	Base    BaseLedger
	Session *runtime.Ledger
	// SessionStore is the store behind Session, scanned for new responses.
	SessionStore storage.AccountScanner
	// Authority signs commits; delegations must name its public key.
	Authority ed25519.PrivateKey
	Logf      func(string, ...any)
}

// Coordinator moves delegated tasks between the base and session ledgers.
type Coordinator struct {
	base      BaseLedger
	session   *runtime.Ledger
	scanner   storage.AccountScanner
	authority ed25519.PrivateKey
	self      address.Address
	logf      func(string, ...any)
	nonce     atomic.Uint64

	// gate lets session transactions run together while a commit reads and
	// evicts task state alone.
	gate sync.RWMutex

	mu      sync.Mutex
	cloned  map[address.Address]uint64
	pending map[address.Address]bool
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Base == nil {
		return nil, errors.New("base ledger is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session ledger is required")
	}
	if cfg.SessionStore == nil {
		return nil, errors.New("session store is required")
	}
	if len(cfg.Authority) != ed25519.PrivateKeySize {
		return nil, errors.New("session authority key is required")
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	c := &Coordinator{
		base:      cfg.Base,
		session:   cfg.Session,
		scanner:   cfg.SessionStore,
		authority: cfg.Authority,
		logf:      cfg.Logf,
		cloned:    map[address.Address]uint64{},
		pending:   map[address.Address]bool{},
	}
	copy(c.self[:], cfg.Authority.Public().(ed25519.PublicKey))
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c, nil
}

// Authority returns the address delegations must name.
func (c *Coordinator) Authority() address.Address { return c.self }

// GetAccount reads session state.
func (c *Coordinator) GetAccount(ctx context.Context, addr address.Address) (account.Account, error) {
	return c.session.GetAccount(ctx, addr)
}

// Airdrop funds a wallet on the session ledger.
func (c *Coordinator) Airdrop(ctx context.Context, to address.Address, lamports uint64, requestID string) (runtime.Receipt, error) {
	return c.session.Airdrop(ctx, to, lamports, requestID)
}

// Clone copies a task delegated to this authority from the base ledger into
// the session ledger and returns its delegation slot. The session copy is
// owned by the escrow program and holds no lamports.
func (c *Coordinator) Clone(ctx context.Context, task address.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cloneLocked(ctx, task)
}

func (c *Coordinator) cloneLocked(ctx context.Context, task address.Address) (uint64, error) {
	if slot, ok := c.cloned[task]; ok {
		return slot, nil
	}
	if c.pending[task] {
		return 0, apperrors.New(apperrors.CodeAccountLocked, "task is committing to base")
	}
	acct, err := c.base.GetAccount(ctx, task)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, apperrors.New(apperrors.CodeTaskNotDelegated, "task not found on base ledger")
	}
	if err != nil {
		return 0, fmt.Errorf("read base task: %w", err)
	}
	if acct.Owner != instruction.DelegationProgramID {
		return 0, apperrors.New(apperrors.CodeTaskNotDelegated, "task is not delegated")
	}
	var record account.DelegationRecord
	if err := c.readBase(ctx, instruction.DelegationAccountsFor(task).Record, &record); err != nil {
		return 0, fmt.Errorf("read delegation record: %w", err)
	}
	if record.Authority != c.self {
		return 0, apperrors.New(apperrors.CodeUnauthorized, "task is delegated to another session")
	}

	requestID, err := id.New(id.PrefixClone)
	if err != nil {
		return 0, err
	}
	if _, err := c.session.Install(ctx, requestID, []storage.AccountWrite{{
		Address: task,
		Account: account.Account{Owner: instruction.EscrowProgramID, Data: acct.Data},
	}}); err != nil {
		return 0, fmt.Errorf("install task: %w", err)
	}
	c.cloned[task] = record.DelegationSlot
	c.logf("cloned task %s at delegation slot %d", task, record.DelegationSlot)
	return record.DelegationSlot, nil
}

// Process runs tx on the session ledger, cloning any delegated task it
// names first, and commits the tasks it undelegates.
func (c *Coordinator) Process(ctx context.Context, tx *transaction.Transaction, requestID string) (runtime.Receipt, error) {
	receipt, err := c.run(ctx, tx, requestID)
	if err != nil {
		return receipt, err
	}
	for _, task := range receipt.ScheduledUndelegations {
		if err := c.Commit(ctx, task); err != nil {
			c.logf("commit task %s: %v", task, err)
		}
	}
	return receipt, nil
}

func (c *Coordinator) run(ctx context.Context, tx *transaction.Transaction, requestID string) (runtime.Receipt, error) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if err := c.prepare(ctx, tx); err != nil {
		return runtime.Receipt{}, err
	}
	receipt, err := c.session.Process(ctx, tx, requestID)
	if err != nil {
		return receipt, err
	}
	if len(receipt.ScheduledUndelegations) > 0 {
		c.mu.Lock()
		for _, task := range receipt.ScheduledUndelegations {
			c.pending[task] = true
		}
		c.mu.Unlock()
	}
	return receipt, nil
}

// prepare clones the delegated tasks tx touches that the session lacks.
// Accounts that are not delegated tasks are left to the program to reject.
func (c *Coordinator) prepare(ctx context.Context, tx *transaction.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[address.Address]bool{}
	for _, ix := range tx.Message.Instructions {
		if ix.ProgramID != instruction.EscrowProgramID {
			continue
		}
		for _, meta := range ix.Accounts {
			if meta.IsSigner || seen[meta.Address] {
				continue
			}
			seen[meta.Address] = true
			if c.pending[meta.Address] {
				return apperrors.New(apperrors.CodeAccountLocked, "task is committing to base")
			}
			if _, ok := c.cloned[meta.Address]; ok {
				continue
			}
			if _, err := c.session.GetAccount(ctx, meta.Address); err == nil {
				continue
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			acct, err := c.base.GetAccount(ctx, meta.Address)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("read base account: %w", err)
			}
			if kind, ok := account.KindOf(acct.Data); !ok || kind != account.KindTask || acct.Owner != instruction.DelegationProgramID {
				continue
			}
			if _, err := c.cloneLocked(ctx, meta.Address); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit writes the session state of task back to the base ledger in one
// transaction that commits the buffer and reconciles it, then evicts the
// task and its responses from the session. A failed commit stays pending.
func (c *Coordinator) Commit(ctx context.Context, task address.Address) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	slot, ok := c.cloned[task]
	c.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.CodeTaskNotDelegated, "task is not cloned in this session")
	}

	taskAcct, err := c.session.GetAccount(ctx, task)
	if err != nil {
		return fmt.Errorf("read session task: %w", err)
	}
	var metadata account.DelegationMetadata
	if err := c.readBase(ctx, instruction.DelegationAccountsFor(task).Metadata, &metadata); err != nil {
		return fmt.Errorf("read delegation metadata: %w", err)
	}
	responders, responses, err := c.responses(ctx, task)
	if err != nil {
		return err
	}

	args := instruction.CommitDelegatedStateArgs{DelegationSlot: slot, Task: taskAcct.Data, Responses: responses}
	tx := transaction.New(c.nonce.Add(1),
		instruction.NewCommitDelegatedState(c.self, task, args),
		instruction.NewProcessUndelegation(c.self, metadata.RentPayer, task, metadata.Seeds, responders))
	tx.Sign(c.authority)

	requestID, err := id.New(id.PrefixCommit)
	if err != nil {
		return err
	}
	receipt, err := c.base.Process(ctx, tx, requestID)
	if err != nil {
		return fmt.Errorf("reconcile on base: %w", err)
	}

	evict := []address.Address{task}
	for _, responder := range responders {
		addr, _ := account.ResponseAddress(instruction.EscrowProgramID, task, responder)
		evict = append(evict, addr)
	}
	if _, err := c.session.Evict(ctx, requestID, evict...); err != nil {
		return fmt.Errorf("evict committed task: %w", err)
	}

	c.mu.Lock()
	delete(c.cloned, task)
	delete(c.pending, task)
	c.mu.Unlock()
	c.logf("committed task %s with %d responses at base slot %d", task, len(responders), receipt.Slot)
	return nil
}

// Pending returns the tasks scheduled for commit that have not landed yet.
func (c *Coordinator) Pending() []address.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]address.Address, 0, len(c.pending))
	for task := range c.pending {
		out = append(out, task)
	}
	return out
}

// Run retries pending commits every interval until ctx ends.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, task := range c.Pending() {
				if err := c.Commit(ctx, task); err != nil {
					c.logf("retry commit task %s: %v", task, err)
				}
			}
		}
	}
}

// responses returns the session responses to task in address order.
func (c *Coordinator) responses(ctx context.Context, task address.Address) ([]address.Address, [][]byte, error) {
	var responders []address.Address
	var data [][]byte
	err := c.scanner.ScanAccounts(ctx, instruction.EscrowProgramID, func(addr address.Address, acct account.Account) error {
		if kind, ok := account.KindOf(acct.Data); !ok || kind != account.KindResponse {
			return nil
		}
		var response account.Response
		if err := account.Decode(acct.Data, &response); err != nil {
			return err
		}
		if want, _ := account.ResponseAddress(instruction.EscrowProgramID, task, response.Responder); want != addr {
			return nil
		}
		responders = append(responders, response.Responder)
		data = append(data, acct.Data)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan session responses: %w", err)
	}
	return responders, data, nil
}

func (c *Coordinator) readBase(ctx context.Context, addr address.Address, rec account.Record) error {
	acct, err := c.base.GetAccount(ctx, addr)
	if err != nil {
		return err
	}
	return account.Decode(acct.Data, rec)
}
