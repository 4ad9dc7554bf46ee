// Package runtime executes signed transactions against an account store:
// it verifies signatures, locks the touched accounts, runs each instruction
// through its program, audits the result and commits it atomically.
package runtime

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/platform/telemetry/metrics"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/transaction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
)

const tracerName = "github.com/louisbranch/taskescrow/runtime"

// Config wires a Ledger.
type Config struct {
	// Name labels telemetry, e.g. "base" or "session".
	Name     string
	Store    storage.AccountStore
	Programs []Program
	Rent     account.Rent
	// Now is read once per transaction. Defaults to time.Now.
	Now  func() time.Time
	Logf func(string, ...any)
}

// Receipt describes a committed transaction.
type Receipt struct {
	Slot                   uint64
	Seq                    uint64
	RequestID              string
	TransactionID          string
	ChainHash              string
	ScheduledUndelegations []address.Address
	Logs                   []string
}

// Ledger processes transactions against one store.
type Ledger struct {
	name     string
	store    storage.AccountStore
	programs map[address.Address]Program
	rent     account.Rent
	now      func() time.Time
	logf     func(string, ...any)
	locks    *lockTable
	slot     atomic.Uint64
	metrics  *metrics.Ledger
	tracer   trace.Tracer
}

// New builds a ledger and resumes its slot counter from the store.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("account store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	if cfg.Name == "" {
		cfg.Name = "ledger"
	}
	programs := map[address.Address]Program{instruction.SystemProgramID: SystemProgram{}}
	for _, program := range cfg.Programs {
		if _, exists := programs[program.ID()]; exists {
			return nil, fmt.Errorf("program already registered: %s", program.ID())
		}
		programs[program.ID()] = program
	}
	instruments, err := metrics.NewLedger(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("ledger metrics: %w", err)
	}
	latest, err := cfg.Store.LatestSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest slot: %w", err)
	}

	l := &Ledger{
		name:     cfg.Name,
		store:    cfg.Store,
		programs: programs,
		rent:     cfg.Rent,
		now:      cfg.Now,
		logf:     cfg.Logf,
		locks:    newLockTable(),
		metrics:  instruments,
		tracer:   otel.Tracer(tracerName),
	}
	l.slot.Store(latest)
	return l, nil
}

// Rent returns the ledger's rent schedule.
func (l *Ledger) Rent() account.Rent { return l.rent }

// Slot returns the last assigned slot.
func (l *Ledger) Slot() uint64 { return l.slot.Load() }

// GetAccount reads committed state.
func (l *Ledger) GetAccount(ctx context.Context, addr address.Address) (account.Account, error) {
	return l.store.GetAccount(ctx, addr)
}

// Process executes tx. Either every instruction succeeds and the result is
// committed with one journal entry, or nothing changes.
func (l *Ledger) Process(ctx context.Context, tx *transaction.Transaction, requestID string) (receipt Receipt, err error) {
	started := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger.Process", trace.WithAttributes(
		attribute.String("ledger.name", l.name),
		attribute.String("ledger.request_id", requestID),
		attribute.Int("ledger.instructions", len(tx.Message.Instructions)),
	))
	defer func() {
		code := ""
		if err != nil {
			code = apperrors.CodeOf(err).Name()
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, code)
			l.logf("ledger %s: request %s rejected: %v", l.name, requestID, err)
		} else {
			span.SetAttributes(attribute.Int64("ledger.slot", int64(receipt.Slot)))
		}
		l.metrics.Transaction(ctx, time.Since(started), code)
		span.End()
	}()

	if err := tx.Verify(); err != nil {
		return Receipt{}, err
	}

	writes, reads := lockSets(tx)
	release, err := l.locks.acquire(ctx, writes, reads)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	// Identical messages lock identical accounts, so the check and the
	// commit below cannot interleave with a concurrent copy.
	digest := tx.MessageID()
	seen, err := l.store.HasTransaction(ctx, digest[:])
	if err != nil {
		return Receipt{}, fmt.Errorf("lookup transaction: %w", err)
	}
	if seen {
		return Receipt{}, duplicateTransaction(digest)
	}

	ws, err := l.load(ctx, tx, writes)
	if err != nil {
		return Receipt{}, err
	}

	slot := l.slot.Add(1)
	now := l.now()
	pend := &pending{}
	for i, ix := range tx.Message.Instructions {
		if err := l.execute(ctx, ws, ix, now, slot, pend); err != nil {
			return Receipt{}, fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	payload := tx.Marshal()
	id := tx.ID()
	entry, err := l.store.Commit(ctx, storage.Batch{
		Entry: storage.JournalEntry{
			Slot:        slot,
			RequestID:   requestID,
			Kind:        storage.KindTransaction,
			Payload:     payload,
			CommittedAt: now,
		},
		Writes:   ws.changes(),
		TxDigest: digest[:],
	})
	if errors.Is(err, storage.ErrDuplicateTransaction) {
		return Receipt{}, duplicateTransaction(digest)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("commit slot %d: %w", slot, err)
	}
	return Receipt{
		Slot:                   slot,
		Seq:                    entry.Seq,
		RequestID:              requestID,
		TransactionID:          hex.EncodeToString(id[:]),
		ChainHash:              entry.ChainHash,
		ScheduledUndelegations: pend.scheduled,
		Logs:                   pend.logs,
	}, nil
}

// Airdrop credits lamports to a system wallet outside any transaction. It
// is the only way lamports enter a ledger.
func (l *Ledger) Airdrop(ctx context.Context, to address.Address, lamports uint64, requestID string) (Receipt, error) {
	release, err := l.locks.acquire(ctx, map[address.Address]bool{to: true}, nil)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	acct, err := l.loadOne(ctx, to)
	if err != nil {
		return Receipt{}, err
	}
	if acct.Owner != instruction.SystemProgramID {
		return Receipt{}, apperrors.New(apperrors.CodeAccountOwnedByWrongProgram, "airdrop to a program account")
	}
	sum, carry := bits.Add64(acct.Lamports, lamports, 0)
	if carry != 0 {
		return Receipt{}, apperrors.New(apperrors.CodeTransferFailed, "airdrop overflows")
	}
	acct.Lamports = sum
	return l.commitDirect(ctx, storage.KindAirdrop, requestID, to.Bytes(), []storage.AccountWrite{{Address: to, Account: acct}})
}

// Install writes accounts as given, bypassing programs. Session ledgers use
// it to clone delegated state.
func (l *Ledger) Install(ctx context.Context, requestID string, writes []storage.AccountWrite) (Receipt, error) {
	return l.direct(ctx, storage.KindClone, requestID, writes)
}

// Evict deletes accounts, bypassing programs.
func (l *Ledger) Evict(ctx context.Context, requestID string, addrs ...address.Address) (Receipt, error) {
	writes := make([]storage.AccountWrite, 0, len(addrs))
	for _, addr := range addrs {
		writes = append(writes, storage.AccountWrite{Address: addr})
	}
	return l.direct(ctx, storage.KindEvict, requestID, writes)
}

func (l *Ledger) direct(ctx context.Context, kind, requestID string, writes []storage.AccountWrite) (Receipt, error) {
	locked := make(map[address.Address]bool, len(writes))
	payload := make([]byte, 0, len(writes)*address.Size)
	for _, write := range writes {
		locked[write.Address] = true
		payload = append(payload, write.Address.Bytes()...)
	}
	release, err := l.locks.acquire(ctx, locked, nil)
	if err != nil {
		return Receipt{}, err
	}
	defer release()
	return l.commitDirect(ctx, kind, requestID, payload, writes)
}

func (l *Ledger) commitDirect(ctx context.Context, kind, requestID string, payload []byte, writes []storage.AccountWrite) (Receipt, error) {
	slot := l.slot.Add(1)
	entry, err := l.store.Commit(ctx, storage.Batch{
		Entry: storage.JournalEntry{
			Slot:        slot,
			RequestID:   requestID,
			Kind:        kind,
			Payload:     payload,
			CommittedAt: l.now(),
		},
		Writes: writes,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("commit %s: %w", kind, err)
	}
	return Receipt{Slot: slot, Seq: entry.Seq, RequestID: requestID, ChainHash: entry.ChainHash}, nil
}

type pending struct {
	scheduled []address.Address
	logs      []string
}

// workingSet holds every account a transaction touches.
type workingSet struct {
	entries map[address.Address]*entry
	order   []address.Address
}

func (ws *workingSet) changes() []storage.AccountWrite {
	var out []storage.AccountWrite
	for _, addr := range ws.order {
		e := ws.entries[addr]
		if !e.acct.Equal(e.original) {
			out = append(out, storage.AccountWrite{Address: addr, Account: e.acct.Clone()})
		}
	}
	return out
}

func lockSets(tx *transaction.Transaction) (writes, reads map[address.Address]bool) {
	writes = make(map[address.Address]bool)
	reads = make(map[address.Address]bool)
	for _, ix := range tx.Message.Instructions {
		reads[ix.ProgramID] = true
		for _, meta := range ix.Accounts {
			if meta.IsWritable {
				writes[meta.Address] = true
			} else {
				reads[meta.Address] = true
			}
		}
	}
	return writes, reads
}

func (l *Ledger) loadOne(ctx context.Context, addr address.Address) (account.Account, error) {
	acct, err := l.store.GetAccount(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, nil
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("load account %s: %w", addr, err)
	}
	return acct, nil
}

func (l *Ledger) load(ctx context.Context, tx *transaction.Transaction, writes map[address.Address]bool) (*workingSet, error) {
	signers := tx.Signers()
	ws := &workingSet{entries: make(map[address.Address]*entry)}
	for _, ix := range tx.Message.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := ws.entries[meta.Address]; ok {
				continue
			}
			acct, err := l.loadOne(ctx, meta.Address)
			if err != nil {
				return nil, err
			}
			ws.entries[meta.Address] = &entry{
				acct:     acct,
				original: acct.Clone(),
				signer:   signers[meta.Address],
				writable: writes[meta.Address],
			}
			ws.order = append(ws.order, meta.Address)
		}
	}
	return ws, nil
}

type snapshot struct {
	owner    address.Address
	lamports uint64
	data     []byte
}

func (l *Ledger) execute(ctx context.Context, ws *workingSet, ix instruction.Instruction, now time.Time, slot uint64, pend *pending) (err error) {
	program, ok := l.programs[ix.ProgramID]
	if !ok {
		return apperrors.New(apperrors.CodeInstructionFallbackNotFound, fmt.Sprintf("program %s", ix.ProgramID))
	}

	ic := &InvokeContext{program: program, now: now, slot: slot, rent: l.rent, pending: pend}
	before := make(map[address.Address]snapshot, len(ix.Accounts))
	writable := make(map[address.Address]bool, len(ix.Accounts))
	signer := make(map[address.Address]bool, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		e := ws.entries[meta.Address]
		ic.accounts = append(ic.accounts, &AccountInfo{
			Address:    meta.Address,
			IsSigner:   meta.IsSigner && e.signer,
			IsWritable: meta.IsWritable && e.writable,
			entry:      e,
		})
		writable[meta.Address] = writable[meta.Address] || meta.IsWritable
		signer[meta.Address] = signer[meta.Address] || meta.IsSigner
		if _, seen := before[meta.Address]; !seen {
			before[meta.Address] = snapshot{owner: e.acct.Owner, lamports: e.acct.Lamports, data: append([]byte(nil), e.acct.Data...)}
		}
	}

	name := instructionName(ix)
	defer func() {
		code := ""
		if err != nil {
			code = apperrors.CodeOf(err).Name()
		}
		l.metrics.Instruction(ctx, name, code)
	}()

	if err := program.Process(ic, ix.Data); err != nil {
		return err
	}
	return audit(program, ws, before, writable, signer)
}

// audit enforces host accounting rules after an instruction: read-only
// accounts are untouched, only controlled accounts or signing wallets lose
// lamports, only controlled or newly allocated accounts change data or
// owner, and lamports are conserved.
func audit(program Program, ws *workingSet, before map[address.Address]snapshot, writable, signer map[address.Address]bool) error {
	var pre, post uint64
	var preCarry, postCarry uint64
	for addr, snap := range before {
		acct := ws.entries[addr].acct
		changed := acct.Owner != snap.owner || acct.Lamports != snap.lamports || !bytes.Equal(acct.Data, snap.data)
		if changed && !writable[addr] {
			return apperrors.New(apperrors.CodeReadonlyDataModified, addr.String())
		}
		controlled := program.Controls(snap.owner)
		if acct.Lamports < snap.lamports && !controlled {
			if snap.owner != instruction.SystemProgramID || !signer[addr] {
				return apperrors.New(apperrors.CodeExternalAccountLamportSpend, addr.String())
			}
		}
		fresh := snap.owner == instruction.SystemProgramID && len(snap.data) == 0
		if (acct.Owner != snap.owner || !bytes.Equal(acct.Data, snap.data)) && !controlled && !fresh {
			return apperrors.New(apperrors.CodeAccountOwnedByWrongProgram, addr.String())
		}
		var c uint64
		pre, c = bits.Add64(pre, snap.lamports, 0)
		preCarry += c
		post, c = bits.Add64(post, acct.Lamports, 0)
		postCarry += c
	}
	if pre != post || preCarry != postCarry {
		return apperrors.New(apperrors.CodeUnbalancedTransaction, "lamports not conserved")
	}
	return nil
}

var opcodeNames = func() map[[instruction.OpcodeSize]byte]string {
	out := make(map[[instruction.OpcodeSize]byte]string)
	for _, def := range instruction.Definitions() {
		out[instruction.Opcode(def.Name)] = string(def.Name)
	}
	return out
}()

func instructionName(ix instruction.Instruction) string {
	if ix.ProgramID == instruction.SystemProgramID {
		return "system_transfer"
	}
	if len(ix.Data) >= instruction.OpcodeSize {
		if name, ok := opcodeNames[[instruction.OpcodeSize]byte(ix.Data[:instruction.OpcodeSize])]; ok {
			return name
		}
	}
	return "unknown"
}

func duplicateTransaction(digest [sha256.Size]byte) error {
	return apperrors.New(apperrors.CodeDuplicateTransaction, "message "+hex.EncodeToString(digest[:])+" already committed")
}
