package runtime

import (
	"fmt"
	"math/bits"
	"time"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
)

// Program executes instructions addressed to its identity.
type Program interface {
	ID() address.Address
	// Controls reports whether the program may write accounts owned by owner.
	Controls(owner address.Address) bool
	Process(ic *InvokeContext, data []byte) error
}

// entry is one account in a transaction's working set.
type entry struct {
	acct     account.Account
	original account.Account
	signer   bool
	writable bool
}

// AccountInfo is a program's view of one instruction account. Infos for the
// same address share state.
type AccountInfo struct {
	Address    address.Address
	IsSigner   bool
	IsWritable bool

	entry *entry
}

// Owner returns the owning program.
func (a *AccountInfo) Owner() address.Address { return a.entry.acct.Owner }

// Lamports returns the custodied balance.
func (a *AccountInfo) Lamports() uint64 { return a.entry.acct.Lamports }

// Data returns the account data. Callers must not modify it; use SetData.
func (a *AccountInfo) Data() []byte { return a.entry.acct.Data }

// IsEmpty reports whether the account holds nothing.
func (a *AccountInfo) IsEmpty() bool { return a.entry.acct.IsEmpty() }

// InvokeContext carries one instruction's accounts and the host services a
// program may use while executing it.
type InvokeContext struct {
	program  Program
	accounts []*AccountInfo
	now      time.Time
	slot     uint64
	rent     account.Rent
	pending  *pending
}

// Now returns the transaction's clock reading.
func (ic *InvokeContext) Now() time.Time { return ic.now }

// Slot returns the slot assigned to the transaction.
func (ic *InvokeContext) Slot() uint64 { return ic.slot }

// ProgramID returns the executing program's identity.
func (ic *InvokeContext) ProgramID() address.Address { return ic.program.ID() }

// Rent returns the ledger's rent schedule.
func (ic *InvokeContext) Rent() account.Rent { return ic.rent }

// Len returns the number of accounts passed to the instruction.
func (ic *InvokeContext) Len() int { return len(ic.accounts) }

// Account returns the i-th instruction account.
func (ic *InvokeContext) Account(i int) (*AccountInfo, error) {
	if i < 0 || i >= len(ic.accounts) {
		return nil, apperrors.New(apperrors.CodeAccountNotEnoughKeys, fmt.Sprintf("account %d of %d", i, len(ic.accounts)))
	}
	return ic.accounts[i], nil
}

// Metas returns the instruction's account list with effective flags.
func (ic *InvokeContext) Metas() []instruction.AccountMeta {
	out := make([]instruction.AccountMeta, len(ic.accounts))
	for i, info := range ic.accounts {
		out[i] = instruction.AccountMeta{Address: info.Address, IsSigner: info.IsSigner, IsWritable: info.IsWritable}
	}
	return out
}

// Remaining returns instruction accounts from index i on.
func (ic *InvokeContext) Remaining(i int) []*AccountInfo {
	if i >= len(ic.accounts) {
		return nil
	}
	return ic.accounts[i:]
}

// Logf appends a line to the transaction's log.
func (ic *InvokeContext) Logf(format string, args ...any) {
	ic.pending.logs = append(ic.pending.logs, fmt.Sprintf(format, args...))
}

// ScheduleUndelegation reports addr in the receipt so a session coordinator
// can commit it back to the base ledger.
func (ic *InvokeContext) ScheduleUndelegation(addr address.Address) {
	ic.pending.scheduled = append(ic.pending.scheduled, addr)
}

func (ic *InvokeContext) requireWritable(info *AccountInfo) error {
	if !info.IsWritable {
		return apperrors.New(apperrors.CodeAccountNotMutable, info.Address.String())
	}
	return nil
}

func (ic *InvokeContext) requireControlled(info *AccountInfo) error {
	if !ic.program.Controls(info.Owner()) {
		return apperrors.New(apperrors.CodeAccountOwnedByWrongProgram,
			fmt.Sprintf("%s owned by %s", info.Address, info.Owner()))
	}
	return nil
}

// SetData replaces the data of a writable account the program controls.
// The length must not change; use Realloc for that.
func (ic *InvokeContext) SetData(info *AccountInfo, data []byte) error {
	if err := ic.requireWritable(info); err != nil {
		return err
	}
	if err := ic.requireControlled(info); err != nil {
		return err
	}
	if len(data) != len(info.entry.acct.Data) {
		return apperrors.New(apperrors.CodeAccountDidNotDeserialize,
			fmt.Sprintf("%s: data length %d, allocated %d", info.Address, len(data), len(info.entry.acct.Data)))
	}
	info.entry.acct.Data = append([]byte(nil), data...)
	return nil
}

// Assign hands a controlled account to another owner.
func (ic *InvokeContext) Assign(info *AccountInfo, owner address.Address) error {
	if err := ic.requireWritable(info); err != nil {
		return err
	}
	if err := ic.requireControlled(info); err != nil {
		return err
	}
	info.entry.acct.Owner = owner
	return nil
}

// Transfer moves lamports. Accounts the program controls can be debited
// directly; a system wallet can be debited only if it signed.
func (ic *InvokeContext) Transfer(from, to *AccountInfo, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	if err := ic.requireWritable(from); err != nil {
		return err
	}
	if err := ic.requireWritable(to); err != nil {
		return err
	}
	if !ic.program.Controls(from.Owner()) {
		if from.Owner() != instruction.SystemProgramID {
			return apperrors.New(apperrors.CodeExternalAccountLamportSpend, from.Address.String())
		}
		if !from.IsSigner {
			return apperrors.New(apperrors.CodeAccountNotSigner, from.Address.String())
		}
	}
	return move(from, to, lamports)
}

func move(from, to *AccountInfo, lamports uint64) error {
	if from.entry == to.entry {
		return nil
	}
	if from.entry.acct.Lamports < lamports {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("%s holds %d, needs %d", from.Address, from.entry.acct.Lamports, lamports),
			map[string]string{"Needed": fmt.Sprint(lamports)})
	}
	sum, carry := bits.Add64(to.entry.acct.Lamports, lamports, 0)
	if carry != 0 {
		return apperrors.New(apperrors.CodeTransferFailed, fmt.Sprintf("credit %s overflows", to.Address))
	}
	from.entry.acct.Lamports -= lamports
	to.entry.acct.Lamports = sum
	return nil
}

// CreateAccount allocates space bytes at target, funds it to the rent
// minimum from payer and assigns it to owner. target must not hold data or
// belong to any program yet.
func (ic *InvokeContext) CreateAccount(payer, target *AccountInfo, space int, owner address.Address) error {
	if err := ic.requireWritable(target); err != nil {
		return err
	}
	if len(target.entry.acct.Data) != 0 || target.Owner() != instruction.SystemProgramID {
		return apperrors.New(apperrors.CodeAlreadyExists, target.Address.String())
	}
	if !ic.program.Controls(owner) {
		return apperrors.New(apperrors.CodeAccountOwnedByWrongProgram, fmt.Sprintf("cannot assign to %s", owner))
	}
	minimum := ic.rent.Minimum(space)
	if target.Lamports() < minimum {
		if err := ic.Transfer(payer, target, minimum-target.Lamports()); err != nil {
			return err
		}
	}
	target.entry.acct.Data = make([]byte, space)
	target.entry.acct.Owner = owner
	return nil
}

// Realloc resizes a controlled account, topping up rent from payer. Shrinking
// keeps the surplus lamports in the account.
func (ic *InvokeContext) Realloc(target, payer *AccountInfo, space int) error {
	if err := ic.requireWritable(target); err != nil {
		return err
	}
	if err := ic.requireControlled(target); err != nil {
		return err
	}
	minimum := ic.rent.Minimum(space)
	if target.Lamports() < minimum {
		if err := ic.Transfer(payer, target, minimum-target.Lamports()); err != nil {
			return err
		}
	}
	data := target.entry.acct.Data
	if space <= len(data) {
		target.entry.acct.Data = append([]byte(nil), data[:space]...)
	} else {
		grown := make([]byte, space)
		copy(grown, data)
		target.entry.acct.Data = grown
	}
	return nil
}

// Close moves every lamport of target to recipient and clears it, so the
// commit deletes the address.
func (ic *InvokeContext) Close(target, recipient *AccountInfo) error {
	if err := ic.requireWritable(target); err != nil {
		return err
	}
	if err := ic.requireControlled(target); err != nil {
		return err
	}
	if target.entry == recipient.entry {
		return apperrors.New(apperrors.CodeConstraintHasOne, "close into itself")
	}
	if err := ic.Transfer(target, recipient, target.Lamports()); err != nil {
		return err
	}
	target.entry.acct.Data = nil
	target.entry.acct.Owner = instruction.SystemProgramID
	return nil
}
