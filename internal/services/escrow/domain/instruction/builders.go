package instruction

import (
	"encoding/binary"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

// SystemTransferTag selects the system program's transfer instruction.
const SystemTransferTag uint32 = 2

// NewSystemTransfer moves lamports between two system-owned wallets.
func NewSystemTransfer(from, to address.Address, lamports uint64) Instruction {
	data := binary.LittleEndian.AppendUint32(nil, SystemTransferTag)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{Writable(from, true), Writable(to, false)},
		Data:      data,
	}
}

func escrow(args Payload, metas ...AccountMeta) Instruction {
	return Instruction{ProgramID: EscrowProgramID, Accounts: metas, Data: Encode(args)}
}

func system() AccountMeta { return Readonly(SystemProgramID, false) }

func taskAddress(creator address.Address, taskID uint64) address.Address {
	addr, _ := account.TaskAddress(EscrowProgramID, creator, taskID)
	return addr
}

func vaultAddress(task address.Address) address.Address {
	addr, _ := account.VaultAddress(EscrowProgramID, task)
	return addr
}

func adminAddress() address.Address {
	addr, _ := account.AdminAddress(EscrowProgramID)
	return addr
}

func responseAddress(task, responder address.Address) address.Address {
	addr, _ := account.ResponseAddress(EscrowProgramID, task, responder)
	return addr
}

// NewInitAdmin registers authority as the escrow admin.
func NewInitAdmin(authority address.Address) Instruction {
	return escrow(InitAdminArgs{}, Writable(adminAddress(), false), Writable(authority, true), system())
}

// NewCreateTask opens a task under creator.
func NewCreateTask(creator address.Address, fields TaskFields) Instruction {
	return escrow(CreateTaskArgs{fields},
		Writable(taskAddress(creator, fields.TaskID), false), Writable(creator, true), system())
}

// NewUpdateTask rewrites an open task's terms.
func NewUpdateTask(creator address.Address, fields TaskFields) Instruction {
	return escrow(UpdateTaskArgs{fields},
		Writable(taskAddress(creator, fields.TaskID), false), Readonly(creator, true))
}

// NewDepositFunds escrows amount for a task; the fee goes to adminAuthority.
func NewDepositFunds(creator, adminAuthority address.Address, taskID, amount uint64) Instruction {
	task := taskAddress(creator, taskID)
	return escrow(DepositFundsArgs{TaskID: taskID, Amount: amount},
		Readonly(task, false),
		Writable(vaultAddress(task), false),
		Readonly(adminAddress(), false),
		Writable(adminAuthority, false),
		Writable(creator, true),
		system())
}

// NewSubmitResponse records responder's submission to task.
func NewSubmitResponse(responder, task address.Address, contentReference string) Instruction {
	return escrow(SubmitResponseArgs{ContentReference: contentReference},
		Writable(task, false), Writable(responseAddress(task, responder), false), Writable(responder, true), system())
}

// NewVerifyResponse marks responder's submission as verified.
func NewVerifyResponse(authority, task, responder address.Address) Instruction {
	return escrow(VerifyResponseArgs{},
		Readonly(adminAddress(), false),
		Writable(responseAddress(task, responder), false),
		Readonly(task, false),
		Readonly(authority, true))
}

// NewDisburseRewards pays amount from task's vault to responder.
func NewDisburseRewards(authority, task, responder address.Address, amount uint64) Instruction {
	return escrow(DisburseRewardsArgs{Amount: amount},
		Readonly(adminAddress(), false),
		Readonly(task, false),
		Writable(vaultAddress(task), false),
		Writable(responseAddress(task, responder), false),
		Writable(responder, false),
		Readonly(authority, true))
}

// NewMarkTaskComplete closes a task to responses; signer is the creator or
// the admin authority.
func NewMarkTaskComplete(signer, task address.Address) Instruction {
	return escrow(MarkTaskCompleteArgs{},
		Writable(task, false), Readonly(adminAddress(), false), Readonly(signer, true))
}

// NewRefundRemaining returns the vault balance to creator.
func NewRefundRemaining(creator address.Address, taskID uint64) Instruction {
	task := taskAddress(creator, taskID)
	return escrow(RefundRemainingArgs{},
		Writable(task, false), Writable(vaultAddress(task), false), Writable(creator, true))
}

// NewCancelTask closes a task and its vault, returning every lamport to creator.
func NewCancelTask(creator address.Address, taskID uint64) Instruction {
	task := taskAddress(creator, taskID)
	return escrow(CancelTaskArgs{},
		Writable(task, false), Writable(vaultAddress(task), false), Writable(creator, true))
}

// NewDelegateTaskAccount hands a task to sessionAuthority.
func NewDelegateTaskAccount(creator, sessionAuthority address.Address, taskID uint64) Instruction {
	task := taskAddress(creator, taskID)
	accts := DelegationAccountsFor(task)
	return escrow(DelegateTaskAccountArgs{TaskID: taskID},
		Writable(task, false),
		Writable(accts.Buffer, false),
		Writable(accts.Record, false),
		Writable(accts.Metadata, false),
		Writable(creator, true),
		Readonly(sessionAuthority, false),
		system())
}

// NewUndelegateTaskAccount schedules a delegated task for commit.
func NewUndelegateTaskAccount(creator, task address.Address) Instruction {
	return escrow(UndelegateTaskAccountArgs{}, Readonly(creator, true), Writable(task, false))
}

// DelegationAccounts are the addresses holding a task's delegation state.
type DelegationAccounts struct {
	Buffer   address.Address
	Record   address.Address
	Metadata address.Address
}

// DelegationAccountsFor derives the delegation state addresses of task.
func DelegationAccountsFor(task address.Address) DelegationAccounts {
	buffer, _ := account.BufferAddress(DelegationProgramID, task)
	record, _ := account.DelegationAddress(DelegationProgramID, task)
	meta, _ := account.DelegationMetadataAddress(DelegationProgramID, task)
	return DelegationAccounts{Buffer: buffer, Record: record, Metadata: meta}
}

// NewCommitDelegatedState writes the session's committed state to task's buffer.
func NewCommitDelegatedState(authority, task address.Address, args CommitDelegatedStateArgs) Instruction {
	accts := DelegationAccountsFor(task)
	return escrow(args,
		Writable(accts.Buffer, false),
		Readonly(accts.Record, false),
		Readonly(task, false),
		Writable(authority, true),
		system())
}

// NewProcessUndelegation reconciles a committed buffer into task. responders
// names, in buffer order, the responders whose records the commit creates.
func NewProcessUndelegation(authority, rentPayer, task address.Address, seeds [][]byte, responders []address.Address) Instruction {
	accts := DelegationAccountsFor(task)
	metas := []AccountMeta{
		Writable(task, false),
		Writable(accts.Buffer, false),
		Writable(accts.Record, false),
		Writable(accts.Metadata, false),
		Writable(authority, true),
		Writable(rentPayer, false),
		system(),
	}
	for _, responder := range responders {
		metas = append(metas, Writable(responseAddress(task, responder), false))
	}
	return escrow(ProcessUndelegationArgs{AccountSeeds: seeds}, metas...)
}
