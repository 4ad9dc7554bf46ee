// Package instruction defines the escrow request surface: opcodes, argument
// layouts, the accounts each request names, and builders for callers.
package instruction

import (
	"crypto/sha256"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

// Program identities.
var (
	// EscrowProgramID owns tasks, vaults, responses and the admin registry.
	EscrowProgramID = address.MustParse("Afja4Q8urL5j8Hn3PpCkgP2Tgpe8xtp98khPmAVZF5Vk")
	// DelegationProgramID owns a task while it is delegated, and the
	// delegation record, metadata and buffer.
	DelegationProgramID = address.MustParse("DELeGGvXpWV2fqJUhqcF5ZSYMS4JTLjteaAMARRSaeSh")
	// SystemProgramID owns plain wallets and moves their lamports.
	SystemProgramID = address.Zero
)

// OpcodeSize is the byte length of an instruction tag.
const OpcodeSize = 8

// Name is the snake_case name of an escrow instruction.
type Name string

const (
	InitAdmin             Name = "init_admin"
	CreateTask            Name = "create_task"
	UpdateTask            Name = "update_task"
	DepositFunds          Name = "deposit_funds"
	SubmitResponse        Name = "submit_response"
	VerifyResponse        Name = "verify_response"
	DisburseRewards       Name = "disburse_rewards"
	MarkTaskComplete      Name = "mark_task_complete"
	RefundRemaining       Name = "refund_remaining"
	CancelTask            Name = "cancel_task"
	DelegateTaskAccount   Name = "delegate_task_account"
	UndelegateTaskAccount Name = "undelegate_task_account"
	CommitDelegatedState  Name = "commit_delegated_state"
	ProcessUndelegation   Name = "process_undelegation"
)

// Opcode returns the 8-byte tag for an instruction name.
func Opcode(name Name) [OpcodeSize]byte {
	sum := sha256.Sum256([]byte("global:" + string(name)))
	var out [OpcodeSize]byte
	copy(out[:], sum[:OpcodeSize])
	return out
}

// AccountMeta is one account reference in an instruction.
type AccountMeta struct {
	Address    address.Address
	IsSigner   bool
	IsWritable bool
}

// Writable references a writable account.
func Writable(addr address.Address, signer bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: signer, IsWritable: true}
}

// Readonly references a read-only account.
func Readonly(addr address.Address, signer bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: signer}
}

// Instruction is one program invocation.
type Instruction struct {
	ProgramID address.Address
	Accounts  []AccountMeta
	Data      []byte
}
