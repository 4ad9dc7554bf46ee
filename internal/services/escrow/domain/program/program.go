// Package program implements the escrow program: task lifecycle, reward
// vaults, responses, verification and the delegation handoff.
package program

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

// Config holds deployment policy.
type Config struct {
	Fee fee.Policy
	// MinResponsesToComplete gates markTaskComplete; zero disables it.
	MinResponsesToComplete uint16
	// Session marks a delegated session ledger. Admin authority only exists
	// on the base ledger, so the admin instructions and the admin path of
	// markTaskComplete are refused.
	Session bool
}

// Program is the escrow program.
type Program struct {
	cfg      Config
	registry *instruction.Registry
}

// New validates cfg and builds the program.
func New(cfg Config) (*Program, error) {
	if err := cfg.Fee.Validate(); err != nil {
		return nil, fmt.Errorf("fee policy %s: %w", cfg.Fee, err)
	}
	return &Program{cfg: cfg, registry: instruction.NewEscrowRegistry()}, nil
}

// ID returns the escrow program identity.
func (p *Program) ID() address.Address { return instruction.EscrowProgramID }

// Controls reports whether the program may write accounts owned by owner.
// Delegation state is owned by the delegation identity, which this program
// administers.
func (p *Program) Controls(owner address.Address) bool {
	return owner == instruction.EscrowProgramID || owner == instruction.DelegationProgramID
}

// Process decodes one instruction and runs it.
func (p *Program) Process(ic *runtime.InvokeContext, data []byte) error {
	decoded, err := p.registry.Decode(data, ic.Metas())
	if err != nil {
		return err
	}
	if p.cfg.Session && baseOnly(decoded.Args) {
		return apperrors.New(apperrors.CodeUnauthorized,
			fmt.Sprintf("%s is not available on a session ledger", decoded.Definition.Name))
	}
	a := accounts(ic.Remaining(0))
	switch args := decoded.Args.(type) {
	case *instruction.InitAdminArgs:
		return p.initAdmin(ic, a)
	case *instruction.CreateTaskArgs:
		return p.createTask(ic, a, args.TaskFields)
	case *instruction.UpdateTaskArgs:
		return p.updateTask(ic, a, args.TaskFields)
	case *instruction.DepositFundsArgs:
		return p.depositFunds(ic, a, args)
	case *instruction.SubmitResponseArgs:
		return p.submitResponse(ic, a, args.ContentReference)
	case *instruction.VerifyResponseArgs:
		return p.verifyResponse(ic, a)
	case *instruction.DisburseRewardsArgs:
		return p.disburseRewards(ic, a, args.Amount)
	case *instruction.MarkTaskCompleteArgs:
		return p.markTaskComplete(ic, a)
	case *instruction.RefundRemainingArgs:
		return p.refundRemaining(ic, a)
	case *instruction.CancelTaskArgs:
		return p.cancelTask(ic, a)
	case *instruction.DelegateTaskAccountArgs:
		return p.delegateTaskAccount(ic, a, args.TaskID)
	case *instruction.UndelegateTaskAccountArgs:
		return p.undelegateTaskAccount(ic, a)
	case *instruction.CommitDelegatedStateArgs:
		return p.commitDelegatedState(ic, a, args)
	case *instruction.ProcessUndelegationArgs:
		return p.processUndelegation(ic, a, args.AccountSeeds)
	default:
		return apperrors.New(apperrors.CodeInstructionFallbackNotFound, string(decoded.Definition.Name))
	}
}

// baseOnly reports instructions that act with the admin authority or move
// funds into a vault, neither of which a session ledger holds.
func baseOnly(args any) bool {
	switch args.(type) {
	case *instruction.InitAdminArgs,
		*instruction.VerifyResponseArgs,
		*instruction.DisburseRewardsArgs,
		*instruction.DepositFundsArgs:
		return true
	}
	return false
}

// accounts are positional; the registry already checked the count.
type accounts []*runtime.AccountInfo

// uninitialized reports an address nothing has been allocated at.
func uninitialized(info *runtime.AccountInfo) bool {
	return len(info.Data()) == 0 && info.Owner() == instruction.SystemProgramID
}

// load decodes rec from an account that owner must own.
func load(info *runtime.AccountInfo, owner address.Address, rec account.Record) error {
	if uninitialized(info) {
		return apperrors.New(apperrors.CodeAccountNotInitialized, fmt.Sprintf("%s %s", rec.Kind(), info.Address))
	}
	if info.Owner() != owner {
		return apperrors.New(apperrors.CodeAccountOwnedByWrongProgram,
			fmt.Sprintf("%s %s owned by %s", rec.Kind(), info.Address, info.Owner()))
	}
	return account.Decode(info.Data(), rec)
}

func store(ic *runtime.InvokeContext, info *runtime.AccountInfo, rec account.Record) error {
	return ic.SetData(info, account.Encode(rec))
}

// create allocates rec at target, rent paid by payer.
func create(ic *runtime.InvokeContext, payer, target *runtime.AccountInfo, owner address.Address, rec account.Record) error {
	if err := ic.CreateAccount(payer, target, rec.Space(), owner); err != nil {
		return err
	}
	return store(ic, target, rec)
}

func requireAddress(info *runtime.AccountInfo, want address.Address, what string) error {
	if info.Address != want {
		return apperrors.WithMetadata(apperrors.CodeConstraintSeeds,
			fmt.Sprintf("%s: got %s, want %s", what, info.Address, want),
			map[string]string{"Account": what})
	}
	return nil
}

// requireTaskAddress checks that info sits at the address derived from the
// task's own creator, id and bump.
func requireTaskAddress(info *runtime.AccountInfo, task *account.Task) error {
	want, err := address.CreateProgramAddress(taskSeedsWithBump(task), instruction.EscrowProgramID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConstraintSeeds, "task", err)
	}
	return requireAddress(info, want, "task")
}

func taskSeedsWithBump(task *account.Task) [][]byte {
	return append(account.TaskSeeds(task.Creator, task.TaskID), []byte{task.Bump})
}

func loadTask(info *runtime.AccountInfo) (*account.Task, error) {
	task := &account.Task{}
	if err := load(info, instruction.EscrowProgramID, task); err != nil {
		return nil, err
	}
	if err := requireTaskAddress(info, task); err != nil {
		return nil, err
	}
	return task, nil
}

func loadAdmin(info *runtime.AccountInfo) (*account.AdminRegistry, error) {
	want, _ := account.AdminAddress(instruction.EscrowProgramID)
	if err := requireAddress(info, want, "admin"); err != nil {
		return nil, err
	}
	admin := &account.AdminRegistry{}
	if err := load(info, instruction.EscrowProgramID, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

func requireAdmin(admin *account.AdminRegistry, signer *runtime.AccountInfo) error {
	if !signer.IsSigner || signer.Address != admin.Authority {
		return apperrors.New(apperrors.CodeUnauthorized, fmt.Sprintf("%s is not the admin authority", signer.Address))
	}
	return nil
}

func requireCreator(task *account.Task, signer *runtime.AccountInfo) error {
	if !signer.IsSigner || signer.Address != task.Creator {
		return apperrors.New(apperrors.CodeUnauthorized, fmt.Sprintf("%s is not the task creator", signer.Address))
	}
	return nil
}

func validateContentReference(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return apperrors.New(apperrors.CodeInvalidCid, "content reference is empty")
	}
	if len(ref) > account.MaxContentReference {
		return apperrors.WithMetadata(apperrors.CodeInputTooLarge,
			fmt.Sprintf("content reference is %d bytes", len(ref)),
			map[string]string{"Max": fmt.Sprint(account.MaxContentReference)})
	}
	return nil
}
