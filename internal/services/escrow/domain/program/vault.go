package program

import (
	"fmt"
	"math/bits"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

func loadVault(taskInfo, vaultInfo *runtime.AccountInfo) (*account.RewardVault, error) {
	want, _ := account.VaultAddress(instruction.EscrowProgramID, taskInfo.Address)
	if err := requireAddress(vaultInfo, want, "vault"); err != nil {
		return nil, err
	}
	vault := &account.RewardVault{}
	if err := load(vaultInfo, instruction.EscrowProgramID, vault); err != nil {
		return nil, err
	}
	return vault, nil
}

// depositFunds moves amount from the creator: the fee to the admin
// authority, the rest into the task's vault. The vault is created on the
// first deposit.
// Accounts: task, vault, admin, admin_authority, creator, system_program.
func (p *Program) depositFunds(ic *runtime.InvokeContext, a accounts, args *instruction.DepositFundsArgs) error {
	taskInfo, vaultInfo, adminInfo, feeRecipient, creator := a[0], a[1], a[2], a[3], a[4]
	if args.Amount == 0 {
		return apperrors.New(apperrors.CodeInvalidDepositAmount, "deposit amount is zero")
	}
	want, _ := account.TaskAddress(instruction.EscrowProgramID, creator.Address, args.TaskID)
	if err := requireAddress(taskInfo, want, "task"); err != nil {
		return err
	}
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, creator); err != nil {
		return err
	}
	admin, err := loadAdmin(adminInfo)
	if err != nil {
		return err
	}
	if feeRecipient.Address != admin.Authority {
		return apperrors.New(apperrors.CodeConstraintHasOne,
			fmt.Sprintf("fee recipient %s is not the admin authority", feeRecipient.Address))
	}

	vaultAddr, vaultBump := account.VaultAddress(instruction.EscrowProgramID, taskInfo.Address)
	if err := requireAddress(vaultInfo, vaultAddr, "vault"); err != nil {
		return err
	}
	net, charged, err := p.cfg.Fee.Split(args.Amount)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidDepositAmount, "fee policy", err)
	}

	var vault *account.RewardVault
	if uninitialized(vaultInfo) {
		vault = &account.RewardVault{TaskBump: task.Bump, Bump: vaultBump}
		if err := create(ic, creator, vaultInfo, instruction.EscrowProgramID, vault); err != nil {
			return err
		}
	} else if vault, err = loadVault(taskInfo, vaultInfo); err != nil {
		return err
	}

	balance, carry := bits.Add64(vault.Balance, net, 0)
	if carry != 0 {
		return apperrors.New(apperrors.CodeTransferFailed, "vault balance overflows")
	}
	if err := ic.Transfer(creator, vaultInfo, net); err != nil {
		return err
	}
	if err := ic.Transfer(creator, feeRecipient, charged); err != nil {
		return err
	}
	vault.Balance = balance
	if err := store(ic, vaultInfo, vault); err != nil {
		return err
	}
	ic.Logf("Deposited %d lamports (fee %d) into %s", net, charged, vaultInfo.Address)
	return nil
}

// disburseRewards pays a verified responder of a completed task from its
// vault, at most once and at most the task's reward per response.
// Accounts: admin, task, vault, response, recipient, authority.
func (p *Program) disburseRewards(ic *runtime.InvokeContext, a accounts, amount uint64) error {
	adminInfo, taskInfo, vaultInfo, responseInfo, recipient, authority := a[0], a[1], a[2], a[3], a[4], a[5]
	admin, err := loadAdmin(adminInfo)
	if err != nil {
		return err
	}
	if err := requireAdmin(admin, authority); err != nil {
		return err
	}
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	vault, err := loadVault(taskInfo, vaultInfo)
	if err != nil {
		return err
	}
	want, _ := account.ResponseAddress(instruction.EscrowProgramID, taskInfo.Address, recipient.Address)
	if err := requireAddress(responseInfo, want, "response"); err != nil {
		return err
	}
	response := &account.Response{}
	if err := load(responseInfo, instruction.EscrowProgramID, response); err != nil {
		return err
	}
	if response.Responder != recipient.Address {
		return apperrors.New(apperrors.CodeConstraintHasOne, "recipient is not the responder")
	}

	if !response.IsVerified {
		return apperrors.New(apperrors.CodeUnauthorized, "response is not verified")
	}
	if !task.IsComplete {
		return apperrors.New(apperrors.CodeTaskNotComplete, taskInfo.Address.String())
	}
	if amount == 0 {
		return apperrors.New(apperrors.CodeInvalidDisbursementAmount, "disbursement amount is zero")
	}
	if amount > vault.Balance {
		return apperrors.New(apperrors.CodeInsufficientVaultBalance,
			fmt.Sprintf("balance %d, requested %d", vault.Balance, amount))
	}
	if amount > task.RewardPerResponse {
		return apperrors.New(apperrors.CodeRewardExceedsAllocation,
			fmt.Sprintf("%d exceeds reward per response %d", amount, task.RewardPerResponse))
	}
	if response.IsPaid {
		return apperrors.New(apperrors.CodeRewardAlreadyPaid, responseInfo.Address.String())
	}

	if err := ic.Transfer(vaultInfo, recipient, amount); err != nil {
		return err
	}
	vault.Balance -= amount
	response.IsPaid = true
	if err := store(ic, vaultInfo, vault); err != nil {
		return err
	}
	if err := store(ic, responseInfo, response); err != nil {
		return err
	}
	ic.Logf("Disbursed %d lamports to %s", amount, recipient.Address)
	return nil
}
