package program

import (
	"fmt"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

// validateTaskFields applies the checks shared by createTask and updateTask,
// in error precedence order.
func validateTaskFields(f instruction.TaskFields, now int64) error {
	if f.TaskID == 0 {
		return apperrors.New(apperrors.CodeInvalidTaskID, "task id is zero")
	}
	if f.RewardPerResponse == 0 {
		return apperrors.New(apperrors.CodeInvalidReward, "reward per response is zero")
	}
	if f.MaxResponses == 0 {
		return apperrors.New(apperrors.CodeInvalidMaxResponses, "max responses is zero")
	}
	if f.Deadline <= now {
		return apperrors.New(apperrors.CodeInvalidDeadline, fmt.Sprintf("deadline %d is not after %d", f.Deadline, now))
	}
	return validateContentReference(f.ContentReference)
}

// createTask opens a task at the address derived from (creator, task_id).
// Accounts: task, creator, system_program.
func (p *Program) createTask(ic *runtime.InvokeContext, a accounts, f instruction.TaskFields) error {
	taskInfo, creator := a[0], a[1]
	if err := validateTaskFields(f, ic.Now().Unix()); err != nil {
		return err
	}
	want, bump := account.TaskAddress(instruction.EscrowProgramID, creator.Address, f.TaskID)
	if err := requireAddress(taskInfo, want, "task"); err != nil {
		return err
	}
	if !uninitialized(taskInfo) {
		return apperrors.New(apperrors.CodeAlreadyExists, fmt.Sprintf("task %d of %s", f.TaskID, creator.Address))
	}

	task := &account.Task{
		TaskID:            f.TaskID,
		Creator:           creator.Address,
		RewardPerResponse: f.RewardPerResponse,
		MaxResponses:      f.MaxResponses,
		Deadline:          f.Deadline,
		Delegation:        account.Local,
		Bump:              bump,
		ContentReference:  f.ContentReference,
	}
	if err := create(ic, creator, taskInfo, instruction.EscrowProgramID, task); err != nil {
		return err
	}
	ic.Logf("Task created successfully %s", taskInfo.Address)
	return nil
}

// updateTask rewrites an open task's terms.
// Accounts: task, creator.
func (p *Program) updateTask(ic *runtime.InvokeContext, a accounts, f instruction.TaskFields) error {
	taskInfo, creator := a[0], a[1]
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, creator); err != nil {
		return err
	}
	if f.TaskID != task.TaskID {
		return apperrors.New(apperrors.CodeInvalidTaskID, fmt.Sprintf("task id %d, account holds %d", f.TaskID, task.TaskID))
	}
	if err := validateTaskFields(f, ic.Now().Unix()); err != nil {
		return err
	}
	if task.IsComplete {
		return apperrors.New(apperrors.CodeTaskAlreadyComplete, taskInfo.Address.String())
	}
	if f.MaxResponses < task.ResponsesReceived {
		return apperrors.New(apperrors.CodeInvalidMaxResponses,
			fmt.Sprintf("max responses %d below %d received", f.MaxResponses, task.ResponsesReceived))
	}

	task.RewardPerResponse = f.RewardPerResponse
	task.MaxResponses = f.MaxResponses
	task.Deadline = f.Deadline
	task.ContentReference = f.ContentReference
	if task.IsFull() {
		task.IsComplete = true
	}
	return store(ic, taskInfo, task)
}

// markTaskComplete closes a task to responses. The creator or, on the base
// ledger, the admin authority may call it.
// Accounts: task, admin, signer.
func (p *Program) markTaskComplete(ic *runtime.InvokeContext, a accounts) error {
	taskInfo, adminInfo, signer := a[0], a[1], a[2]
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, signer); err != nil {
		if p.cfg.Session {
			return err
		}
		want, _ := account.AdminAddress(instruction.EscrowProgramID)
		if adminInfo.Address != want || uninitialized(adminInfo) {
			return err
		}
		admin, loadErr := loadAdmin(adminInfo)
		if loadErr != nil {
			return loadErr
		}
		if err := requireAdmin(admin, signer); err != nil {
			return err
		}
	}
	if task.IsComplete {
		return apperrors.New(apperrors.CodeTaskAlreadyComplete, taskInfo.Address.String())
	}
	if task.ResponsesReceived < p.cfg.MinResponsesToComplete {
		return apperrors.WithMetadata(apperrors.CodeNotEnoughResponses,
			fmt.Sprintf("%d of %d responses", task.ResponsesReceived, p.cfg.MinResponsesToComplete),
			map[string]string{"Min": fmt.Sprint(p.cfg.MinResponsesToComplete)})
	}
	task.IsComplete = true
	return store(ic, taskInfo, task)
}

// refundRemaining returns the vault's accounted balance to the creator and
// completes the task. The empty vault stays open.
// Accounts: task, vault, creator.
func (p *Program) refundRemaining(ic *runtime.InvokeContext, a accounts) error {
	taskInfo, vaultInfo, creator := a[0], a[1], a[2]
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, creator); err != nil {
		return err
	}
	if task.IsComplete {
		return apperrors.New(apperrors.CodeTaskAlreadyComplete, taskInfo.Address.String())
	}
	vault, err := loadVault(taskInfo, vaultInfo)
	if err != nil {
		return err
	}

	refund := vault.Balance
	if err := ic.Transfer(vaultInfo, creator, refund); err != nil {
		return err
	}
	vault.Balance = 0
	if err := store(ic, vaultInfo, vault); err != nil {
		return err
	}
	task.IsComplete = true
	if err := store(ic, taskInfo, task); err != nil {
		return err
	}
	ic.Logf("Refunded %d lamports to %s", refund, creator.Address)
	return nil
}

// cancelTask closes the task and its vault, returning every lamport to the
// creator.
// Accounts: task, vault, creator.
func (p *Program) cancelTask(ic *runtime.InvokeContext, a accounts) error {
	taskInfo, vaultInfo, creator := a[0], a[1], a[2]
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, creator); err != nil {
		return err
	}
	if task.IsComplete {
		return apperrors.New(apperrors.CodeTaskAlreadyComplete, taskInfo.Address.String())
	}
	want, _ := account.VaultAddress(instruction.EscrowProgramID, taskInfo.Address)
	if err := requireAddress(vaultInfo, want, "vault"); err != nil {
		return err
	}
	if !uninitialized(vaultInfo) {
		if _, err := loadVault(taskInfo, vaultInfo); err != nil {
			return err
		}
		if err := ic.Close(vaultInfo, creator); err != nil {
			return err
		}
	}
	if err := ic.Close(taskInfo, creator); err != nil {
		return err
	}
	ic.Logf("Task cancelled %s", taskInfo.Address)
	return nil
}
