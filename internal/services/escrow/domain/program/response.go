package program

import (
	"fmt"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

// submitResponse records one response per responder and auto-completes the
// task when it fills.
// Accounts: task, response, responder, system_program.
func (p *Program) submitResponse(ic *runtime.InvokeContext, a accounts, contentReference string) error {
	taskInfo, responseInfo, responder := a[0], a[1], a[2]
	if err := validateContentReference(contentReference); err != nil {
		return err
	}
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	now := ic.Now().Unix()
	if now >= task.Deadline {
		return apperrors.New(apperrors.CodeDeadlinePassed, fmt.Sprintf("deadline %d, now %d", task.Deadline, now))
	}
	if task.IsFull() {
		return apperrors.New(apperrors.CodeMaxResponsesReached, fmt.Sprintf("%d of %d", task.ResponsesReceived, task.MaxResponses))
	}
	if task.IsComplete {
		return apperrors.New(apperrors.CodeTaskAlreadyComplete, taskInfo.Address.String())
	}
	want, bump := account.ResponseAddress(instruction.EscrowProgramID, taskInfo.Address, responder.Address)
	if err := requireAddress(responseInfo, want, "response"); err != nil {
		return err
	}
	if !uninitialized(responseInfo) {
		return apperrors.New(apperrors.CodeResponseAlreadyExists, fmt.Sprintf("%s already responded", responder.Address))
	}

	response := &account.Response{
		TaskBump:         task.Bump,
		Responder:        responder.Address,
		Timestamp:        now,
		Bump:             bump,
		ContentReference: contentReference,
	}
	if err := create(ic, responder, responseInfo, instruction.EscrowProgramID, response); err != nil {
		return err
	}
	task.ResponsesReceived++
	if task.IsFull() {
		task.IsComplete = true
		ic.Logf("Task %s reached %d responses", taskInfo.Address, task.MaxResponses)
	}
	return store(ic, taskInfo, task)
}

// verifyResponse marks a response verified. Verifying twice is a no-op.
// Accounts: admin, response, task, authority.
func (p *Program) verifyResponse(ic *runtime.InvokeContext, a accounts) error {
	adminInfo, responseInfo, taskInfo, authority := a[0], a[1], a[2], a[3]
	admin, err := loadAdmin(adminInfo)
	if err != nil {
		return err
	}
	if err := requireAdmin(admin, authority); err != nil {
		return err
	}
	response := &account.Response{}
	if err := load(responseInfo, instruction.EscrowProgramID, response); err != nil {
		return err
	}
	want, err := responseAddress(taskInfo, response)
	if err != nil {
		return err
	}
	if err := requireAddress(responseInfo, want, "response"); err != nil {
		return err
	}
	if response.IsVerified {
		return nil
	}
	response.IsVerified = true
	return store(ic, responseInfo, response)
}

// responseAddress rederives a response's address from its recorded bump.
func responseAddress(taskInfo *runtime.AccountInfo, response *account.Response) (address.Address, error) {
	seeds := append(account.ResponseSeeds(taskInfo.Address, response.Responder), []byte{response.Bump})
	addr, err := address.CreateProgramAddress(seeds, instruction.EscrowProgramID)
	if err != nil {
		return address.Address{}, apperrors.Wrap(apperrors.CodeConstraintSeeds, "response", err)
	}
	return addr, nil
}
