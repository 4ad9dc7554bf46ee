package program

import (
	"bytes"
	"fmt"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

// delegateTaskAccount freezes the task on this ledger and hands its
// write authority to session_authority. The task keeps its address; its
// owner becomes the delegation identity until reconciliation.
// Accounts: task, buffer, delegation_record, delegation_metadata, creator,
// session_authority, system_program.
func (p *Program) delegateTaskAccount(ic *runtime.InvokeContext, a accounts, taskID uint64) error {
	taskInfo, bufferInfo, recordInfo, metadataInfo, creator, session := a[0], a[1], a[2], a[3], a[4], a[5]
	want, _ := account.TaskAddress(instruction.EscrowProgramID, creator.Address, taskID)
	if err := requireAddress(taskInfo, want, "task"); err != nil {
		return err
	}
	if taskInfo.Owner() == instruction.DelegationProgramID {
		return apperrors.New(apperrors.CodeTaskAlreadyDelegated, taskInfo.Address.String())
	}
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, creator); err != nil {
		return err
	}
	if task.Delegation != account.Local {
		return apperrors.New(apperrors.CodeTaskAlreadyDelegated, taskInfo.Address.String())
	}

	bufferAddr, _ := account.BufferAddress(instruction.DelegationProgramID, taskInfo.Address)
	recordAddr, recordBump := account.DelegationAddress(instruction.DelegationProgramID, taskInfo.Address)
	metadataAddr, metadataBump := account.DelegationMetadataAddress(instruction.DelegationProgramID, taskInfo.Address)
	for _, check := range []struct {
		info *runtime.AccountInfo
		want address.Address
		what string
	}{
		{bufferInfo, bufferAddr, "buffer"},
		{recordInfo, recordAddr, "delegation_record"},
		{metadataInfo, metadataAddr, "delegation_metadata"},
	} {
		if err := requireAddress(check.info, check.want, check.what); err != nil {
			return err
		}
	}

	task.Delegation = account.Delegated
	buffer := &account.DelegationBuffer{Snapshot: *task}
	record := &account.DelegationRecord{
		Authority:      session.Address,
		OwnerProgram:   instruction.EscrowProgramID,
		DelegationSlot: ic.Slot(),
		DelegatedAt:    ic.Now().Unix(),
		Bump:           recordBump,
	}
	metadata := &account.DelegationMetadata{
		Seeds:     taskSeedsWithBump(task),
		RentPayer: creator.Address,
		Bump:      metadataBump,
	}
	if err := create(ic, creator, bufferInfo, instruction.DelegationProgramID, buffer); err != nil {
		return err
	}
	if err := create(ic, creator, recordInfo, instruction.DelegationProgramID, record); err != nil {
		return err
	}
	if err := create(ic, creator, metadataInfo, instruction.DelegationProgramID, metadata); err != nil {
		return err
	}
	if err := store(ic, taskInfo, task); err != nil {
		return err
	}
	if err := ic.Assign(taskInfo, instruction.DelegationProgramID); err != nil {
		return err
	}
	ic.Logf("Task %s delegated to %s at slot %d", taskInfo.Address, session.Address, record.DelegationSlot)
	return nil
}

// undelegateTaskAccount runs on the session ledger. It changes nothing; it
// schedules the task so the session coordinator commits it back.
// Accounts: creator, task.
func (p *Program) undelegateTaskAccount(ic *runtime.InvokeContext, a accounts) error {
	creator, taskInfo := a[0], a[1]
	task, err := loadTask(taskInfo)
	if err != nil {
		return err
	}
	if err := requireCreator(task, creator); err != nil {
		return err
	}
	if task.Delegation != account.Delegated {
		return apperrors.New(apperrors.CodeTaskNotDelegated, taskInfo.Address.String())
	}
	ic.ScheduleUndelegation(taskInfo.Address)
	ic.Logf("Task %s scheduled for undelegation", taskInfo.Address)
	return nil
}

// loadRecord checks the derived delegation addresses of taskInfo and loads
// the record. A missing record means the task is not delegated.
func loadRecord(taskInfo, recordInfo *runtime.AccountInfo) (*account.DelegationRecord, error) {
	want, _ := account.DelegationAddress(instruction.DelegationProgramID, taskInfo.Address)
	if err := requireAddress(recordInfo, want, "delegation_record"); err != nil {
		return nil, err
	}
	if uninitialized(recordInfo) || taskInfo.Owner() != instruction.DelegationProgramID {
		return nil, apperrors.New(apperrors.CodeTaskNotDelegated, taskInfo.Address.String())
	}
	record := &account.DelegationRecord{}
	if err := load(recordInfo, instruction.DelegationProgramID, record); err != nil {
		return nil, err
	}
	return record, nil
}

func loadBuffer(taskInfo, bufferInfo *runtime.AccountInfo) (*account.DelegationBuffer, error) {
	want, _ := account.BufferAddress(instruction.DelegationProgramID, taskInfo.Address)
	if err := requireAddress(bufferInfo, want, "buffer"); err != nil {
		return nil, err
	}
	buffer := &account.DelegationBuffer{}
	if err := load(bufferInfo, instruction.DelegationProgramID, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func requireSessionAuthority(record *account.DelegationRecord, signer *runtime.AccountInfo) error {
	if !signer.IsSigner || signer.Address != record.Authority {
		return apperrors.New(apperrors.CodeUnauthorized, fmt.Sprintf("%s is not the session authority", signer.Address))
	}
	return nil
}

// commitDelegatedState writes the session's final task and new responses
// into the buffer, stamped with the delegation slot the session observed.
// Accounts: buffer, delegation_record, task, authority, system_program.
func (p *Program) commitDelegatedState(ic *runtime.InvokeContext, a accounts, args *instruction.CommitDelegatedStateArgs) error {
	bufferInfo, recordInfo, taskInfo, authority := a[0], a[1], a[2], a[3]
	record, err := loadRecord(taskInfo, recordInfo)
	if err != nil {
		return err
	}
	if err := requireSessionAuthority(record, authority); err != nil {
		return err
	}
	buffer, err := loadBuffer(taskInfo, bufferInfo)
	if err != nil {
		return err
	}

	committed := account.Task{}
	if err := account.Decode(args.Task, &committed); err != nil {
		return apperrors.Wrap(apperrors.CodeReconcileInvariantViolated, "committed task", err)
	}
	responses := make([]account.Response, len(args.Responses))
	for i, raw := range args.Responses {
		if err := account.Decode(raw, &responses[i]); err != nil {
			return apperrors.Wrap(apperrors.CodeReconcileInvariantViolated, fmt.Sprintf("committed response %d", i), err)
		}
	}

	buffer.Committed = true
	buffer.CommitSlot = args.DelegationSlot
	buffer.Task = committed
	buffer.Responses = responses
	if err := ic.Realloc(bufferInfo, authority, buffer.Space()); err != nil {
		return err
	}
	if err := store(ic, bufferInfo, buffer); err != nil {
		return err
	}
	ic.Logf("Committed %d responses for %s at slot %d", len(responses), taskInfo.Address, args.DelegationSlot)
	return nil
}

// processUndelegation reconciles a committed buffer into the base task. It
// succeeds at most once per delegation: it closes the record, so a replay
// finds nothing delegated.
// Accounts: task, buffer, delegation_record, delegation_metadata, authority,
// rent_payer, system_program, then one response account per committed
// response in buffer order.
func (p *Program) processUndelegation(ic *runtime.InvokeContext, a accounts, seeds [][]byte) error {
	taskInfo, bufferInfo, recordInfo, metadataInfo, authority, rentPayer := a[0], a[1], a[2], a[3], a[4], a[5]
	responseInfos := a[7:]

	record, err := loadRecord(taskInfo, recordInfo)
	if err != nil {
		return err
	}
	if err := requireSessionAuthority(record, authority); err != nil {
		return err
	}
	metadataAddr, _ := account.DelegationMetadataAddress(instruction.DelegationProgramID, taskInfo.Address)
	if err := requireAddress(metadataInfo, metadataAddr, "delegation_metadata"); err != nil {
		return err
	}
	metadata := &account.DelegationMetadata{}
	if err := load(metadataInfo, instruction.DelegationProgramID, metadata); err != nil {
		return err
	}
	if err := checkSeeds(taskInfo.Address, seeds, metadata.Seeds); err != nil {
		return err
	}
	if rentPayer.Address != metadata.RentPayer {
		return apperrors.New(apperrors.CodeConstraintHasOne, "rent payer does not match the delegation")
	}
	buffer, err := loadBuffer(taskInfo, bufferInfo)
	if err != nil {
		return err
	}
	if !buffer.Committed || buffer.CommitSlot != record.DelegationSlot {
		return apperrors.WithMetadata(apperrors.CodeStaleCommit,
			fmt.Sprintf("commit slot %d, delegation slot %d", buffer.CommitSlot, record.DelegationSlot),
			map[string]string{"Slot": fmt.Sprint(record.DelegationSlot)})
	}

	base := &account.Task{}
	if err := account.Decode(taskInfo.Data(), base); err != nil {
		return err
	}
	committed := buffer.Task
	if err := checkCommittedTask(base, &committed, len(buffer.Responses)); err != nil {
		return err
	}
	if len(responseInfos) != len(buffer.Responses) {
		return violation("%d response accounts for %d committed responses", len(responseInfos), len(buffer.Responses))
	}
	seen := make(map[address.Address]bool, len(responseInfos))
	for i := range buffer.Responses {
		if seen[responseInfos[i].Address] {
			return violation("response account %s listed twice", responseInfos[i].Address)
		}
		seen[responseInfos[i].Address] = true
		bump, err := checkCommittedResponse(taskInfo.Address, base, &buffer.Responses[i], responseInfos[i])
		if err != nil {
			return err
		}
		buffer.Responses[i].Bump = bump
	}

	// Hand the task back before rewriting it.
	committed.Delegation = account.Local
	if err := ic.Assign(taskInfo, instruction.EscrowProgramID); err != nil {
		return err
	}
	if err := store(ic, taskInfo, &committed); err != nil {
		return err
	}
	for i := range buffer.Responses {
		if err := create(ic, authority, responseInfos[i], instruction.EscrowProgramID, &buffer.Responses[i]); err != nil {
			return err
		}
	}
	// The authority funded the buffer's growth at commit. The rent payer only
	// gets back what it paid at delegation.
	delegationRent := ic.Rent().Minimum(account.BufferSpace(0))
	if held := bufferInfo.Lamports(); held > delegationRent {
		if err := ic.Transfer(bufferInfo, authority, held-delegationRent); err != nil {
			return err
		}
	}
	for _, info := range []*runtime.AccountInfo{bufferInfo, recordInfo, metadataInfo} {
		if err := ic.Close(info, rentPayer); err != nil {
			return err
		}
	}
	ic.Logf("Task %s reconciled: %d new responses", taskInfo.Address, len(buffer.Responses))
	return nil
}

// checkSeeds requires seeds to rederive the task address and to equal the
// seeds recorded at delegation.
func checkSeeds(task address.Address, seeds, recorded [][]byte) error {
	derived, err := address.CreateProgramAddress(seeds, instruction.EscrowProgramID)
	if err != nil || derived != task {
		return apperrors.New(apperrors.CodeInvalidReconcileSeeds, "seeds do not derive the task address")
	}
	if len(seeds) != len(recorded) {
		return apperrors.New(apperrors.CodeInvalidReconcileSeeds, "seeds differ from the recorded seeds")
	}
	for i := range seeds {
		if !bytes.Equal(seeds[i], recorded[i]) {
			return apperrors.New(apperrors.CodeInvalidReconcileSeeds, "seeds differ from the recorded seeds")
		}
	}
	return nil
}

func violation(format string, args ...any) error {
	return apperrors.New(apperrors.CodeReconcileInvariantViolated, fmt.Sprintf(format, args...))
}

// checkCommittedTask holds the session's task to the same rules the
// lifecycle enforces locally.
func checkCommittedTask(base, committed *account.Task, newResponses int) error {
	switch {
	case committed.TaskID != base.TaskID,
		committed.Creator != base.Creator,
		committed.RewardPerResponse != base.RewardPerResponse,
		committed.MaxResponses != base.MaxResponses,
		committed.Deadline != base.Deadline,
		committed.Bump != base.Bump,
		committed.ContentReference != base.ContentReference:
		return violation("committed task changed an immutable field")
	case committed.ResponsesReceived < base.ResponsesReceived:
		return violation("responses received went from %d to %d", base.ResponsesReceived, committed.ResponsesReceived)
	case committed.ResponsesReceived > committed.MaxResponses:
		return violation("responses received %d exceeds max %d", committed.ResponsesReceived, committed.MaxResponses)
	case base.IsComplete && !committed.IsComplete:
		return violation("committed task reopened")
	case committed.IsFull() && !committed.IsComplete:
		return violation("full task is not complete")
	case int(committed.ResponsesReceived-base.ResponsesReceived) != newResponses:
		return violation("%d new responses counted, %d committed", committed.ResponsesReceived-base.ResponsesReceived, newResponses)
	}
	return nil
}

// checkCommittedResponse returns the derived bump of a committed response
// after checking it belongs at info and does not exist yet.
func checkCommittedResponse(task address.Address, base *account.Task, response *account.Response, info *runtime.AccountInfo) (uint8, error) {
	want, bump := account.ResponseAddress(instruction.EscrowProgramID, task, response.Responder)
	if info.Address != want {
		return 0, violation("response of %s belongs at %s, got %s", response.Responder, want, info.Address)
	}
	if !uninitialized(info) {
		return 0, violation("response of %s already exists", response.Responder)
	}
	if response.TaskBump != base.Bump || response.IsPaid {
		return 0, violation("response of %s is inconsistent", response.Responder)
	}
	// Only the base admin verifies.
	if response.IsVerified {
		return 0, violation("response of %s arrived verified", response.Responder)
	}
	if response.Timestamp >= base.Deadline {
		return 0, violation("response of %s at %d is past the deadline %d", response.Responder, response.Timestamp, base.Deadline)
	}
	if err := validateContentReference(response.ContentReference); err != nil {
		return 0, violation("response of %s: %v", response.Responder, err)
	}
	return bump, nil
}
