package program

import (
	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
)

// initAdmin binds the signer as the one admin authority.
// Accounts: admin, authority, system_program.
func (p *Program) initAdmin(ic *runtime.InvokeContext, a accounts) error {
	adminInfo, authority := a[0], a[1]
	want, bump := account.AdminAddress(instruction.EscrowProgramID)
	if err := requireAddress(adminInfo, want, "admin"); err != nil {
		return err
	}
	if !uninitialized(adminInfo) {
		return apperrors.New(apperrors.CodeAlreadyExists, "admin registry")
	}
	admin := &account.AdminRegistry{Authority: authority.Address, Bump: bump}
	if err := create(ic, authority, adminInfo, instruction.EscrowProgramID, admin); err != nil {
		return err
	}
	ic.Logf("Admin initialized: %s", authority.Address)
	return nil
}
