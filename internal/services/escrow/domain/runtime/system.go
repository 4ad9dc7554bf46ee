package runtime

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
)

// SystemProgram moves lamports between wallets it owns.
type SystemProgram struct{}

func (SystemProgram) ID() address.Address { return instruction.SystemProgramID }

func (SystemProgram) Controls(owner address.Address) bool { return owner == instruction.SystemProgramID }

// Process handles the transfer instruction: [from (writable, signer), to (writable)].
func (SystemProgram) Process(ic *InvokeContext, data []byte) error {
	if len(data) < 4 {
		return apperrors.New(apperrors.CodeInstructionMissing, "system instruction")
	}
	tag := binary.LittleEndian.Uint32(data)
	if tag != instruction.SystemTransferTag {
		return apperrors.New(apperrors.CodeInstructionFallbackNotFound, fmt.Sprintf("system instruction %d", tag))
	}
	if len(data) != 12 {
		return apperrors.New(apperrors.CodeInstructionDidNotDeserialize, "system transfer")
	}
	lamports := binary.LittleEndian.Uint64(data[4:])

	from, err := ic.Account(0)
	if err != nil {
		return err
	}
	to, err := ic.Account(1)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		return apperrors.New(apperrors.CodeAccountNotSigner, from.Address.String())
	}
	if len(from.Data()) != 0 {
		return apperrors.New(apperrors.CodeAccountOwnedByWrongProgram, "transfer from an account with data")
	}
	return ic.Transfer(from, to, lamports)
}
